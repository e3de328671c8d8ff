package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/jmxtrans/jmxtrans-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewMetricsService(t *testing.T) {
	memStorage := repository.NewMemStorage()
	service := NewMetricsService(memStorage)
	assert.NotNil(t, service)
	assert.Equal(t, memStorage, service.repository)
	assert.True(t, service.IsMemStorage())
}

func TestMetricsService_SetAndGet(t *testing.T) {
	service := NewMetricsService(repository.NewMemStorage())
	ctx := context.Background()

	err := service.SetMetrics(ctx, []models.Metric{
		{Name: "app.Memory.HeapMemoryUsage.used", Type: models.Gauge, Value: 1.5, Timestamp: 10, Server: "app"},
		{Name: "app.Runtime.VmName", Type: models.Text, Value: "OpenJDK"},
	})
	require.NoError(t, err)

	m, err := service.GetMetric(ctx, "app.Memory.HeapMemoryUsage.used")
	require.NoError(t, err)
	assert.Equal(t, 1.5, m.Value)

	dto, err := service.GetMetricDTO(ctx, "app.Runtime.VmName")
	require.NoError(t, err)
	require.NotNil(t, dto.Text)
	assert.Equal(t, "OpenJDK", *dto.Text)
	assert.Nil(t, dto.Value)

	_, err = service.GetMetricDTO(ctx, "missing")
	assert.ErrorIs(t, err, internalerrors.ErrMetricNotFound)

	require.NoError(t, service.DeleteMetric(ctx, "app.Runtime.VmName"))
	metrics, err := service.ListMetrics(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics, 1)
	assert.NoError(t, service.Ping(ctx))
}

func TestMetricsService_SaveAndRestore(t *testing.T) {
	ctx := context.Background()
	fname := filepath.Join(t.TempDir(), "metrics.json")

	source := NewMetricsService(repository.NewMemStorage())
	require.NoError(t, source.SetMetrics(ctx, []models.Metric{
		{Name: "a", Type: models.Gauge, Value: 3.0, Timestamp: 1, Server: "s"},
		{Name: "b", Type: models.Text, Value: "x", Timestamp: 2, Server: "s"},
	}))
	require.NoError(t, source.SaveMetrics(ctx, fname))

	target := NewMetricsService(repository.NewMemStorage())
	require.NoError(t, target.RestoreMetrics(ctx, fname, zap.NewNop().Sugar()))

	want, err := source.ListMetrics(ctx)
	require.NoError(t, err)
	got, err := target.ListMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMetricsService_RestoreMissingOrBroken(t *testing.T) {
	ctx := context.Background()
	service := NewMetricsService(repository.NewMemStorage())
	logger := zap.NewNop().Sugar()

	assert.NoError(t, service.RestoreMetrics(ctx, filepath.Join(t.TempDir(), "none.json"), logger))

	broken := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o600))
	assert.Error(t, service.RestoreMetrics(ctx, broken, logger))
}
