package repository

import (
	"context"
	"testing"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemStorage(t *testing.T) {
	storage := NewMemStorage()
	assert.NotNil(t, storage)
	assert.NotNil(t, storage.gauges)
	assert.NotNil(t, storage.texts)
	assert.NotNil(t, storage.meta)
}

func TestMemStorage_SetAndGetMetric(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	err := storage.SetMetrics(ctx, []models.Metric{
		{Name: "heap.used", Type: models.Gauge, Value: 42.5, Timestamp: 1000, Server: "app"},
		{Name: "vm.name", Type: models.Text, Value: "OpenJDK", Timestamp: 1000, Server: "app"},
	})
	require.NoError(t, err)

	m, err := storage.GetMetric(ctx, "heap.used")
	require.NoError(t, err)
	assert.Equal(t, models.Metric{Name: "heap.used", Type: models.Gauge, Value: 42.5, Timestamp: 1000, Server: "app"}, m)

	m, err = storage.GetMetric(ctx, "vm.name")
	require.NoError(t, err)
	assert.Equal(t, "OpenJDK", m.Value)

	_, err = storage.GetMetric(ctx, "nonExistent")
	assert.ErrorIs(t, err, internalerrors.ErrMetricNotFound)
}

func TestMemStorage_Overwrite(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	require.NoError(t, storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: models.Gauge, Value: 1.0}}))
	require.NoError(t, storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: models.Gauge, Value: 2.0}}))

	m, err := storage.GetMetric(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Value)

	// a key may change type between collections
	require.NoError(t, storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: models.Text, Value: "n/a"}}))
	m, err = storage.GetMetric(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.Text, m.Type)
	assert.Equal(t, "n/a", m.Value)
	assert.NotContains(t, storage.gauges, "a")
}

func TestMemStorage_InvalidValues(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	err := storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: models.Gauge, Value: "1"}})
	assert.Error(t, err)

	err = storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: models.Text, Value: 1.0}})
	assert.Error(t, err)

	err = storage.SetMetrics(ctx, []models.Metric{{Name: "a", Type: "counter", Value: 1.0}})
	assert.ErrorIs(t, err, internalerrors.ErrUnknownMetricType)
}

func TestMemStorage_ListAndDelete(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	require.NoError(t, storage.SetMetrics(ctx, []models.Metric{
		{Name: "b", Type: models.Gauge, Value: 2.0},
		{Name: "c", Type: models.Text, Value: "x"},
		{Name: "a", Type: models.Gauge, Value: 1.0},
	}))

	metrics, err := storage.ListMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, "a", metrics[0].Name)
	assert.Equal(t, "b", metrics[1].Name)
	assert.Equal(t, "c", metrics[2].Name)

	require.NoError(t, storage.DeleteMetric(ctx, "b"))
	metrics, err = storage.ListMetrics(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics, 2)

	// deleting an unknown key is not an error
	assert.NoError(t, storage.DeleteMetric(ctx, "missing"))
	assert.NoError(t, storage.Ping(ctx))
	assert.NoError(t, storage.Close())
}
