package migration

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSource(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	r, identifier, err := src.ReadUp(version)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "create_jmx_metrics", identifier)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS jmx_metrics")

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	down.Close()
}

func TestRunMigrations_BadDSN(t *testing.T) {
	err := RunMigrations(context.Background(), "postgres://127.0.0.1:1/none?connect_timeout=1", zap.NewNop().Sugar())
	assert.Error(t, err)
}
