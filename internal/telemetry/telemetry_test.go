package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kambafy/internal/config"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), config.ObservabilitySettings{TracingURL: "localhost:4318"})
	assert.Error(t, err)
}

func TestInitWithoutTracingURLIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.ObservabilitySettings{ServiceName: "kambafy-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), config.ObservabilitySettings{ServiceName: "kambafy-test", TracingURL: "localhost:4318"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was exported, so shutting down with a cancelled context must not hang.
	_ = shutdown(ctx)
}
