package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig("gamehostd")

	assert.Equal(t, "gamehostd", cfg.ServiceName)
	assert.False(t, cfg.EnableOTLP)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestDefaultConfigEndpointFallback(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig("gamehostd")

	assert.True(t, cfg.EnableOTLP)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfigMetricsEndpointWins(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "metrics-collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig("gamehostd")

	assert.Equal(t, "metrics-collector:4317", cfg.OTLPEndpoint)
}

func TestConfigureDisabledLeavesNoopProvider(t *testing.T) {
	require.NoError(t, Configure(&Config{EnableOTLP: false}))

	// Counters from the no-op provider must still be safe to use.
	meter := Meter("gamehost/test")
	counter, err := meter.Int64Counter("gamehost.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, Shutdown(context.Background()))
}
