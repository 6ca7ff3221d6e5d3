package scheduler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aypapol/gamehost/observability/metrics"
)

// lifecycleCounters instruments server state transitions. With no meter
// provider configured every Add is a no-op.
type lifecycleCounters struct {
	started metric.Int64Counter
	stopped metric.Int64Counter
	crashed metric.Int64Counter
}

func newLifecycleCounters() lifecycleCounters {
	meter := metrics.Meter("gamehost/scheduler")
	started, _ := meter.Int64Counter("gamehost.sessions.started",
		metric.WithDescription("Game sessions started"))
	stopped, _ := meter.Int64Counter("gamehost.sessions.stopped",
		metric.WithDescription("Game sessions stopped, by stop reason"))
	crashed, _ := meter.Int64Counter("gamehost.sessions.crashed",
		metric.WithDescription("Game sessions that died without an operator stop"))
	return lifecycleCounters{started: started, stopped: stopped, crashed: crashed}
}

func (c lifecycleCounters) recordStart(ctx context.Context, serverID string) {
	c.started.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", serverID)))
}

func (c lifecycleCounters) recordStop(ctx context.Context, serverID, reason string) {
	c.stopped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("reason", reason),
	))
}

func (c lifecycleCounters) recordCrash(ctx context.Context, serverID string) {
	c.crashed.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", serverID)))
}
