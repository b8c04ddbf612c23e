package router

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the router's otel instruments. Cardinality is bounded by
// construction: the only attributes recorded are serverId (bounded by
// maxServers, spec §4.7) and kind (tool|prompt|resource, a fixed set of
// three) — never raw tool names or arguments.
type Metrics struct {
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() *Metrics {
	meter := otel.Meter("github.com/mcphub/hub/pkg/router")

	calls, _ := meter.Int64Counter("hub.router.calls",
		metric.WithDescription("forwarded calls by server and kind"))
	errs, _ := meter.Int64Counter("hub.router.errors",
		metric.WithDescription("failed forwarded calls by server and kind"))
	duration, _ := meter.Float64Histogram("hub.router.call_duration_ms",
		metric.WithDescription("forwarded call latency in milliseconds"),
		metric.WithUnit("ms"))

	return &Metrics{calls: calls, errors: errs, duration: duration}
}

func (m *Metrics) recordLatency(serverID, kind string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("mcp.server.id", serverID),
		attribute.String("mcp.call.kind", kind),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	if !ok {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordError(serverID, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("mcp.server.id", serverID),
		attribute.String("mcp.call.kind", kind),
	))
}
