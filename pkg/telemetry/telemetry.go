// Package telemetry centralizes the hub's otel meter-provider construction
// and the shared instruments the rest of the hub records against (spec
// §4.11's counters/gauges/histograms). Individual packages (pkg/router,
// pkg/supervisor, pkg/session) still own *when* to record; this package
// only owns *how the instrument is built*, mirroring the teacher's
// dynamic_mcps.go use of a single shared telemetry.ToolCallCounter instead
// of every call site constructing its own.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/mcphub/hub"

// Instruments holds every otel instrument the hub records against. A nil
// *Instruments is safe to call methods on (all become no-ops), so
// components can be constructed before telemetry is wired up in tests.
type Instruments struct {
	requests  metric.Int64Counter
	toolCalls metric.Int64Counter
	errors    metric.Int64Counter

	connectedUpstreams metric.Int64UpDownCounter
	activeSessions     metric.Int64UpDownCounter
	activeStreams      metric.Int64UpDownCounter
	memoryBytes        metric.Int64UpDownCounter

	requestDuration  metric.Float64Histogram
	toolCallDuration metric.Float64Histogram
}

// NewProvider builds an otel MeterProvider with a manual reader (no
// exporter is wired by default; cmd/mcphubd attaches one when an operator
// configures an OTLP or Prometheus endpoint) and installs it as the global
// provider via otel.SetMeterProvider, matching how the teacher's gateway
// expects a process-wide provider to already be configured before
// pkg/telemetry's package-level instruments are created.
func NewProvider(readers ...sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := make([]sdkmetric.Option, 0, len(readers))
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	return provider
}

// New constructs every instrument from the currently installed global
// meter provider. Call after NewProvider (or after a test installs its own
// provider via otel.SetMeterProvider).
func New() *Instruments {
	meter := otel.Meter(meterName)

	requests, _ := meter.Int64Counter("hub.requests",
		metric.WithDescription("downstream requests accepted"))
	toolCalls, _ := meter.Int64Counter("hub.tool_calls",
		metric.WithDescription("tool calls forwarded to upstreams"))
	errs, _ := meter.Int64Counter("hub.errors",
		metric.WithDescription("requests that completed with an error"))

	connectedUpstreams, _ := meter.Int64UpDownCounter("hub.upstreams.connected",
		metric.WithDescription("upstream servers currently connected"))
	activeSessions, _ := meter.Int64UpDownCounter("hub.sessions.active",
		metric.WithDescription("downstream sessions currently open"))
	activeStreams, _ := meter.Int64UpDownCounter("hub.streams.active",
		metric.WithDescription("progress/SSE streams currently open"))
	memoryBytes, _ := meter.Int64UpDownCounter("hub.memory.bytes",
		metric.WithDescription("approximate process memory usage in bytes"))

	requestDuration, _ := meter.Float64Histogram("hub.request.duration_ms",
		metric.WithDescription("end-to-end request latency in milliseconds"),
		metric.WithUnit("ms"))
	toolCallDuration, _ := meter.Float64Histogram("hub.tool_call.duration_ms",
		metric.WithDescription("upstream tool call latency in milliseconds"),
		metric.WithUnit("ms"))

	return &Instruments{
		requests:           requests,
		toolCalls:          toolCalls,
		errors:             errs,
		connectedUpstreams: connectedUpstreams,
		activeSessions:     activeSessions,
		activeStreams:      activeStreams,
		memoryBytes:        memoryBytes,
		requestDuration:    requestDuration,
		toolCallDuration:   toolCallDuration,
	}
}

func (i *Instruments) RecordRequest(ctx context.Context, kind string, d time.Duration, ok bool) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mcp.request.kind", kind))
	i.requests.Add(ctx, 1, attrs)
	i.requestDuration.Record(ctx, float64(d.Milliseconds()), attrs)
	if !ok {
		i.errors.Add(ctx, 1, attrs)
	}
}

func (i *Instruments) RecordToolCall(ctx context.Context, serverID, toolName string, d time.Duration, ok bool) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mcp.server.id", serverID),
		attribute.String("mcp.tool.name", toolName),
	)
	i.toolCalls.Add(ctx, 1, attrs)
	i.toolCallDuration.Record(ctx, float64(d.Milliseconds()), attrs)
	if !ok {
		i.errors.Add(ctx, 1, attrs)
	}
}

func (i *Instruments) UpstreamConnected(ctx context.Context)    { i.adjust(ctx, i.connectedUpstreams, 1) }
func (i *Instruments) UpstreamDisconnected(ctx context.Context) { i.adjust(ctx, i.connectedUpstreams, -1) }
func (i *Instruments) SessionOpened(ctx context.Context)        { i.adjust(ctx, i.activeSessions, 1) }
func (i *Instruments) SessionClosed(ctx context.Context)        { i.adjust(ctx, i.activeSessions, -1) }
func (i *Instruments) StreamOpened(ctx context.Context)         { i.adjust(ctx, i.activeStreams, 1) }
func (i *Instruments) StreamClosed(ctx context.Context)         { i.adjust(ctx, i.activeStreams, -1) }

// SetMemoryBytes records the current approximate process memory usage.
// Unlike the other gauges this is an absolute value, not a delta, so the
// caller is expected to pass runtime.MemStats.Alloc (or similar) on an
// interval; the UpDownCounter is reset to the new value via the delta
// between it and the last observation.
func (i *Instruments) SetMemoryBytes(ctx context.Context, delta int64) {
	i.adjust(ctx, i.memoryBytes, delta)
}

func (i *Instruments) adjust(ctx context.Context, c metric.Int64UpDownCounter, delta int64) {
	if i == nil || c == nil {
		return
	}
	c.Add(ctx, delta)
}
