package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordRequestEmitsCounterAndHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	NewProvider(reader)
	inst := New()

	ctx := context.Background()
	inst.RecordRequest(ctx, "tools/call", 12*time.Millisecond, true)
	inst.RecordRequest(ctx, "tools/call", 20*time.Millisecond, false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := collectMetricNames(rm)
	assert.Contains(t, names, "hub.requests")
	assert.Contains(t, names, "hub.errors")
	assert.Contains(t, names, "hub.request.duration_ms")
}

func TestGaugeHelpersAdjustUpDownCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	NewProvider(reader)
	inst := New()

	ctx := context.Background()
	inst.UpstreamConnected(ctx)
	inst.UpstreamConnected(ctx)
	inst.UpstreamDisconnected(ctx)
	inst.SessionOpened(ctx)
	inst.StreamOpened(ctx)
	inst.StreamClosed(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := collectMetricNames(rm)
	assert.Contains(t, names, "hub.upstreams.connected")
	assert.Contains(t, names, "hub.sessions.active")
	assert.Contains(t, names, "hub.streams.active")
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var inst *Instruments
	assert.NotPanics(t, func() {
		inst.RecordRequest(context.Background(), "k", time.Millisecond, true)
		inst.RecordToolCall(context.Background(), "srv", "tool", time.Millisecond, false)
		inst.UpstreamConnected(context.Background())
		inst.SetMemoryBytes(context.Background(), 1024)
	})
}

func collectMetricNames(rm metricdata.ResourceMetrics) map[string]bool {
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}
