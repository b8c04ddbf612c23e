package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/protocol"
	"github.com/mcphub/hub/pkg/supervisor"
)

func testClientInfo() protocol.Implementation {
	return protocol.Implementation{Name: "health-test", Version: "0.0.0"}
}

func TestRegisterUpstreamProbesFailsForUnstartedSupervisor(t *testing.T) {
	dir := supervisor.NewDirectory()
	sup := supervisor.New(supervisor.Config{
		Spec:       connector.Spec{ServerID: "srv_a", Local: &connector.LocalSpec{Command: "does-not-exist"}},
		ClientInfo: testClientInfo(),
	}, supervisor.NewBus())
	dir.Add(sup)

	r := NewRegistry(Config{ProbeTimeout: time.Second})
	RegisterUpstreamProbes(r, dir)

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateFailing, state, "a supervisor that never reached running must fail its critical probe")
}

func TestRegisterUpstreamProbesFailsWhenUnmounted(t *testing.T) {
	dir := supervisor.NewDirectory()
	sup := supervisor.New(supervisor.Config{
		Spec:       connector.Spec{ServerID: "srv_b", Local: &connector.LocalSpec{Command: "does-not-exist"}},
		ClientInfo: testClientInfo(),
	}, supervisor.NewBus())
	dir.Add(sup)

	r := NewRegistry(Config{ProbeTimeout: time.Second})
	RegisterUpstreamProbes(r, dir)

	dir.Remove("srv_b")
	state := r.Evaluate(context.Background())
	assert.Equal(t, StateFailing, state)
}

func TestRegisterUpstreamProbesWithNoUpstreamsIsReady(t *testing.T) {
	dir := supervisor.NewDirectory()
	r := NewRegistry(Config{})
	RegisterUpstreamProbes(r, dir)

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateReady, state)

	readyAt, ok := r.ReadyAt()
	require.True(t, ok)
	assert.False(t, readyAt.IsZero())
}
