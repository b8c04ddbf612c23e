package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/protocol"
)

func testClientInfo() protocol.Implementation {
	return protocol.Implementation{Name: "hub-test", Version: "0.0.0"}
}

func TestStateTransitionTable(t *testing.T) {
	assert.True(t, StateStopped.canTransitionTo(StateStarting))
	assert.False(t, StateStopped.canTransitionTo(StateRunning))
	assert.True(t, StateStarting.canTransitionTo(StateRunning))
	assert.True(t, StateStarting.canTransitionTo(StateCrashed))
	assert.True(t, StateRunning.canTransitionTo(StateStopping))
	assert.True(t, StateRunning.canTransitionTo(StateCrashed))
	assert.False(t, StateRunning.canTransitionTo(StateStarting))
	assert.True(t, StateCrashed.canTransitionTo(StateStarting))
	assert.False(t, StateCrashed.canTransitionTo(StateRunning))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultWarmupWindow, cfg.WarmupWindow)
	assert.Equal(t, defaultMaxErrorDepth, cfg.MaxErrorDepth)
	assert.Equal(t, defaultMaxErrorSteps, cfg.MaxErrorSteps)
	assert.Equal(t, defaultHealthInterval, cfg.HealthInterval)
	assert.Equal(t, defaultHealthTimeout, cfg.HealthTimeout)

	custom := Config{WarmupWindow: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, custom.WarmupWindow)
}

func TestReconnectPolicyPerSpecVariant(t *testing.T) {
	remote := New(Config{Spec: connector.Spec{
		ServerID: "srv_remote",
		Remote:   &connector.RemoteSpec{URL: "https://example.com", MaxReconnects: 7, MaxReconnectDur: time.Minute},
	}, ClientInfo: testClientInfo()}, NewBus())
	p := remote.reconnectPolicy()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.MaxElapsed)

	local := New(Config{Spec: connector.Spec{
		ServerID: "srv_local",
		Local:    &connector.LocalSpec{Command: "does-not-exist", MaxRestarts: 3},
	}, ClientInfo: testClientInfo()}, NewBus())
	assert.Equal(t, 3, local.reconnectPolicy().MaxAttempts)

	npx := New(Config{Spec: connector.Spec{
		ServerID: "srv_npx",
		Npx:      &connector.NpxSpec{Package: "some-pkg", MaxRestarts: 2},
	}, ClientInfo: testClientInfo()}, NewBus())
	assert.Equal(t, 2, npx.reconnectPolicy().MaxAttempts)
}

func TestSupervisorStartFailureTransitionsToCrashed(t *testing.T) {
	sup := New(Config{
		Spec: connector.Spec{
			ServerID: "srv_missing",
			Local:    &connector.LocalSpec{Command: "mcphub-test-binary-that-does-not-exist"},
		},
		ClientInfo: testClientInfo(),
	}, NewBus())

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateCrashed, sup.State())
	assert.Nil(t, sup.Session())
}

func TestSupervisorDoubleStartRejected(t *testing.T) {
	bus := NewBus()
	sup := New(Config{
		Spec: connector.Spec{
			ServerID: "srv_missing",
			Local:    &connector.LocalSpec{Command: "mcphub-test-binary-that-does-not-exist"},
		},
		ClientInfo: testClientInfo(),
	}, bus)

	require.Error(t, sup.Start(context.Background()))
	assert.Equal(t, StateCrashed, sup.State())

	// crashed -> starting is a valid transition, so a second Start is allowed
	// to retry; only running/starting supervisors reject a concurrent Start.
	sup.mu.Lock()
	sup.state = StateStarting
	sup.mu.Unlock()
	err := sup.Start(context.Background())
	require.Error(t, err, "starting a supervisor that is already starting must be rejected")
}

func TestSupervisorStopOnNeverStartedIsNoop(t *testing.T) {
	sup := New(Config{
		Spec:       connector.Spec{ServerID: "srv_idle", Local: &connector.LocalSpec{Command: "true"}},
		ClientInfo: testClientInfo(),
	}, NewBus())
	assert.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, StateStopped, sup.State())
}

func TestIsMethodNotFound(t *testing.T) {
	assert.True(t, isMethodNotFound(assertErr("rpc error: Method not found")))
	assert.False(t, isMethodNotFound(assertErr("connection reset by peer")))
	assert.False(t, isMethodNotFound(nil))
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(msg string) error { return stringErr(msg) }

func TestBusPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Publish(Event{Kind: EventServerStarted, ServerID: "srv_a", At: time.Now()})

	select {
	case ev := <-a:
		assert.Equal(t, EventServerStarted, ev.Kind)
	default:
		t.Fatal("subscriber a received nothing")
	}
	select {
	case ev := <-b:
		assert.Equal(t, EventServerStarted, ev.Kind)
	default:
		t.Fatal("subscriber b received nothing")
	}
}

func TestDirectoryAddGetRemove(t *testing.T) {
	dir := NewDirectory()
	sup := New(Config{
		Spec:       connector.Spec{ServerID: "srv_a", Local: &connector.LocalSpec{Command: "true"}},
		ClientInfo: testClientInfo(),
	}, NewBus())

	dir.Add(sup)
	assert.Equal(t, 1, dir.Count())

	got, ok := dir.Get("srv_a")
	require.True(t, ok)
	assert.Same(t, sup, got)

	_, err := dir.Session("srv_a")
	require.Error(t, err, "supervisor never started, so it has no session")

	dir.Remove("srv_a")
	assert.Equal(t, 0, dir.Count())
	_, ok = dir.Get("srv_a")
	assert.False(t, ok)
}

func TestDirectorySessionUnmounted(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.Session("nope")
	assert.Error(t, err)
}

func TestDirectoryServerIDsSorted(t *testing.T) {
	dir := NewDirectory()
	for _, id := range []string{"srv_c", "srv_a", "srv_b"} {
		dir.Add(New(Config{
			Spec:       connector.Spec{ServerID: id, Local: &connector.LocalSpec{Command: "true"}},
			ClientInfo: testClientInfo(),
		}, NewBus()))
	}
	assert.Equal(t, []string{"srv_a", "srv_b", "srv_c"}, dir.ServerIDs())
}
