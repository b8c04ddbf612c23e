package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/health"
	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/protocol"
	"github.com/mcphub/hub/pkg/registry"
)

func testImplementation() protocol.Implementation {
	return protocol.Implementation{Name: "hub-test", Version: "0.0.0"}
}

func newTestHub(cfg Config) *Hub {
	cfg.Implementation = testImplementation()
	if cfg.Naming.Strategy == "" {
		cfg.Naming = naming.Config{Strategy: naming.StrategyPrefix, Separator: "_"}
	}
	return New(cfg)
}

func unreachableSpec(serverID string) connector.Spec {
	return connector.Spec{
		ServerID: serverID,
		Local:    &connector.LocalSpec{Command: "mcphub-test-binary-that-does-not-exist"},
	}
}

func TestMountFailureReleasesReservation(t *testing.T) {
	h := newTestHub(Config{})

	err := h.Mount(context.Background(), unreachableSpec("srv_a"), false)
	require.Error(t, err)

	assert.Empty(t, h.MountedServerIDs())
	_, ok := h.mounted["srv_a"]
	assert.False(t, ok, "a failed Start must release the reservation")
	_, ok = h.directory.Get("srv_a")
	assert.False(t, ok, "a failed Start must remove the supervisor from the directory")
}

func TestReserveDuplicateErrorPolicy(t *testing.T) {
	h := newTestHub(Config{DuplicatePolicy: DuplicateError})

	_, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)

	_, err = h.reserve(unreachableSpec("srv_a"), false)
	require.Error(t, err, "a second reserve for the same serverId must be rejected under DuplicateError")
}

func TestReserveDuplicateWarnPolicyAllowsRemount(t *testing.T) {
	h := newTestHub(Config{DuplicatePolicy: DuplicateWarn})

	_, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)

	_, err = h.reserve(unreachableSpec("srv_a"), false)
	assert.NoError(t, err, "DuplicateWarn must allow a remount, only logging a warning")
}

func TestReserveDuplicateSilentPolicyAllowsRemount(t *testing.T) {
	h := newTestHub(Config{DuplicatePolicy: DuplicateSilent})

	_, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)

	_, err = h.reserve(unreachableSpec("srv_a"), false)
	assert.NoError(t, err)
}

func TestReserveClaimsBeforeStart(t *testing.T) {
	h := newTestHub(Config{})

	sup, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)
	require.NotNil(t, sup)

	_, ok := h.mounted["srv_a"]
	assert.True(t, ok, "reserve must claim the serverId immediately, before Start ever runs")
	_, ok = h.directory.Get("srv_a")
	assert.True(t, ok)
}

func TestReserveRejectsAtMaxServers(t *testing.T) {
	h := newTestHub(Config{MaxServers: 1})

	_, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)

	_, err = h.reserve(unreachableSpec("srv_b"), false)
	require.Error(t, err, "reserve must refuse a new server once maxServers is reached")
}

func TestReleaseClearsReservation(t *testing.T) {
	h := newTestHub(Config{})

	_, err := h.reserve(unreachableSpec("srv_a"), false)
	require.NoError(t, err)

	h.release("srv_a")

	_, ok := h.mounted["srv_a"]
	assert.False(t, ok)
	_, ok = h.directory.Get("srv_a")
	assert.False(t, ok)

	// release must make room for a fresh reserve of the same id.
	_, err = h.reserve(unreachableSpec("srv_a"), false)
	assert.NoError(t, err)
}

func TestUnmountUnknownServerIsNoop(t *testing.T) {
	h := newTestHub(Config{})
	assert.NoError(t, h.Unmount(context.Background(), "does-not-exist"))
}

func TestCanonicalizeInputSchemaFillsDefaults(t *testing.T) {
	tool := &sdkmcp.Tool{Name: "t"}
	canonicalizeInputSchema(tool)
	require.NotNil(t, tool.InputSchema)
	assert.Equal(t, "object", tool.InputSchema.Type)
	assert.NotNil(t, tool.InputSchema.Properties)
}

func TestCanonicalizeInputSchemaFillsMissingType(t *testing.T) {
	tool := &sdkmcp.Tool{Name: "t", InputSchema: &jsonschema.Schema{}}
	canonicalizeInputSchema(tool)
	assert.Equal(t, "object", tool.InputSchema.Type)
}

func TestCanonicalizeInputSchemaLeavesExplicitTypeAlone(t *testing.T) {
	tool := &sdkmcp.Tool{Name: "t", InputSchema: &jsonschema.Schema{Type: "array"}}
	canonicalizeInputSchema(tool)
	assert.Equal(t, "array", tool.InputSchema.Type)
}

// TestDispatchSyncRemovesStaleCapabilities verifies dispatchSyncLocked
// removes what was previously dispatched to mcpServer, not what the registry
// currently holds, since registerCapabilities and Unmount always mutate the
// registry before calling it.
func TestDispatchSyncRemovesStaleCapabilities(t *testing.T) {
	h := newTestHub(Config{})

	toolA := &sdkmcp.Tool{Name: "alpha", InputSchema: &jsonschema.Schema{Type: "object"}}
	require.NoError(t, h.tools.RegisterServer("srv_a", []registry.Item[*sdkmcp.Tool]{
		{OriginalName: toolA.Name, Value: toolA},
	}))
	h.dispatchSync()
	assert.Contains(t, h.dispatchedTools, "srv_a_alpha")

	// Simulate srv_a re-registering with a renamed tool: the registry no
	// longer has any trace of "srv_a_alpha" by the time dispatchSyncLocked
	// runs, yet it must still have been removed from mcpServer.
	toolB := &sdkmcp.Tool{Name: "beta", InputSchema: &jsonschema.Schema{Type: "object"}}
	require.NoError(t, h.tools.RegisterServer("srv_a", []registry.Item[*sdkmcp.Tool]{
		{OriginalName: toolB.Name, Value: toolB},
	}))
	h.dispatchSync()

	assert.NotContains(t, h.dispatchedTools, "srv_a_alpha")
	assert.Contains(t, h.dispatchedTools, "srv_a_beta")
}

func TestHealthyDefaultsToReadyWithoutWiredRegistry(t *testing.T) {
	h := newTestHub(Config{})
	assert.True(t, h.Healthy())
	assert.Equal(t, health.StateReady, h.HealthState())
}

func TestHealthyReflectsWiredRegistryState(t *testing.T) {
	h := newTestHub(Config{})
	reg := health.NewRegistry(health.Config{})
	reg.Register(health.Probe{
		Component: "test",
		Name:      "always-fails",
		Critical:  false,
		Check:     func(context.Context) error { return assert.AnError },
	})
	reg.Evaluate(context.Background())
	h.SetHealth(reg)

	assert.False(t, h.Healthy())
	assert.Equal(t, health.StateNotReady, h.HealthState())
}
