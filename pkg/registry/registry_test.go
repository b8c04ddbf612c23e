package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/registry"
)

func namespaceConfig() naming.Config {
	return naming.Config{Strategy: naming.StrategyNamespace, Separator: "_"}
}

func TestRegisterAndResolve(t *testing.T) {
	r := registry.New[string](namespaceConfig(), registry.CollisionLastWriterWins)
	err := r.RegisterServer("srv_a", []registry.Item[string]{{OriginalName: "echo", Value: "echo-handler"}})
	require.NoError(t, err)

	entry, ok := r.Resolve("echo_srv_a")
	require.True(t, ok)
	assert.Equal(t, "srv_a", entry.ServerID)
	assert.Equal(t, "echo", entry.OriginalName)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterServerReplacesAtomically(t *testing.T) {
	r := registry.New[string](namespaceConfig(), registry.CollisionLastWriterWins)
	require.NoError(t, r.RegisterServer("srv_a", []registry.Item[string]{{OriginalName: "a"}, {OriginalName: "b"}}))
	require.NoError(t, r.RegisterServer("srv_a", []registry.Item[string]{{OriginalName: "c"}}))

	assert.Len(t, r.ListByServer("srv_a"), 1)
	_, ok := r.Resolve("a_srv_a")
	assert.False(t, ok)
	_, ok = r.Resolve("c_srv_a")
	assert.True(t, ok)
}

func TestClearServerLeavesNoDangling(t *testing.T) {
	r := registry.New[string](namespaceConfig(), registry.CollisionLastWriterWins)
	require.NoError(t, r.RegisterServer("srv_a", []registry.Item[string]{{OriginalName: "echo"}}))
	r.ClearServer("srv_a")

	assert.Equal(t, 0, r.Count())
	_, ok := r.Resolve("echo_srv_a")
	assert.False(t, ok)
	assert.Empty(t, r.Collisions())
}

func TestCollisionPolicyErrorIsAtomic(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNone}
	r := registry.New[string](cfg, registry.CollisionError)

	require.NoError(t, r.RegisterServer("server1", []registry.Item[string]{{OriginalName: "search"}}))
	err := r.RegisterServer("server2", []registry.Item[string]{{OriginalName: "search"}})
	require.Error(t, err)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "server1", list[0].ServerID)
	assert.Empty(t, r.ListByServer("server2"))
}

func TestResourcePassThroughFirstRegisteredWins(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNone}
	r := registry.New[string](cfg, registry.CollisionFirstWriterWins)

	require.NoError(t, r.RegisterServer("server1", []registry.Item[string]{{OriginalName: "file:///a"}}))
	require.NoError(t, r.RegisterServer("server2", []registry.Item[string]{{OriginalName: "file:///a"}}))

	entry, ok := r.Resolve("file:///a")
	require.True(t, ok)
	assert.Equal(t, "server1", entry.ServerID)

	collisions := r.Collisions()
	assert.ElementsMatch(t, []string{"server1", "server2"}, collisions["file:///a"])
}

func TestCountEqualsSumOfListByServer(t *testing.T) {
	r := registry.New[string](namespaceConfig(), registry.CollisionLastWriterWins)
	require.NoError(t, r.RegisterServer("a", []registry.Item[string]{{OriginalName: "x"}, {OriginalName: "y"}}))
	require.NoError(t, r.RegisterServer("b", []registry.Item[string]{{OriginalName: "z"}}))

	sum := len(r.ListByServer("a")) + len(r.ListByServer("b"))
	assert.Equal(t, sum, r.Count())
}

func TestDeterministicListOrder(t *testing.T) {
	r := registry.New[string](namespaceConfig(), registry.CollisionLastWriterWins)
	require.NoError(t, r.RegisterServer("a", []registry.Item[string]{{OriginalName: "x"}, {OriginalName: "y"}}))
	require.NoError(t, r.RegisterServer("b", []registry.Item[string]{{OriginalName: "z"}}))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "x_a", list[0].PublicKey)
	assert.Equal(t, "y_a", list[1].PublicKey)
	assert.Equal(t, "z_b", list[2].PublicKey)
}
