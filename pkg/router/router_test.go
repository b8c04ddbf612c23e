package router_test

import (
	"context"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/registry"
	"github.com/mcphub/hub/pkg/router"
	"github.com/mcphub/hub/pkg/supervisor"
)

func namespaceNaming() naming.Config {
	return naming.Config{Strategy: naming.StrategyNamespace, Separator: "_"}
}

func newToolRegistry(t *testing.T, cfg naming.Config, serverID, toolName string) *registry.Registry[*sdkmcp.Tool] {
	t.Helper()
	reg := registry.New[*sdkmcp.Tool](cfg, registry.CollisionLastWriterWins)
	require.NoError(t, reg.RegisterServer(serverID, []registry.Item[*sdkmcp.Tool]{
		{OriginalName: toolName, Value: &sdkmcp.Tool{Name: toolName}},
	}))
	return reg
}

func TestRouteToolDecodesNamespaceStrategy(t *testing.T) {
	cfg := namespaceNaming()
	tools := newToolRegistry(t, cfg, "srv_a", "echo")

	r := router.New(router.Config{
		Tools:     tools,
		Naming:    cfg,
		Directory: supervisor.NewDirectory(),
	})

	decision := r.RouteTool(context.Background(), "echo_srv_a")
	require.NoError(t, decision.Err)
	require.NotNil(t, decision.Target)
	assert.Equal(t, "srv_a", decision.Target.ServerID)
	assert.Equal(t, "echo", decision.Target.OriginalName)
}

func TestRouteToolFallsBackToRegistryForNoneStrategy(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNone}
	tools := newToolRegistry(t, cfg, "srv_a", "echo")

	r := router.New(router.Config{
		Tools:     tools,
		Naming:    cfg,
		Directory: supervisor.NewDirectory(),
	})

	decision := r.RouteTool(context.Background(), "echo")
	require.NoError(t, decision.Err)
	require.NotNil(t, decision.Target)
	assert.Equal(t, "srv_a", decision.Target.ServerID)
	assert.Equal(t, "echo", decision.Target.OriginalName)
}

func TestRouteToolUnknownNameFails(t *testing.T) {
	cfg := namespaceNaming()
	tools := registry.New[*sdkmcp.Tool](cfg, registry.CollisionLastWriterWins)

	r := router.New(router.Config{Tools: tools, Naming: cfg, Directory: supervisor.NewDirectory()})
	decision := r.RouteTool(context.Background(), "ghost_srv_a")
	assert.Error(t, decision.Err)
	assert.Nil(t, decision.Target)
}

func TestCallToolFailsWhenServerNotMounted(t *testing.T) {
	cfg := namespaceNaming()
	tools := newToolRegistry(t, cfg, "srv_a", "echo")

	r := router.New(router.Config{Tools: tools, Naming: cfg, Directory: supervisor.NewDirectory()})
	decision := r.RouteTool(context.Background(), "echo_srv_a")
	require.NoError(t, decision.Err)

	_, err := r.CallTool(context.Background(), decision, nil, "", nil)
	require.Error(t, err)
}

func TestRouteToolSelectHookPicksAmongCandidates(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNone}
	tools := registry.New[*sdkmcp.Tool](cfg, registry.CollisionLastWriterWins)
	require.NoError(t, tools.RegisterServer("srv_a", []registry.Item[*sdkmcp.Tool]{{OriginalName: "echo", Value: &sdkmcp.Tool{Name: "echo"}}}))
	require.NoError(t, tools.RegisterServer("srv_b", []registry.Item[*sdkmcp.Tool]{{OriginalName: "echo", Value: &sdkmcp.Tool{Name: "echo"}}}))

	var sawCandidates int
	r := router.New(router.Config{
		Tools:     tools,
		Naming:    cfg,
		Directory: supervisor.NewDirectory(),
		SelectTool: func(_ context.Context, candidates []router.Target) (router.Target, bool) {
			sawCandidates = len(candidates)
			for _, c := range candidates {
				if c.ServerID == "srv_b" {
					return c, true
				}
			}
			return router.Target{}, false
		},
	})

	decision := r.RouteTool(context.Background(), "echo")
	require.NoError(t, decision.Err)
	assert.Equal(t, 2, sawCandidates)
	assert.Equal(t, "srv_b", decision.Target.ServerID)
}

