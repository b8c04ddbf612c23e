// Package hub composes the registries, the supervisor directory, and the
// router into the single object that owns one *sdkmcp.Server: mounting and
// unmounting upstreams at runtime, dispatching downstream requests through
// the router, and keeping the advertised capability catalog in sync with
// whatever is currently mounted (spec §4.7).
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/health"
	"github.com/mcphub/hub/pkg/log"
	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/protocol"
	"github.com/mcphub/hub/pkg/registry"
	"github.com/mcphub/hub/pkg/router"
	"github.com/mcphub/hub/pkg/supervisor"
)

// DuplicatePolicy governs what happens when Mount/Import is asked to attach
// a serverId that is already mounted (spec §4.7: "reject duplicate serverId
// (honouring a policy {error|warn|silent})").
type DuplicatePolicy string

const (
	DuplicateError  DuplicatePolicy = "error"
	DuplicateWarn   DuplicatePolicy = "warn"
	DuplicateSilent DuplicatePolicy = "silent"
)

// Config configures a Hub. Implementation is both the identity the hub
// advertises to downstream clients during initialize and the ClientInfo it
// presents to every upstream it mounts.
type Config struct {
	Implementation protocol.Implementation

	Naming                                                          naming.Config
	ToolCollisionPolicy, PromptCollisionPolicy, ResourceCollisionPolicy registry.CollisionPolicy

	DuplicatePolicy DuplicatePolicy
	MaxServers      int

	SupervisorDefaults supervisor.Config
	Timeouts           router.Timeouts
	Cache              *connector.OriginCache
}

func (c Config) withDefaults() Config {
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = DuplicateError
	}
	if c.ToolCollisionPolicy == "" {
		c.ToolCollisionPolicy = registry.CollisionLastWriterWins
	}
	if c.PromptCollisionPolicy == "" {
		c.PromptCollisionPolicy = registry.CollisionLastWriterWins
	}
	if c.ResourceCollisionPolicy == "" {
		c.ResourceCollisionPolicy = registry.CollisionFirstWriterWins
	}
	return c
}

// mountRecord is the hub's bookkeeping for one mounted upstream, beyond
// what the supervisor itself tracks.
type mountRecord struct {
	static bool
}

// Hub owns exactly one downstream *sdkmcp.Server and every upstream
// currently mounted under it.
type Hub struct {
	cfg Config

	tools     *registry.Registry[*sdkmcp.Tool]
	prompts   *registry.Registry[*sdkmcp.Prompt]
	resources *registry.Registry[*sdkmcp.Resource]
	templates *registry.Registry[*sdkmcp.ResourceTemplate]

	directory *supervisor.Directory
	bus       *supervisor.Bus
	router    *router.Router

	mcpServer *sdkmcp.Server

	// health is the probe aggregator backing Healthy()/transport.go's
	// /health endpoint, set once by cmd/mcphubd via SetHealth after
	// registering upstream probes against this hub's Directory. nil until
	// then, in which case Healthy() falls back to the always-ready stub.
	health atomic.Pointer[health.Registry]

	// mu serialises mount/unmount/registerCapabilities batches against each
	// other and against dispatchSync, so list() seen by a concurrent reader
	// never observes a half-applied mount (spec §4.7 concurrency, §5
	// "registerServer/clearServer acquire a per-hub serialisation primitive").
	mu      sync.Mutex
	mounted map[string]mountRecord

	// dispatched* records the public names currently registered with
	// mcpServer, so the next dispatchSyncLocked knows what to remove even
	// after a registry mutation has already replaced those names with a new
	// set (RegisterServer/ClearServer leave no trace of the prior state).
	dispatchedTools     []string
	dispatchedPrompts   []string
	dispatchedResources []string
	dispatchedTemplates []string
}

// New builds a Hub and its downstream *sdkmcp.Server. Nothing is mounted
// yet and the server isn't serving on any transport until transport.go's
// Serve is called.
func New(cfg Config) *Hub {
	cfg = cfg.withDefaults()

	h := &Hub{
		cfg:       cfg,
		tools:     registry.New[*sdkmcp.Tool](cfg.Naming, cfg.ToolCollisionPolicy),
		prompts:   registry.New[*sdkmcp.Prompt](cfg.Naming, cfg.PromptCollisionPolicy),
		resources: registry.New[*sdkmcp.Resource](cfg.Naming, cfg.ResourceCollisionPolicy),
		templates: registry.New[*sdkmcp.ResourceTemplate](cfg.Naming, cfg.ResourceCollisionPolicy),
		directory: supervisor.NewDirectory(),
		bus:       supervisor.NewBus(),
		mounted:   make(map[string]mountRecord),
	}

	h.router = router.New(router.Config{
		Tools:             h.tools,
		Prompts:           h.prompts,
		Resources:         h.resources,
		ResourceTemplates: h.templates,
		Naming:            cfg.Naming,
		Directory:         h.directory,
		Timeouts:          cfg.Timeouts,
	})

	h.mcpServer = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    cfg.Implementation.Name,
		Version: cfg.Implementation.Version,
	}, &sdkmcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
		HasPrompts:   true,
		InitializedHandler: func(_ context.Context, req *sdkmcp.InitializedRequest) {
			client := req.Session.InitializeParams().ClientInfo
			log.Logf("hub: client initialized %s@%s", client.Name, client.Version)
		},
	})
	h.mcpServer.AddReceivingMiddleware(loggingMiddleware())

	h.dispatchSync()
	return h
}

// Bus exposes the shared lifecycle event stream (server:started/crashed,
// capabilities:changed, server:mounted/unmounted) for pkg/health and
// pkg/telemetry to subscribe to.
func (h *Hub) Bus() *supervisor.Bus { return h.bus }

// Router exposes the resolve/forward engine for the dispatch layer.
func (h *Hub) Router() *router.Router { return h.router }

// Server returns the downstream *sdkmcp.Server, for transport.go to serve.
func (h *Hub) Server() *sdkmcp.Server { return h.mcpServer }

// Directory exposes the supervisor directory, e.g. for pkg/health probes.
func (h *Hub) Directory() *supervisor.Directory { return h.directory }

// MountedServerIDs returns every currently mounted server id.
func (h *Hub) MountedServerIDs() []string { return h.directory.ServerIDs() }

// SetHealth wires a pkg/health probe aggregator into Healthy()/transport.go's
// /health endpoint. Called once by cmd/mcphubd after it has registered
// this hub's upstream probes against reg.
func (h *Hub) SetHealth(reg *health.Registry) { h.health.Store(reg) }

// HealthState returns the wired registry's aggregate state (spec §4.11),
// or health.StateReady if none has been wired yet — the hub itself is
// always ready to accept connections once constructed, independent of any
// one upstream's state (an upstream crash degrades that upstream's tools,
// not the hub), so that's the right baseline before health tracking is
// wired in.
func (h *Hub) HealthState() health.State {
	if reg := h.health.Load(); reg != nil {
		return reg.State()
	}
	return health.StateReady
}

// Healthy reports a coarse readiness signal for transport.go's /health
// endpoint: true unless the wired probe aggregator has moved off ready.
func (h *Hub) Healthy() bool { return h.HealthState() == health.StateReady }

// Shutdown stops every mounted upstream. Used when retiring a generation's
// worker (spec §4.8 "stop the worker") and on process shutdown (spec §6
// "disconnect upstreams").
func (h *Hub) Shutdown(ctx context.Context) error {
	return h.directory.StopAll(ctx)
}

// Mount attaches a new upstream at runtime: supervisor created and started,
// its capabilities registered, server:mounted emitted. static is true for
// Import (servers loaded from the initial config, not hot-attached later).
func (h *Hub) Mount(ctx context.Context, spec connector.Spec, static bool) error {
	sup, err := h.reserve(spec, static)
	if err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		h.release(spec.ServerID)
		return err
	}

	if err := h.registerCapabilities(sup); err != nil {
		return err
	}

	h.bus.Publish(supervisor.Event{Kind: EventServerMounted, ServerID: spec.ServerID, At: time.Now()})
	return nil
}

// Import is Mount with static=true (spec §4.7: "same as mount but marked
// static, not hot-attachable post-startup").
func (h *Hub) Import(ctx context.Context, spec connector.Spec) error {
	return h.Mount(ctx, spec, true)
}

// reserve validates the duplicate/maxServers policy and, on success, claims
// spec.ServerID immediately (before Start runs, which may take a while) so
// a concurrent Mount of the same id can't slip past the duplicate check
// while the first is still connecting.
func (h *Hub) reserve(spec connector.Spec, static bool) (*supervisor.Supervisor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.mounted[spec.ServerID]; exists {
		switch h.cfg.DuplicatePolicy {
		case DuplicateError:
			return nil, errs.New(errs.KindConfig, "server "+spec.ServerID+" is already mounted")
		case DuplicateWarn:
			log.Warnf("hub: remounting already-mounted server %s", spec.ServerID)
		case DuplicateSilent:
		}
	}

	if h.cfg.MaxServers > 0 && len(h.mounted) >= h.cfg.MaxServers {
		return nil, errs.New(errs.KindConfig, "server count at maxServers limit").
			WithContext(map[string]any{"maxServers": h.cfg.MaxServers})
	}

	supCfg := h.cfg.SupervisorDefaults
	supCfg.Spec = spec
	supCfg.ClientInfo = h.cfg.Implementation
	supCfg.Cache = h.cfg.Cache

	sup := supervisor.New(supCfg, h.bus)
	h.directory.Add(sup)
	h.mounted[spec.ServerID] = mountRecord{static: static}
	return sup, nil
}

// release undoes a reservation that didn't pan out (Start failed).
func (h *Hub) release(serverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.directory.Remove(serverID)
	delete(h.mounted, serverID)
}

// Unmount stops an upstream's supervisor, clears its registry entries, and
// emits server:unmounted. Calling Unmount on a server that isn't mounted is
// a no-op.
func (h *Hub) Unmount(ctx context.Context, serverID string) error {
	h.mu.Lock()
	if _, ok := h.mounted[serverID]; !ok {
		h.mu.Unlock()
		return nil
	}
	sup, _ := h.directory.Get(serverID)
	delete(h.mounted, serverID)
	h.mu.Unlock()

	var stopErr error
	if sup != nil {
		stopErr = sup.Stop(ctx)
	}

	h.mu.Lock()
	h.directory.Remove(serverID)
	h.tools.ClearServer(serverID)
	h.prompts.ClearServer(serverID)
	h.resources.ClearServer(serverID)
	h.templates.ClearServer(serverID)
	h.mu.Unlock()

	h.dispatchSync()
	h.bus.Publish(supervisor.Event{Kind: EventServerUnmounted, ServerID: serverID, At: time.Now()})
	return stopErr
}

// registerCapabilities canonicalizes and registers a freshly started
// upstream's capability snapshot, then rebuilds the downstream dispatch
// table. Held under h.mu so list() never observes a partial registration
// (spec §5).
func (h *Hub) registerCapabilities(sup *supervisor.Supervisor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	serverID := sup.ServerID()
	caps := sup.Capabilities()

	toolItems := make([]registry.Item[*sdkmcp.Tool], 0, len(caps.Tools))
	for _, tool := range caps.Tools {
		canonicalizeInputSchema(tool)
		toolItems = append(toolItems, registry.Item[*sdkmcp.Tool]{OriginalName: tool.Name, Value: tool})
	}
	if err := h.tools.RegisterServer(serverID, toolItems); err != nil {
		return err
	}

	promptItems := make([]registry.Item[*sdkmcp.Prompt], 0, len(caps.Prompts))
	for _, prompt := range caps.Prompts {
		promptItems = append(promptItems, registry.Item[*sdkmcp.Prompt]{OriginalName: prompt.Name, Value: prompt})
	}
	if err := h.prompts.RegisterServer(serverID, promptItems); err != nil {
		return err
	}

	resourceItems := make([]registry.Item[*sdkmcp.Resource], 0, len(caps.Resources))
	for _, resource := range caps.Resources {
		resourceItems = append(resourceItems, registry.Item[*sdkmcp.Resource]{OriginalName: resource.URI, Value: resource})
	}
	if err := h.resources.RegisterServer(serverID, resourceItems); err != nil {
		return err
	}

	templateItems := make([]registry.Item[*sdkmcp.ResourceTemplate], 0, len(caps.ResourceTemplates))
	for _, tmpl := range caps.ResourceTemplates {
		templateItems = append(templateItems, registry.Item[*sdkmcp.ResourceTemplate]{OriginalName: tmpl.URITemplate, Value: tmpl})
	}
	if err := h.templates.RegisterServer(serverID, templateItems); err != nil {
		return err
	}

	h.dispatchSyncLocked()
	h.bus.Publish(supervisor.Event{Kind: supervisor.EventCapabilitiesChanged, ServerID: serverID, At: time.Now()})
	return nil
}

// canonicalizeInputSchema fills in the implicit default JSON Schema for a
// tool that declares no input (spec §3 capability-entry invariant: every
// tool has a canonical, non-nil inputSchema).
func canonicalizeInputSchema(tool *sdkmcp.Tool) {
	if tool.InputSchema == nil {
		tool.InputSchema = &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
		return
	}
	if tool.InputSchema.Type == "" {
		tool.InputSchema.Type = "object"
	}
}

// dispatchSync rebuilds the entire downstream capability catalog from the
// registries' current contents (tools/prompts/resources/templates), in the
// teacher's reload.go style: clear everything previously dispatched, then
// re-add from scratch. The SDK's AddTool/RemoveTools et al. handle
// listChanged notifications internally (spec §4.7 "change notifications").
func (h *Hub) dispatchSync() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatchSyncLocked()
}

func (h *Hub) dispatchSyncLocked() {
	h.mcpServer.RemoveTools(h.dispatchedTools...)
	h.mcpServer.RemovePrompts(h.dispatchedPrompts...)
	h.mcpServer.RemoveResources(h.dispatchedResources...)
	h.mcpServer.RemoveResourceTemplates(h.dispatchedTemplates...)

	tools := h.tools.List()
	for _, entry := range tools {
		h.mcpServer.AddTool(entry.Value, h.toolHandler(entry.PublicKey))
	}
	h.dispatchedTools = publicKeys(tools)

	prompts := h.prompts.List()
	for _, entry := range prompts {
		h.mcpServer.AddPrompt(entry.Value, h.promptHandler(entry.PublicKey))
	}
	h.dispatchedPrompts = publicKeys(prompts)

	resources := h.resources.List()
	for _, entry := range resources {
		h.mcpServer.AddResource(entry.Value, h.resourceHandler(entry.PublicKey))
	}
	h.dispatchedResources = publicKeys(resources)

	templates := h.templates.List()
	for _, entry := range templates {
		h.mcpServer.AddResourceTemplate(entry.Value, h.resourceHandler(entry.PublicKey))
	}
	h.dispatchedTemplates = publicKeys(templates)
}

func publicKeys[V any](entries []registry.Entry[V]) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.PublicKey)
	}
	return out
}
