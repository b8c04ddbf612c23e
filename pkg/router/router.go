// Package router implements name resolution and call forwarding for the
// hub: given a public tool/resource/prompt identifier, it decides which
// upstream owns it and relays the call there, streaming synthetic
// progress notifications and enforcing the configured timeouts along the
// way (spec §4.6).
package router

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/registry"
	"github.com/mcphub/hub/pkg/supervisor"
)

// Target identifies a public name's resolved owner: which upstream, and
// the identifier to use when calling it there — a local tool/prompt name,
// or a resource URI, depending on which registry resolved it.
type Target struct {
	ServerID     string
	OriginalName string
}

// Decision is the outcome of a routeTool/routeResource/routePrompt call.
type Decision struct {
	Target     *Target
	Candidates int
	Filtered   int
	Err        error
}

// FilterFunc narrows a candidate set before selection; the default is
// pass-through (spec §4.6 step 2: "policy hook, default: pass-through").
type FilterFunc func(ctx context.Context, candidates []Target) []Target

// SelectFunc picks one candidate from the (possibly filtered) set; the
// default takes the first (spec §4.6 step 3: "future strategies may
// load-balance").
type SelectFunc func(ctx context.Context, candidates []Target) (Target, bool)

func passThroughFilter(_ context.Context, candidates []Target) []Target { return candidates }

func firstCandidate(_ context.Context, candidates []Target) (Target, bool) {
	if len(candidates) == 0 {
		return Target{}, false
	}
	return candidates[0], true
}

// Timeouts bounds a single forwarded call (spec §5 "toolCall ... maxTotal
// (sum across retries, with optional reset on progress)").
type Timeouts struct {
	ToolCall        time.Duration
	MaxTotal        time.Duration
	ResetOnProgress bool
}

func (t Timeouts) withDefaults() Timeouts {
	if t.ToolCall <= 0 {
		t.ToolCall = 30 * time.Second
	}
	return t
}

// progressCadence is the tick rate for synthetic progress notifications
// (spec §3 "Progress token", §8 scenario S2: "1 s cadence"). A var, not a
// const, so tests can shrink it instead of waiting out real seconds.
var progressCadence = 1 * time.Second

// ProgressFunc receives one tick per cadence period for an in-flight call
// carrying a progress token. progress is an increment-only counter; total
// is never known (spec §4.6 step 2).
type ProgressFunc func(token string, progress int)

// Config wires a Router to the hub's shared collaborators. Router owns
// none of them: the hub constructs the registries and the supervisor
// directory once and hands out references.
type Config struct {
	Tools             *registry.Registry[*sdkmcp.Tool]
	Prompts           *registry.Registry[*sdkmcp.Prompt]
	Resources         *registry.Registry[*sdkmcp.Resource]
	ResourceTemplates *registry.Registry[*sdkmcp.ResourceTemplate]
	Naming            naming.Config
	Directory         *supervisor.Directory

	FilterTool, FilterPrompt, FilterResource FilterFunc
	SelectTool, SelectPrompt, SelectResource SelectFunc

	Timeouts Timeouts
}

func (c Config) withDefaults() Config {
	if c.FilterTool == nil {
		c.FilterTool = passThroughFilter
	}
	if c.FilterPrompt == nil {
		c.FilterPrompt = passThroughFilter
	}
	if c.FilterResource == nil {
		c.FilterResource = passThroughFilter
	}
	if c.SelectTool == nil {
		c.SelectTool = firstCandidate
	}
	if c.SelectPrompt == nil {
		c.SelectPrompt = firstCandidate
	}
	if c.SelectResource == nil {
		c.SelectResource = firstCandidate
	}
	c.Timeouts = c.Timeouts.withDefaults()
	return c
}

// Router resolves public names to upstreams and forwards calls to them.
type Router struct {
	cfg     Config
	metrics *Metrics
}

// New creates a Router from cfg.
func New(cfg Config) *Router {
	return &Router{cfg: cfg.withDefaults(), metrics: newMetrics()}
}

// Metrics exposes the router's bounded per-server counters for the hub's
// status surface and pkg/health's gauges.
func (r *Router) Metrics() *Metrics { return r.metrics }

// resolve is the shared decision algorithm behind routeTool/routeResource/
// routePrompt: decode publicName via the naming strategy; if that fails
// (strategy none/error, or a strategy that can't decode on its own),
// fall back to every source the registry has for publicName and let the
// filter/select hooks choose among them.
func resolve[V any](ctx context.Context, publicName string, namingCfg naming.Config, reg *registry.Registry[V], filter FilterFunc, selectFn SelectFunc) Decision {
	var candidates []Target

	// Strategies none/error never encode a serverId in the public name
	// (Parse returns "" for it, or fails outright) — those always need the
	// registry's reverse index instead of trusting a decode.
	if parsed, err := naming.Parse(publicName, namingCfg); err == nil && parsed.ServerID != "" {
		candidates = []Target{{ServerID: parsed.ServerID, OriginalName: parsed.LocalName}}
	} else {
		for _, entry := range reg.ResolveAll(publicName) {
			candidates = append(candidates, Target{ServerID: entry.ServerID, OriginalName: entry.OriginalName})
		}
	}

	if len(candidates) == 0 {
		return Decision{Err: errs.New(errs.KindResourceNotFound, "no server publishes "+publicName)}
	}

	filtered := filter(ctx, candidates)
	chosen, ok := selectFn(ctx, filtered)
	if !ok {
		return Decision{
			Candidates: len(candidates),
			Filtered:   len(filtered),
			Err:        errs.New(errs.KindResourceNotFound, "no candidate survived filtering for "+publicName),
		}
	}

	return Decision{
		Target:     &chosen,
		Candidates: len(candidates),
		Filtered:   len(filtered),
	}
}

// RouteTool resolves a public tool name to its owning upstream.
func (r *Router) RouteTool(ctx context.Context, publicName string) Decision {
	return resolve(ctx, publicName, r.cfg.Naming, r.cfg.Tools, r.cfg.FilterTool, r.cfg.SelectTool)
}

// RoutePrompt resolves a public prompt name to its owning upstream.
func (r *Router) RoutePrompt(ctx context.Context, publicName string) Decision {
	return resolve(ctx, publicName, r.cfg.Naming, r.cfg.Prompts, r.cfg.FilterPrompt, r.cfg.SelectPrompt)
}

// RouteResource resolves a public resource URI to its owning upstream.
// Resource URIs are pass-through identifiers, so a Decision here most
// often comes from the registry fallback path rather than naming.Parse.
func (r *Router) RouteResource(ctx context.Context, uri string) Decision {
	return resolve(ctx, uri, r.cfg.Naming, r.cfg.Resources, r.cfg.FilterResource, r.cfg.SelectResource)
}

// sessionFor looks up the running session for decision.Target, failing
// with server-not-connected if the upstream isn't mounted or isn't
// currently running (spec §4.6 forward step 1).
func (r *Router) sessionFor(decision Decision) (*supervisor.Supervisor, error) {
	if decision.Err != nil {
		return nil, decision.Err
	}
	if decision.Target == nil {
		return nil, errs.New(errs.KindResourceNotFound, "routing decision has no target")
	}
	return r.cfg.Directory.Session(decision.Target.ServerID)
}

// withProgress runs fn under a cadence timer that calls onProgress once
// per tick with an increment-only counter, starting at 0, until fn
// returns. If token is empty or onProgress is nil, fn simply runs without
// a timer (spec §3 "Progress token": "one cadence timer per token;
// cleared when the call resolves or aborts").
func withProgress(ctx context.Context, token string, onProgress ProgressFunc, fn func(ctx context.Context) error) error {
	if token == "" || onProgress == nil {
		return fn(ctx)
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressCadence)
		defer ticker.Stop()
		progress := 0
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				onProgress(token, progress)
				progress++
			case <-done:
				return
			}
		}
	}()

	err := fn(ctx)
	close(done)
	return err
}

// callTimeoutCtx applies the configured toolCall (and, if set, maxTotal)
// timeout to a forwarded call.
func (r *Router) callTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.cfg.Timeouts.ToolCall
	if r.cfg.Timeouts.MaxTotal > 0 && r.cfg.Timeouts.MaxTotal < timeout {
		timeout = r.cfg.Timeouts.MaxTotal
	}
	return context.WithTimeout(ctx, timeout)
}

// CallTool forwards a tools/call to decision's target, recording latency
// and success/failure counters regardless of outcome.
func (r *Router) CallTool(ctx context.Context, decision Decision, arguments map[string]any, progressToken string, onProgress ProgressFunc) (*sdkmcp.CallToolResult, error) {
	sup, err := r.sessionFor(decision)
	if err != nil {
		r.metrics.recordError(decision.targetServerID(), "tool")
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := r.callTimeoutCtx(ctx)
	defer cancel()

	var result *sdkmcp.CallToolResult
	err = withProgress(callCtx, progressToken, onProgress, func(ctx context.Context) error {
		session := sup.Session()
		if session == nil {
			return errs.New(errs.KindServerNotConnected, "server "+sup.ServerID()+" disconnected mid-call")
		}
		var callErr error
		result, callErr = session.CallTool(ctx, decision.Target.OriginalName, arguments)
		return callErr
	})

	r.metrics.recordLatency(decision.Target.ServerID, "tool", time.Since(start), err == nil)
	return result, err
}

// GetPrompt forwards a prompts/get to decision's target.
func (r *Router) GetPrompt(ctx context.Context, decision Decision, arguments map[string]string) (*sdkmcp.GetPromptResult, error) {
	sup, err := r.sessionFor(decision)
	if err != nil {
		r.metrics.recordError(decision.targetServerID(), "prompt")
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := r.callTimeoutCtx(ctx)
	defer cancel()

	session := sup.Session()
	if session == nil {
		err := errs.New(errs.KindServerNotConnected, "server "+sup.ServerID()+" disconnected mid-call")
		r.metrics.recordLatency(decision.Target.ServerID, "prompt", time.Since(start), false)
		return nil, err
	}
	result, err := session.GetPrompt(callCtx, decision.Target.OriginalName, arguments)
	r.metrics.recordLatency(decision.Target.ServerID, "prompt", time.Since(start), err == nil)
	return result, err
}

// ReadResource forwards a resources/read to decision's target.
func (r *Router) ReadResource(ctx context.Context, decision Decision) (*sdkmcp.ReadResourceResult, error) {
	sup, err := r.sessionFor(decision)
	if err != nil {
		r.metrics.recordError(decision.targetServerID(), "resource")
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := r.callTimeoutCtx(ctx)
	defer cancel()

	session := sup.Session()
	if session == nil {
		err := errs.New(errs.KindServerNotConnected, "server "+sup.ServerID()+" disconnected mid-call")
		r.metrics.recordLatency(decision.Target.ServerID, "resource", time.Since(start), false)
		return nil, err
	}
	result, err := session.ReadResource(callCtx, decision.Target.OriginalName)
	r.metrics.recordLatency(decision.Target.ServerID, "resource", time.Since(start), err == nil)
	return result, err
}

func (d Decision) targetServerID() string {
	if d.Target == nil {
		return "unknown"
	}
	return d.Target.ServerID
}
