// Package generation implements the rollover controller: overlapping
// ConfigGeneration worker pools keyed by config generation, health-gated
// promotion of a newly built worker, drain-and-migrate of the previous
// generation's sessions, and rollback on error-rate breach (spec §4.8).
//
// Grounded on the teacher's reload.go (build-new-then-swap rather than
// mutate-in-place) generalised from one Gateway rebuilt in place to one
// *hub.Hub per generation kept alive side by side during the handover.
package generation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/hub"
	"github.com/mcphub/hub/pkg/log"
	"github.com/mcphub/hub/pkg/supervisor"
)

// State is a ConfigGeneration's lifecycle state (spec §3).
type State string

const (
	StatePending  State = "pending"
	StateWarming  State = "warming"
	StateActive   State = "active"
	StateDraining State = "draining"
	StateRetired  State = "retired"
)

// WorkerState is a Worker's lifecycle state (spec §3).
type WorkerState string

const (
	WorkerInitializing WorkerState = "initializing"
	WorkerWarmingUp    WorkerState = "warming_up"
	WorkerHealthy      WorkerState = "healthy"
	WorkerUnhealthy    WorkerState = "unhealthy"
	WorkerDraining     WorkerState = "draining"
	WorkerStopped      WorkerState = "stopped"
)

// Typed events published on the shared supervisor.Bus, in the same family
// as hub's server:mounted/unmounted (spec §4.8's named transitions).
const (
	eventGenerationPromoted supervisor.EventKind = "generation:promoted"
	eventGenerationRetired  supervisor.EventKind = "generation:retired"
	eventRollbackNeeded     supervisor.EventKind = "generation:rollback-needed"
)

// HubFactory builds a *hub.Hub from one validated config snapshot: parsing
// the snapshot and mounting its configured upstreams is the caller's
// concern (pkg/config + cmd/mcphubd), since this package stays agnostic to
// the config's shape.
type HubFactory func(ctx context.Context, snapshot any) (*hub.Hub, error)

// HealthProbe reports whether a generation's worker is fit for promotion or
// continued service. The default (see Config.withDefaults) requires every
// mounted upstream to be in the supervisor's running state.
type HealthProbe func(h *hub.Hub) bool

func defaultHealthProbe(h *hub.Hub) bool {
	for _, id := range h.MountedServerIDs() {
		sup, ok := h.Directory().Get(id)
		if !ok || sup.State() != supervisor.StateRunning {
			return false
		}
	}
	return true
}

// Config configures a Controller.
type Config struct {
	MaxGenerations int
	WarmupWindow   time.Duration
	HealthInterval time.Duration

	// DrainTimeout bounds how long a draining generation waits for its
	// activeSessions to reach zero before forcing migration/stop.
	DrainTimeout time.Duration
	// GracePeriod is how far from the drain deadline a warning is logged.
	GracePeriod time.Duration
	DrainPoll   time.Duration

	// ErrorRateThreshold and MinRequestsForErrorRate gate the rollback
	// guard: errorCount/requestCount > threshold over at least
	// MinRequestsForErrorRate requests triggers rollback:needed.
	ErrorRateThreshold      float64
	MinRequestsForErrorRate int64

	HealthProbe HealthProbe

	// PersistMigrationSnapshot is called when a draining generation hits
	// its deadline with sessions still pinned and no healthy later
	// generation to migrate them to. Durable storage is a collaborator
	// (spec §4.8 "persist a migration-state snapshot to durable
	// storage"); the default logs and drops it.
	PersistMigrationSnapshot func(generationID uint64, sessionIDs []string)
}

func (c Config) withDefaults() Config {
	if c.MaxGenerations <= 0 {
		c.MaxGenerations = 3
	}
	if c.WarmupWindow <= 0 {
		c.WarmupWindow = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 2 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = time.Second
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.5
	}
	if c.MinRequestsForErrorRate <= 0 {
		c.MinRequestsForErrorRate = 20
	}
	if c.HealthProbe == nil {
		c.HealthProbe = defaultHealthProbe
	}
	if c.PersistMigrationSnapshot == nil {
		c.PersistMigrationSnapshot = func(generationID uint64, sessionIDs []string) {
			log.Warnf("generation: no durable store configured, dropping migration snapshot for generation %d (%d session(s))", generationID, len(sessionIDs))
		}
	}
	return c
}

// Generation is one ConfigGeneration: a validated config snapshot and the
// single Worker built from it (spec's Worker entity is 1:1 with its owning
// generation in this implementation — no intra-generation worker sharding).
type Generation struct {
	ID        uint64
	Snapshot  any
	CreatedAt time.Time

	mu    sync.RWMutex
	state State

	Worker *Worker
}

func (g *Generation) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Generation) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Worker wraps the *hub.Hub built for one generation plus the counters and
// session-pinning state spec §3/§4.8 describe.
type Worker struct {
	ID  string
	Hub *hub.Hub

	mu    sync.RWMutex
	state WorkerState

	activeSessions int64
	errorCount     int64
	requestCount   int64
}

func newWorker(generationID uint64, h *hub.Hub) *Worker {
	return &Worker{ID: fmt.Sprintf("worker-%d", generationID), Hub: h, state: WorkerInitializing}
}

func (w *Worker) State() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) ActiveSessions() int64 { return atomic.LoadInt64(&w.activeSessions) }

// RecordRequest feeds the error-rate guard: callers (the router/dispatch
// layer, once wired by cmd/mcphubd) report each completed call here.
func (w *Worker) RecordRequest(isError bool) {
	atomic.AddInt64(&w.requestCount, 1)
	if isError {
		atomic.AddInt64(&w.errorCount, 1)
	}
}

func (w *Worker) errorRate() (rate float64, requests int64) {
	requests = atomic.LoadInt64(&w.requestCount)
	if requests == 0 {
		return 0, 0
	}
	return float64(atomic.LoadInt64(&w.errorCount)) / float64(requests), requests
}

// Controller owns every live Generation and drives promotion, draining, and
// rollback. Exactly one generation is active at a time (spec §3 invariant).
type Controller struct {
	cfg     Config
	factory HubFactory
	bus     *supervisor.Bus

	mu          sync.Mutex
	generations map[uint64]*Generation
	order       []uint64 // oldest first, for rollback target selection
	activeID    uint64
	nextID      uint64

	promoteGroup singleflight.Group

	pinMu sync.Mutex
	pins  map[string]uint64 // sessionId -> generationId
}

// New builds an empty Controller. Call Promote with the first validated
// config to bring up generation 1.
func New(cfg Config, factory HubFactory, bus *supervisor.Bus) *Controller {
	return &Controller{
		cfg:         cfg.withDefaults(),
		factory:     factory,
		bus:         bus,
		generations: make(map[uint64]*Generation),
		pins:        make(map[string]uint64),
	}
}

// Active returns the currently active generation, or nil if none has been
// promoted yet.
func (c *Controller) Active() *Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[c.activeID]
}

// Get returns a generation by id.
func (c *Controller) Get(id uint64) (*Generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.generations[id]
	return g, ok
}

// Promote builds a new generation from snapshot, warms it up, health-gates
// its promotion to active, and begins draining whatever was previously
// active (spec §4.8 steps 1-3). Concurrent Promote calls collapse into one
// in flight via singleflight, since only one rollover can be in progress at
// a time.
func (c *Controller) Promote(ctx context.Context, snapshot any) (*Generation, error) {
	v, err, _ := c.promoteGroup.Do("promote", func() (any, error) {
		return c.promoteOnce(ctx, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Generation), nil
}

func (c *Controller) promoteOnce(ctx context.Context, snapshot any) (*Generation, error) {
	c.mu.Lock()
	if c.cfg.MaxGenerations > 0 && len(c.generations) >= c.cfg.MaxGenerations {
		c.mu.Unlock()
		return nil, errs.New(errs.KindConfig, "at maxGenerations limit").
			WithContext(map[string]any{"maxGenerations": c.cfg.MaxGenerations})
	}
	c.nextID++
	id := c.nextID
	gen := &Generation{ID: id, Snapshot: snapshot, CreatedAt: time.Now(), state: StatePending}
	c.generations[id] = gen
	c.order = append(c.order, id)
	c.mu.Unlock()

	h, err := c.factory(ctx, snapshot)
	if err != nil {
		c.mu.Lock()
		delete(c.generations, id)
		c.removeFromOrderLocked(id)
		c.mu.Unlock()
		return nil, errs.Wrap(errs.KindConfig, err, "building worker for generation "+fmt.Sprint(id))
	}

	worker := newWorker(id, h)
	gen.Worker = worker
	gen.setState(StateWarming)
	worker.setState(WorkerWarmingUp)

	c.warmUp(ctx, gen)

	if !c.cfg.HealthProbe(h) {
		worker.setState(WorkerUnhealthy)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := h.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Errorf("generation: shutting down unhealthy generation %d: %v", id, shutdownErr)
		}
		c.mu.Lock()
		delete(c.generations, id)
		c.removeFromOrderLocked(id)
		c.mu.Unlock()
		return nil, errs.New(errs.KindInternal, "generation "+fmt.Sprint(id)+" failed its health probe after warmup").
			WithRecoverable(true)
	}

	worker.setState(WorkerHealthy)
	c.promoteLocked(gen)
	return gen, nil
}

func (c *Controller) warmUp(ctx context.Context, gen *Generation) {
	timer := time.NewTimer(c.cfg.WarmupWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// promoteLocked flips gen to active and, if a different generation was
// active, starts draining it.
func (c *Controller) promoteLocked(gen *Generation) {
	c.mu.Lock()
	previousID := c.activeID
	c.activeID = gen.ID
	c.mu.Unlock()

	gen.setState(StateActive)
	if c.bus != nil {
		c.bus.Publish(supervisor.Event{Kind: eventGenerationPromoted, ServerID: fmt.Sprint(gen.ID), At: time.Now()})
	}

	if previousID != 0 && previousID != gen.ID {
		if previous, ok := c.Get(previousID); ok {
			go c.drain(previous)
		}
	}
}

func (c *Controller) removeFromOrderLocked(id uint64) {
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Rollback forces the previous generation back to active, e.g. after the
// error-rate guard fires (spec §4.8 step 5). Returns an error if there is
// no earlier generation still available.
func (c *Controller) Rollback(ctx context.Context) (*Generation, error) {
	c.mu.Lock()
	var target *Generation
	for i := len(c.order) - 1; i >= 0; i-- {
		id := c.order[i]
		if id == c.activeID {
			continue
		}
		if g, ok := c.generations[id]; ok && g.State() != StateRetired {
			target = g
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return nil, errs.New(errs.KindInternal, "no earlier generation available to roll back to")
	}

	log.Warnf("generation: rolling back to generation %d", target.ID)
	c.promoteLocked(target)
	return target, nil
}

// WatchErrorRate polls the active generation's worker error rate at cfg's
// health interval and calls Rollback when the threshold is breached (spec
// §4.8 step 5). Runs until ctx is done.
func (c *Controller) WatchErrorRate(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := c.Active()
			if active == nil || active.Worker == nil {
				continue
			}
			rate, requests := active.Worker.errorRate()
			if requests < c.cfg.MinRequestsForErrorRate || rate <= c.cfg.ErrorRateThreshold {
				continue
			}
			if c.bus != nil {
				c.bus.Publish(supervisor.Event{Kind: eventRollbackNeeded, ServerID: fmt.Sprint(active.ID), At: time.Now()})
			}
			if _, err := c.Rollback(ctx); err != nil {
				log.Errorf("generation: error-rate breach on generation %d but rollback failed: %v", active.ID, err)
			}
		}
	}
}

// Shutdown stops every generation's worker, oldest first.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	ids := append([]uint64(nil), c.order...)
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		gen, ok := c.Get(id)
		if !ok || gen.Worker == nil {
			continue
		}
		if err := gen.Worker.Hub.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		gen.setState(StateRetired)
		gen.Worker.setState(WorkerStopped)
	}
	return firstErr
}
