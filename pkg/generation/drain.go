package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/mcphub/hub/pkg/log"
	"github.com/mcphub/hub/pkg/supervisor"
)

// drain implements spec §4.8 step 4 for one retired-to-be generation: poll
// activeSessions at DrainPoll cadence, warn inside GracePeriod of the
// deadline, attempt migration if sessions remain at the deadline, then stop
// the worker and mark the generation retired.
func (c *Controller) drain(gen *Generation) {
	gen.setState(StateDraining)
	gen.Worker.setState(WorkerDraining)

	deadline := time.Now().Add(c.cfg.DrainTimeout)
	ticker := time.NewTicker(c.cfg.DrainPoll)
	defer ticker.Stop()

	warned := false
	for {
		remaining := gen.Worker.ActiveSessions()
		if remaining == 0 {
			break
		}
		now := time.Now()
		if now.After(deadline) {
			break
		}
		if !warned && deadline.Sub(now) <= c.cfg.GracePeriod {
			log.Warnf("generation: generation %d still has %d active session(s) within %s of its drain deadline", gen.ID, remaining, c.cfg.GracePeriod)
			warned = true
		}
		<-ticker.C
	}

	if remaining := gen.Worker.ActiveSessions(); remaining > 0 {
		c.migrateOrPersist(gen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gen.Worker.Hub.Shutdown(ctx); err != nil {
		log.Errorf("generation: stopping worker for retired generation %d: %v", gen.ID, err)
	}

	gen.setState(StateRetired)
	gen.Worker.setState(WorkerStopped)
	if c.bus != nil {
		c.bus.Publish(supervisor.Event{Kind: eventGenerationRetired, ServerID: fmt.Sprint(gen.ID), At: time.Now()})
	}
}

// migrateOrPersist attempts to re-pin every session still on gen to a
// healthy later generation; sessions that can't be migrated (no such
// generation exists) are persisted as a migration snapshot instead (spec
// §4.8: "persist a migration-state snapshot to durable storage and proceed
// to stop").
func (c *Controller) migrateOrPersist(gen *Generation) {
	target := c.healthyLaterGeneration(gen.ID)

	c.pinMu.Lock()
	var stranded []string
	for sessionID, pinnedTo := range c.pins {
		if pinnedTo != gen.ID {
			continue
		}
		if target != nil {
			c.pins[sessionID] = target.ID
			target.Worker.adjustActiveSessions(1)
			gen.Worker.adjustActiveSessions(-1)
		} else {
			stranded = append(stranded, sessionID)
		}
	}
	if target == nil {
		for _, sessionID := range stranded {
			delete(c.pins, sessionID)
		}
	}
	c.pinMu.Unlock()

	if target != nil {
		log.Logf("generation: migrated sessions from retiring generation %d to generation %d", gen.ID, target.ID)
		return
	}
	if len(stranded) > 0 {
		c.cfg.PersistMigrationSnapshot(gen.ID, stranded)
	}
}

// healthyLaterGeneration returns the oldest generation created after id
// that is active or warming and whose worker is healthy, the migration
// target spec §4.8 calls for.
func (c *Controller) healthyLaterGeneration(id uint64) *Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, candidateID := range c.order {
		if candidateID <= id {
			continue
		}
		g, ok := c.generations[candidateID]
		if !ok || g.Worker == nil {
			continue
		}
		switch g.State() {
		case StateActive, StateWarming:
		default:
			continue
		}
		if g.Worker.State() == WorkerHealthy {
			return g
		}
	}
	return nil
}
