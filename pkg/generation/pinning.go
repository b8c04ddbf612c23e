package generation

import (
	"fmt"
	"sync/atomic"

	"github.com/mcphub/hub/pkg/errs"
)

func (w *Worker) adjustActiveSessions(delta int64) {
	atomic.AddInt64(&w.activeSessions, delta)
}

// AssignWorker implements spec §4.8's assignWorker: returns the session's
// existing pin if that worker is still healthy; otherwise picks the
// least-loaded healthy worker of the target generation (the active one if
// generationID is unset); otherwise server-not-connected, the closest fit
// in the closed error-kind set for "no worker available" (spec's
// informal service-unavailable outcome).
func (c *Controller) AssignWorker(sessionID string, generationID uint64) (*Worker, error) {
	c.pinMu.Lock()
	if pinnedTo, ok := c.pins[sessionID]; ok {
		c.pinMu.Unlock()
		if gen, ok := c.Get(pinnedTo); ok && gen.Worker != nil && gen.Worker.State() == WorkerHealthy {
			return gen.Worker, nil
		}
		c.pinMu.Lock()
		delete(c.pins, sessionID)
	}
	c.pinMu.Unlock()

	target, err := c.pickTargetGeneration(generationID)
	if err != nil {
		return nil, err
	}

	c.pinMu.Lock()
	c.pins[sessionID] = target.ID
	c.pinMu.Unlock()
	target.Worker.adjustActiveSessions(1)
	return target.Worker, nil
}

func (c *Controller) pickTargetGeneration(generationID uint64) (*Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generationID != 0 {
		gen, ok := c.generations[generationID]
		if !ok || gen.Worker == nil || gen.Worker.State() != WorkerHealthy {
			return nil, errs.New(errs.KindServerNotConnected, "no healthy worker for generation "+fmt.Sprint(generationID))
		}
		return gen, nil
	}

	active, ok := c.generations[c.activeID]
	if !ok || active.Worker == nil || active.Worker.State() != WorkerHealthy {
		return nil, errs.New(errs.KindServerNotConnected, "no healthy active generation")
	}
	return active, nil
}

// ReleaseSession decrements the pinned worker's activeSessions counter and
// removes the pin (spec §4.8 releaseSession).
func (c *Controller) ReleaseSession(sessionID string) {
	c.pinMu.Lock()
	generationID, ok := c.pins[sessionID]
	if ok {
		delete(c.pins, sessionID)
	}
	c.pinMu.Unlock()
	if !ok {
		return
	}
	if gen, ok := c.Get(generationID); ok && gen.Worker != nil {
		gen.Worker.adjustActiveSessions(-1)
	}
}
