package supervisor

import (
	"context"
	"sort"
	"sync"

	"github.com/mcphub/hub/pkg/errs"
)

// Directory is the hub-wide lookup table from serverId to its Supervisor.
// The router consults it to find the supervisor (and therefore the live
// session) behind a routing decision; the hub consults it for mount/unmount
// and for status reporting.
type Directory struct {
	mu          sync.RWMutex
	supervisors map[string]*Supervisor
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{supervisors: make(map[string]*Supervisor)}
}

// Add registers a supervisor under its own ServerID. It does not start it —
// callers mount by calling Start explicitly, then Add (or the reverse);
// either order is safe since the directory only stores the reference.
func (d *Directory) Add(sup *Supervisor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.supervisors[sup.ServerID()] = sup
}

// Remove drops a supervisor from the directory without stopping it; callers
// should Stop it first (or accept it'll keep running unsupervised).
func (d *Directory) Remove(serverID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.supervisors, serverID)
}

// Get returns the supervisor for serverID, if mounted.
func (d *Directory) Get(serverID string) (*Supervisor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sup, ok := d.supervisors[serverID]
	return sup, ok
}

// Session returns the live session for serverID, or a server-not-connected
// error if the server isn't mounted or isn't currently running — the exact
// check the router's forward() needs before issuing a call (spec §4.6).
func (d *Directory) Session(serverID string) (*Supervisor, error) {
	sup, ok := d.Get(serverID)
	if !ok {
		return nil, errs.New(errs.KindServerNotConnected, "server "+serverID+" is not mounted")
	}
	if sup.Session() == nil {
		return nil, errs.New(errs.KindServerNotConnected, "server "+serverID+" is not connected (state="+string(sup.State())+")")
	}
	return sup, nil
}

// ServerIDs returns every mounted server id in a deterministic order.
func (d *Directory) ServerIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.supervisors))
	for id := range d.supervisors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of mounted servers, for the hub's maxServers
// guard (spec §4.7).
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.supervisors)
}

// StopAll stops every mounted supervisor, collecting the first error.
func (d *Directory) StopAll(ctx context.Context) error {
	d.mu.RLock()
	sups := make([]*Supervisor, 0, len(d.supervisors))
	for _, sup := range d.supervisors {
		sups = append(sups, sup)
	}
	d.mu.RUnlock()

	var firstErr error
	for _, sup := range sups {
		if err := sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
