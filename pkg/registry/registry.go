// Package registry implements the hub's capability registries: keyed
// stores of tools, resources, prompts, and resource templates, each with a
// per-server reverse index for collision detection and clean teardown.
//
// Per the naming-strategy re-architecture in the design notes, this is one
// generic Registry[V] instead of three duck-typed, near-identical
// registries — tools, prompts, and resources are all instantiated from it.
package registry

import (
	"sort"
	"sync"

	"github.com/mcphub/hub/pkg/naming"
)

// CollisionPolicy controls what happens when two servers would produce the
// same public key.
type CollisionPolicy string

const (
	// CollisionError fails registration atomically: neither server's
	// batch is applied.
	CollisionError CollisionPolicy = "error"
	// CollisionLastWriterWins keeps the most recently registered source
	// as the resolvable entry, but remembers every source for Collisions().
	CollisionLastWriterWins CollisionPolicy = "last-writer-wins"
	// CollisionFirstWriterWins keeps the first-registered source as the
	// resolvable entry (used for resource URI pass-through mode, where
	// resolve() must return the first source in insertion order).
	CollisionFirstWriterWins CollisionPolicy = "first-writer-wins"
)

// Item is one capability as seen from its origin server, before naming is
// applied. V is the opaque payload (e.g. *mcp.Tool plus its handler).
type Item[V any] struct {
	OriginalName string
	Value        V
}

// Entry is a registered capability as exposed to the hub.
type Entry[V any] struct {
	PublicKey    string
	ServerID     string
	OriginalName string
	Value        V
}

// Registry is a generic, concurrency-safe keyed store for one capability
// kind (tools, resources, prompts, or resource templates).
type Registry[V any] struct {
	mu       sync.RWMutex
	naming   naming.Config
	policy   CollisionPolicy
	public   map[string]Entry[V]            // publicKey -> winning entry
	sources  map[string]map[string]Entry[V] // publicKey -> serverID -> entry (reverse index, remembers all sources)
	byServer map[string][]string            // serverID -> publicKeys in registration order
	order    []string                       // publicKeys in first-registration order, for deterministic list()
}

// New creates an empty registry using the given naming config and
// collision policy.
func New[V any](namingCfg naming.Config, policy CollisionPolicy) *Registry[V] {
	return &Registry[V]{
		naming:   namingCfg,
		policy:   policy,
		public:   make(map[string]Entry[V]),
		sources:  make(map[string]map[string]Entry[V]),
		byServer: make(map[string][]string),
	}
}

// CollisionError is returned by RegisterServer under CollisionError policy.
type CollisionError struct {
	PublicKey      string
	ExistingServer string
	NewServer      string
}

func (e *CollisionError) Error() string {
	return "registry: collision on " + e.PublicKey + " between " + e.ExistingServer + " and " + e.NewServer
}

// RegisterServer atomically replaces all items previously registered for
// serverID. Under CollisionError, the whole batch is rejected (and any
// prior registration for serverID is left untouched) if any item would
// collide with a *different* server's current entry.
func (r *Registry[V]) RegisterServer(serverID string, items []Item[V]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type pending struct {
		key  string
		item Item[V]
	}
	pendings := make([]pending, 0, len(items))
	for _, it := range items {
		key, err := naming.Generate(serverID, it.OriginalName, r.naming)
		if err != nil {
			return err
		}
		pendings = append(pendings, pending{key: key, item: it})
	}

	if r.policy == CollisionError {
		for _, p := range pendings {
			if existingServers, ok := r.sources[p.key]; ok {
				for sid := range existingServers {
					if sid != serverID {
						return &CollisionError{PublicKey: p.key, ExistingServer: sid, NewServer: serverID}
					}
				}
			}
		}
	}

	r.clearServerLocked(serverID)

	keys := make([]string, 0, len(pendings))
	for _, p := range pendings {
		entry := Entry[V]{PublicKey: p.key, ServerID: serverID, OriginalName: p.item.OriginalName, Value: p.item.Value}

		if _, ok := r.sources[p.key]; !ok {
			r.sources[p.key] = make(map[string]Entry[V])
			r.order = append(r.order, p.key)
		}
		r.sources[p.key][serverID] = entry

		// Resolution: "don't judge, pass through" for strategies whose
		// public key may already equal another source's (e.g. none/error
		// on raw URIs) — first-registered source wins resolve(), unless
		// this server itself is the first to claim the key.
		if winner, ok := r.public[p.key]; !ok || winner.ServerID == serverID {
			r.public[p.key] = entry
		} else if r.policy == CollisionLastWriterWins {
			r.public[p.key] = entry
		}

		keys = append(keys, p.key)
	}
	r.byServer[serverID] = keys
	return nil
}

func (r *Registry[V]) clearServerLocked(serverID string) {
	keys, ok := r.byServer[serverID]
	if !ok {
		return
	}
	for _, key := range keys {
		srcs := r.sources[key]
		delete(srcs, serverID)
		if len(srcs) == 0 {
			delete(r.sources, key)
			delete(r.public, key)
			r.removeFromOrder(key)
			continue
		}
		// Re-resolve the winner deterministically: first remaining source
		// in registration order across servers.
		r.public[key] = firstInOrder(srcs, r.byServer)
	}
	delete(r.byServer, serverID)
}

func (r *Registry[V]) removeFromOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func firstInOrder[V any](srcs map[string]Entry[V], byServer map[string][]string) Entry[V] {
	// Deterministic fallback: pick the source whose server appears
	// first among byServer's remaining keys; map iteration order is not
	// used for anything observable.
	var winner Entry[V]
	found := false
	for sid, entry := range srcs {
		if !found {
			winner = entry
			found = true
			continue
		}
		if sid < winner.ServerID {
			winner = entry
		}
	}
	return winner
}

// ClearServer removes all items for serverID.
func (r *Registry[V]) ClearServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearServerLocked(serverID)
}

// Resolve returns the (serverID, originalName) for a publicKey, or ok=false.
func (r *Registry[V]) Resolve(publicKey string) (Entry[V], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.public[publicKey]
	return e, ok
}

// List returns all resolvable entries in deterministic order: insertion
// order per server, servers in registration order.
func (r *Registry[V]) List() []Entry[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry[V], 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.public[key])
	}
	return out
}

// ListByServer returns the entries currently registered for serverID, in
// registration order.
func (r *Registry[V]) ListByServer(serverID string) []Entry[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.byServer[serverID]
	out := make([]Entry[V], 0, len(keys))
	for _, key := range keys {
		if srcs, ok := r.sources[key]; ok {
			if e, ok := srcs[serverID]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// ResolveAll returns every source entry registered for publicKey, in
// deterministic server-id order — the candidate set routeTool/routeResource
// consult when naming.Parse can't decode a publicName on its own (e.g.
// strategy none/error, or two servers advertising the same pass-through
// resource URI) and the caller needs more than just the single resolved
// winner.
func (r *Registry[V]) ResolveAll(publicKey string) []Entry[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	srcs, ok := r.sources[publicKey]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(srcs))
	for sid := range srcs {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	out := make([]Entry[V], 0, len(ids))
	for _, sid := range ids {
		out = append(out, srcs[sid])
	}
	return out
}

// Collisions returns, for every publicKey with more than one source
// server, the list of contributing server IDs.
func (r *Registry[V]) Collisions() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string)
	for key, srcs := range r.sources {
		if len(srcs) <= 1 {
			continue
		}
		ids := make([]string, 0, len(srcs))
		for sid := range srcs {
			ids = append(ids, sid)
		}
		out[key] = ids
	}
	return out
}

// Count returns the number of resolvable public entries.
func (r *Registry[V]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.public)
}

// Clear empties the registry entirely.
func (r *Registry[V]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.public = make(map[string]Entry[V])
	r.sources = make(map[string]map[string]Entry[V])
	r.byServer = make(map[string][]string)
	r.order = nil
}
