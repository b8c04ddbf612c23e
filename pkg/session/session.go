// Package session implements the hub's downstream session table: one entry
// per connected MCP client, identity-keyed by a server-assigned sessionId,
// idle-evicted on a sweep cadence, with optional share-tokens for a second
// client to join an existing session and a bounded per-session history ring
// for debugging (spec §4.9).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/log"
)

const (
	defaultHistorySize = 50
	minSweepInterval   = time.Second
)

// Entry is one session's state.
type Entry struct {
	ID         string
	CreatedAt  time.Time
	LastUsedAt time.Time

	mu      sync.Mutex
	history []HistoryRecord
	cap     int
}

// HistoryRecord is one logged request/notification for a session, kept for
// operator debugging (spec §4.9 "per-session bounded history ring").
type HistoryRecord struct {
	At     time.Time
	Method string
	Detail string
}

func newEntry(id string, historySize int) *Entry {
	now := time.Now()
	return &Entry{ID: id, CreatedAt: now, LastUsedAt: now, cap: historySize}
}

// Record appends a history entry, discarding the oldest once the ring is at
// capacity.
func (e *Entry) Record(method, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, HistoryRecord{At: time.Now(), Method: method, Detail: detail})
	if len(e.history) > e.cap {
		e.history = e.history[len(e.history)-e.cap:]
	}
}

// History returns a copy of the session's recorded history, oldest first.
func (e *Entry) History() []HistoryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HistoryRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Config configures a Store.
type Config struct {
	// TTL is the idle timeout after which a session becomes eligible for
	// sweeping. Defaults to 30 minutes.
	TTL time.Duration
	// HistorySize bounds each session's debugging ring. Defaults to 50.
	HistorySize int
	// ShareTokenTTL bounds how long a share-token survives unused.
	// Defaults to TTL.
	ShareTokenTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.ShareTokenTTL <= 0 {
		c.ShareTokenTTL = c.TTL
	}
	return c
}

type shareToken struct {
	sessionID string
	expiresAt time.Time
}

// Store is a thread-safe in-memory session table with idle-TTL eviction, in
// the shape of the teacher corpus's session stores: a locked map plus a
// ticker-driven sweep goroutine, stopped via Close.
type Store struct {
	cfg Config

	mu           sync.RWMutex
	sessions     map[string]*Entry
	shareTokens  map[string]shareToken
	stopSweeping chan struct{}
	sweepOnce    sync.Once
}

// NewStore creates a Store and starts its background sweeper. Callers must
// call Close to stop the sweeper goroutine.
func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:          cfg,
		sessions:     make(map[string]*Entry),
		shareTokens:  make(map[string]shareToken),
		stopSweeping: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Create allocates a fresh session with a server-assigned id.
func (s *Store) Create() *Entry {
	id := uuid.New().String()
	entry := newEntry(id, s.cfg.HistorySize)

	s.mu.Lock()
	s.sessions[id] = entry
	s.mu.Unlock()
	return entry
}

// Touch refreshes a session's idle clock, returning server-not-connected
// (spec's sessionId is opaque; an unknown id is a 404 at the transport
// layer, not this package's concern) if it doesn't exist.
func (s *Store) Touch(id string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindSession, "session not found: "+id)
	}

	entry.mu.Lock()
	entry.LastUsedAt = time.Now()
	entry.mu.Unlock()
	return entry, nil
}

// Get returns a session without refreshing its idle clock.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

// Remove deletes a session and any share-tokens pointing at it.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for token, st := range s.shareTokens {
		if st.sessionID == id {
			delete(s.shareTokens, token)
		}
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CreateShareToken mints an opaque token a second client can exchange for
// access to an existing session via JoinByToken. Returns server-not-connected
// if sessionID doesn't exist.
func (s *Store) CreateShareToken(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return "", errs.New(errs.KindSession, "session not found: "+sessionID)
	}
	token := uuid.New().String()
	s.shareTokens[token] = shareToken{sessionID: sessionID, expiresAt: time.Now().Add(s.cfg.ShareTokenTTL)}
	return token, nil
}

// JoinByToken attaches a new client to the session a still-valid share-token
// names, touching the session's idle clock.
func (s *Store) JoinByToken(token string) (*Entry, error) {
	s.mu.Lock()
	st, ok := s.shareTokens[token]
	if ok && time.Now().After(st.expiresAt) {
		delete(s.shareTokens, token)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindSession, "share token not found or expired")
	}
	return s.Touch(st.sessionID)
}

// Close stops the sweeper goroutine. Safe to call more than once.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweeping) })
}

func (s *Store) sweepLoop() {
	interval := s.cfg.TTL / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweeping:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts every session and share-token past its TTL. Exported as Sweep
// for callers (tests, an operator-triggered admin endpoint) that want to
// force an off-cadence pass.
func (s *Store) sweep() { s.Sweep() }

// Sweep runs one eviction pass immediately, outside the ticker cadence.
func (s *Store) Sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, entry := range s.sessions {
		entry.mu.Lock()
		idle := now.Sub(entry.LastUsedAt)
		entry.mu.Unlock()
		if idle > s.cfg.TTL {
			delete(s.sessions, id)
			evicted++
		}
	}
	for token, st := range s.shareTokens {
		if now.After(st.expiresAt) {
			delete(s.shareTokens, token)
		}
	}
	if evicted > 0 {
		log.Logf("session: swept %d idle session(s)", evicted)
	}
}
