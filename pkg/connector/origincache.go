package connector

import (
	"net/url"
	"sync"
	"time"
)

// originEntry remembers what worked the last time we reached a given
// origin, so a reconnect doesn't have to re-run transport auto-selection
// from scratch.
type originEntry struct {
	Transport         TransportKind
	SupportsSessionID bool
	ProtocolVersion   string
	LastSuccessAt     time.Time
}

// originCacheTTL bounds how long a cached origin entry is trusted before
// auto-selection runs again; an upstream's capabilities can change across
// a deploy.
const originCacheTTL = 24 * time.Hour

// OriginCache is a small process-lifetime cache keyed by scheme+host, used
// by the HTTP/SSE connector to skip re-probing a remote upstream's
// transport kind on every reconnect.
type OriginCache struct {
	mu      sync.Mutex
	entries map[string]originEntry
}

func NewOriginCache() *OriginCache {
	return &OriginCache{entries: make(map[string]originEntry)}
}

func originKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func (c *OriginCache) Get(rawURL string) (originEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[originKey(rawURL)]
	if !ok || time.Since(e.LastSuccessAt) > originCacheTTL {
		return originEntry{}, false
	}
	return e, true
}

func (c *OriginCache) Put(rawURL string, e originEntry) {
	e.LastSuccessAt = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[originKey(rawURL)] = e
}

func (c *OriginCache) Invalidate(rawURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, originKey(rawURL))
}
