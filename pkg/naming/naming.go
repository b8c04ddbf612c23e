// Package naming implements the hub's pure name/URI mapping between an
// upstream's (serverId, localName) pair and the public name the hub exposes
// downstream. Every function here is side-effect free except for the
// bounded LRU parse cache, which only ever memoizes a pure computation.
package naming

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Strategy selects how publicName is derived from (serverId, localName).
type Strategy string

const (
	StrategyPrefix    Strategy = "prefix"
	StrategySuffix    Strategy = "suffix"
	StrategyNamespace Strategy = "namespace"
	StrategyAlias     Strategy = "alias"
	StrategyError     Strategy = "error"
	StrategyNone      Strategy = "none"
)

const (
	maxServerIDLen  = 100
	maxLocalNameLen = 200
	defaultCacheLen = 1000
)

// Config configures one naming scheme.
type Config struct {
	Strategy  Strategy
	Separator string
	// Aliases maps a publicName to another publicName; consulted only by
	// the alias strategy's decoder when a direct serverId/localName split
	// is ambiguous. Kept here so Config fully determines the mapping.
	Aliases map[string]string
}

func (c Config) sep() string {
	if c.Separator == "" {
		return "_"
	}
	return c.Separator
}

// sanitize rewrites the reserved '.' to '_' — publicName may never contain
// a period, which downstream clients and some transports treat specially.
func sanitize(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// ErrTooLong is returned by Generate when serverId or localName exceeds the
// length caps.
type ErrTooLong struct {
	Field string
	Value string
	Max   int
}

func (e *ErrTooLong) Error() string {
	return fmt.Sprintf("naming: %s %q exceeds max length %d", e.Field, e.Value, e.Max)
}

// Generate computes publicName for (serverId, localName) under cfg.
func Generate(serverID, localName string, cfg Config) (string, error) {
	if len(serverID) > maxServerIDLen {
		return "", &ErrTooLong{Field: "serverId", Value: serverID, Max: maxServerIDLen}
	}
	if len(localName) > maxLocalNameLen {
		return "", &ErrTooLong{Field: "localName", Value: localName, Max: maxLocalNameLen}
	}

	serverID = sanitize(serverID)
	localName = sanitize(localName)
	sep := cfg.sep()

	switch cfg.Strategy {
	case StrategySuffix, StrategyNamespace:
		return localName + sep + serverID, nil
	case StrategyPrefix, StrategyAlias:
		return serverID + sep + localName, nil
	case StrategyError:
		return localName, nil
	case StrategyNone:
		return localName, nil
	default:
		return "", fmt.Errorf("naming: unknown strategy %q", cfg.Strategy)
	}
}

// ErrUnresolvable is returned by Parse when the strategy cannot decode a
// publicName on its own (strategy "error" requires an ambient registry
// lookup instead).
var ErrUnresolvable = fmt.Errorf("naming: strategy requires registry lookup")

// Parsed is the decoded (serverId, localName) pair.
type Parsed struct {
	ServerID  string
	LocalName string
}

// parserCaches holds one bounded LRU per (strategy, separator) pair, as
// required by the "per-strategy-per-separator" cache invariant.
var (
	parserCachesMu sync.Mutex
	parserCaches   = map[string]*lru.Cache{}
)

func cacheFor(cfg Config) *lru.Cache {
	key := string(cfg.Strategy) + "\x00" + cfg.sep()
	parserCachesMu.Lock()
	defer parserCachesMu.Unlock()
	c, ok := parserCaches[key]
	if !ok {
		c, _ = lru.New(defaultCacheLen)
		parserCaches[key] = c
	}
	return c
}

// Parse decodes publicName back into (serverId, localName) under cfg.
// Strategies suffix/namespace split on the LAST separator occurrence;
// prefix/alias split on the FIRST. Strategy "error" always fails — the
// caller must fall back to a direct registry lookup by publicName.
// Strategy "none" is the identity mapping.
func Parse(publicName string, cfg Config) (Parsed, error) {
	cache := cacheFor(cfg)
	if v, ok := cache.Get(publicName); ok {
		parsed := v.(Parsed)
		return parsed, nil
	}

	parsed, err := parseUncached(publicName, cfg)
	if err != nil {
		return Parsed{}, err
	}
	cache.Add(publicName, parsed)
	return parsed, nil
}

func parseUncached(publicName string, cfg Config) (Parsed, error) {
	sep := cfg.sep()

	switch cfg.Strategy {
	case StrategySuffix, StrategyNamespace:
		idx := strings.LastIndex(publicName, sep)
		if idx < 0 {
			return Parsed{}, fmt.Errorf("naming: %q has no separator %q", publicName, sep)
		}
		return Parsed{LocalName: publicName[:idx], ServerID: publicName[idx+len(sep):]}, nil

	case StrategyPrefix, StrategyAlias:
		idx := strings.Index(publicName, sep)
		if idx < 0 {
			return Parsed{}, fmt.Errorf("naming: %q has no separator %q", publicName, sep)
		}
		return Parsed{ServerID: publicName[:idx], LocalName: publicName[idx+len(sep):]}, nil

	case StrategyError:
		return Parsed{}, ErrUnresolvable

	case StrategyNone:
		return Parsed{LocalName: publicName}, nil

	default:
		return Parsed{}, fmt.Errorf("naming: unknown strategy %q", cfg.Strategy)
	}
}
