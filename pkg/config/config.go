// Package config loads and validates the hub's top-level configuration
// (spec.md §6 "Config top-level"). It is intentionally thin: it resolves
// env-var references, parses YAML or JSONC, and validates structural
// invariants, then hands callers an already-validated Config value. The
// hub core (pkg/hub, pkg/generation) never imports this package directly —
// cmd/mcphubd is the only caller, matching spec.md §1's "config package
// that is intentionally thin" framing.
package config

import (
	"time"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/validate"
)

// ServerType discriminates the tagged union of upstream specs (spec §6
// "Upstream specs").
type ServerType string

const (
	ServerTypeLocal  ServerType = "local"
	ServerTypeNpx    ServerType = "npx"
	ServerTypeRemote ServerType = "remote"
)

// AuthKind selects how a remote server authenticates.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
)

// AuthSpec names credentials by secrets-store key rather than carrying
// them inline, so a config file committed to source control never
// contains a live token (spec §4.10's secrets store is the source of
// truth; config only references it).
type AuthSpec struct {
	Kind      AuthKind `yaml:"kind" json:"kind" validate:"required,oneof=bearer basic"`
	SecretKey string   `yaml:"secretKey" json:"secretKey" validate:"required"`
}

// ServerSpec is one upstream's configuration entry (spec §6 "Upstream
// specs", the union of local/npx/remote).
type ServerSpec struct {
	ID   string     `yaml:"id" json:"id" validate:"required"`
	Type ServerType `yaml:"type" json:"type" validate:"required,oneof=local npx remote"`

	// local / npx
	Command        string            `yaml:"command,omitempty" json:"command,omitempty" validate:"required_if=Type local"`
	Package        string            `yaml:"package,omitempty" json:"package,omitempty" validate:"required_if=Type npx"`
	Version        string            `yaml:"version,omitempty" json:"version,omitempty"`
	Args           []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd            string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	WorkDir        string            `yaml:"workDir,omitempty" json:"workDir,omitempty"`
	AutoRestart    bool              `yaml:"autoRestart,omitempty" json:"autoRestart,omitempty"`
	MaxRestarts    int               `yaml:"maxRestarts,omitempty" json:"maxRestarts,omitempty"`
	RestartDelayMs int               `yaml:"restartDelayMs,omitempty" json:"restartDelayMs,omitempty"`
	InitTimeoutMs  int               `yaml:"initTimeoutMs,omitempty" json:"initTimeoutMs,omitempty"`

	// remote
	URL         string            `yaml:"url,omitempty" json:"url,omitempty" validate:"required_if=Type remote"`
	Transport   string            `yaml:"transport,omitempty" json:"transport,omitempty" validate:"omitempty,oneof=auto http sse streamable-http"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Auth        *AuthSpec         `yaml:"auth,omitempty" json:"auth,omitempty"`
	HealthCheck *HealthCheckSpec  `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`

	Timeouts *ServerTimeouts `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`

	// AssumedProtocolVersion names the MCP protocolVersion this upstream
	// is known to speak, for servers stuck on an older release.
	AssumedProtocolVersion string `yaml:"assumedProtocolVersion,omitempty" json:"assumedProtocolVersion,omitempty"`
}

type HealthCheckSpec struct {
	IntervalMs int `yaml:"intervalMs,omitempty" json:"intervalMs,omitempty"`
	TimeoutMs  int `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

type ServerTimeouts struct {
	ConnectMs      int `yaml:"connectMs,omitempty" json:"connectMs,omitempty"`
	MaxReconnects  int `yaml:"maxReconnects,omitempty" json:"maxReconnects,omitempty"`
	MaxReconnectMs int `yaml:"maxReconnectMs,omitempty" json:"maxReconnectMs,omitempty"`
}

// HTTPConfig configures the downstream listener.
type HTTPConfig struct {
	Port int    `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
}

// ToolNamingConfig configures pkg/naming's collision-avoidance scheme.
type ToolNamingConfig struct {
	Strategy  string            `yaml:"strategy,omitempty" json:"strategy,omitempty" validate:"omitempty,oneof=prefix suffix namespace alias error none"`
	Separator string            `yaml:"separator,omitempty" json:"separator,omitempty"`
	Aliases   map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// SessionConfig configures pkg/session's Store.
type SessionConfig struct {
	TTLSeconds int    `yaml:"ttlSeconds,omitempty" json:"ttlSeconds,omitempty" validate:"omitempty,min=1"`
	Persist    bool   `yaml:"persist,omitempty" json:"persist,omitempty"`
	Store      string `yaml:"store,omitempty" json:"store,omitempty"`
}

// TimeoutsConfig configures the process-wide timeout defaults spec §5
// names (spawn, initHandshake, healthCheck, toolCall, connect, maxTotal).
type TimeoutsConfig struct {
	SpawnMs         int  `yaml:"spawnMs,omitempty" json:"spawnMs,omitempty"`
	InitHandshakeMs int  `yaml:"initHandshakeMs,omitempty" json:"initHandshakeMs,omitempty"`
	HealthCheckMs   int  `yaml:"healthCheckMs,omitempty" json:"healthCheckMs,omitempty"`
	ToolCallMs      int  `yaml:"toolCallMs,omitempty" json:"toolCallMs,omitempty"`
	ConnectMs       int  `yaml:"connectMs,omitempty" json:"connectMs,omitempty"`
	MaxTotalMs      int  `yaml:"maxTotalMs,omitempty" json:"maxTotalMs,omitempty"`
	ResetOnProgress bool `yaml:"resetOnProgress,omitempty" json:"resetOnProgress,omitempty"`
}

// ConcurrencyConfig bounds parallelism (spec §6 "concurrency").
type ConcurrencyConfig struct {
	Global     int `yaml:"global,omitempty" json:"global,omitempty" validate:"omitempty,min=1"`
	ServerInit int `yaml:"serverInit,omitempty" json:"serverInit,omitempty" validate:"omitempty,min=1"`
	Warmup     int `yaml:"warmup,omitempty" json:"warmup,omitempty" validate:"omitempty,min=1"`
}

// SecurityConfig configures redaction and network egress policy.
type SecurityConfig struct {
	RedactKeys []string `yaml:"redactKeys,omitempty" json:"redactKeys,omitempty"`
	AllowNet   []string `yaml:"allowNet,omitempty" json:"allowNet,omitempty"`
}

// GenerationConfig configures pkg/generation's watcher and MaxGenerations
// bound (spec §6 "generation").
type GenerationConfig struct {
	MaxGenerations int      `yaml:"maxGenerations,omitempty" json:"maxGenerations,omitempty" validate:"omitempty,min=1"`
	GracePeriodMs  int      `yaml:"gracePeriodMs,omitempty" json:"gracePeriodMs,omitempty"`
	AutoReload     bool     `yaml:"autoReload,omitempty" json:"autoReload,omitempty"`
	WatchPaths     []string `yaml:"watchPaths,omitempty" json:"watchPaths,omitempty"`
}

// RolloverConfig configures pkg/generation's promotion/rollback tuning
// (spec §6 "rollover").
type RolloverConfig struct {
	HealthCheckIntervalMs int     `yaml:"healthCheckIntervalMs,omitempty" json:"healthCheckIntervalMs,omitempty"`
	DrainTimeoutMs        int     `yaml:"drainTimeoutMs,omitempty" json:"drainTimeoutMs,omitempty"`
	ErrorRateThreshold    float64 `yaml:"errorRateThreshold,omitempty" json:"errorRateThreshold,omitempty" validate:"omitempty,min=0,max=1"`
	WarmupTimeMs          int     `yaml:"warmupTimeMs,omitempty" json:"warmupTimeMs,omitempty"`
}

// Config is the hub's top-level, validated configuration (spec §6
// "Config top-level"). A Config value is what cmd/mcphubd builds a
// generation.HubFactory snapshot from.
type Config struct {
	Version  int    `yaml:"version" json:"version" validate:"required,min=1,max=1"`
	LogLevel string `yaml:"logLevel,omitempty" json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`

	HTTP       *HTTPConfig       `yaml:"http,omitempty" json:"http,omitempty"`
	Servers    []ServerSpec      `yaml:"servers" json:"servers" validate:"required,min=1,dive"`
	ToolNaming *ToolNamingConfig `yaml:"toolNaming,omitempty" json:"toolNaming,omitempty"`

	Session     *SessionConfig     `yaml:"session,omitempty" json:"session,omitempty"`
	Timeouts    *TimeoutsConfig    `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
	Concurrency *ConcurrencyConfig `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Security    *SecurityConfig    `yaml:"security,omitempty" json:"security,omitempty"`
	Generation  *GenerationConfig  `yaml:"generation,omitempty" json:"generation,omitempty"`
	Rollover    *RolloverConfig    `yaml:"rollover,omitempty" json:"rollover,omitempty"`
}

// Validate checks structural invariants beyond what struct tags express:
// server ids must be unique, and every local/npx server needs a command
// or package respectively (the required_if tag already partially covers
// this, but duplicate-id detection needs a second pass over the slice).
func (c *Config) Validate() error {
	if err := validate.Get().Struct(c); err != nil {
		return errs.Wrap(errs.KindConfig, err, "invalid configuration")
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if seen[s.ID] {
			return errs.New(errs.KindConfig, "duplicate server id: "+s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func msDuration(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
