// Package connector implements the two upstream connector families: child
// processes reached over stdio (§4.3) and remote servers reached over
// HTTP or SSE (§4.4). Both expose the same minimal Transport contract so
// the supervisor and router never need to know which kind of upstream
// they're talking to.
package connector

import "time"

// AuthKind selects how a remote upstream is authenticated.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
)

// Auth carries credentials for a remote upstream. Token/Username/Password
// are resolved from the secrets store by the caller before Spec is built;
// the connector never reads the secrets store itself.
type Auth struct {
	Kind     AuthKind
	Token    string
	Username string
	Password string
}

// TransportKind selects (or requests auto-selection of) a remote
// transport.
type TransportKind string

const (
	TransportAuto           TransportKind = "auto"
	TransportHTTP           TransportKind = "http"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// LocalSpec spawns a child process and speaks newline-delimited JSON-RPC
// over its stdio.
type LocalSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	AutoRestart  bool
	MaxRestarts  int
	RestartDelay time.Duration
}

// NpxSpec spawns an on-demand packaged front-end (e.g. `npx <package>`).
// It is otherwise identical to LocalSpec but the connector passes extra
// flags to suppress interactive prompts and prefer an offline cache, and
// applies a larger init deadline on a cold (uncached) first run.
type NpxSpec struct {
	Package     string
	Version     string
	Args        []string
	Env         map[string]string
	WorkDir     string
	InitTimeout time.Duration

	AutoRestart  bool
	MaxRestarts  int
	RestartDelay time.Duration
}

// RemoteSpec reaches an upstream over HTTP or SSE.
type RemoteSpec struct {
	URL       string
	Transport TransportKind
	Headers   map[string]string
	Auth      Auth

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	ConnectTimeout  time.Duration
	MaxReconnects   int
	MaxReconnectDur time.Duration
}

// Spec is the tagged union of upstream kinds (spec.md §3 "Spec variant").
type Spec struct {
	ServerID string
	Local    *LocalSpec
	Npx      *NpxSpec
	Remote   *RemoteSpec

	// AssumedProtocolVersion declares which MCP protocol version this
	// upstream is known to speak, for upstreams stuck on an older
	// release. The go-sdk negotiates the wire protocolVersion internally
	// and doesn't surface the accepted value, so this is how an operator
	// tells the router which payload adapters (pkg/protocol) to apply.
	// Empty means "assume the hub's newest supported version".
	AssumedProtocolVersion string
}

// Kind is a small discriminator used for logging/metrics labels.
func (s Spec) Kind() string {
	switch {
	case s.Local != nil:
		return "local"
	case s.Npx != nil:
		return "npx"
	case s.Remote != nil:
		return "remote"
	default:
		return "unknown"
	}
}
