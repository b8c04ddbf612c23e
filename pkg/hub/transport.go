package hub

import (
	"context"
	"net"
	"net/http"
	"net/url"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/health"
)

// TransportKind selects which wire transport Serve exposes the hub on.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	Transport TransportKind
	// AuthToken, if non-empty, gates SSE/streamable-HTTP behind Bearer auth.
	// Ignored for stdio, which has no network-facing surface to protect.
	AuthToken string
	// SkipOriginCheck disables the localhost-only Origin check, for
	// deployments (e.g. inside a container's private network) where the
	// hub is reached from somewhere other than the operator's own browser.
	SkipOriginCheck bool
}

// Serve runs the hub on the configured transport until ctx is cancelled or
// the transport's listener errors. For SSE/streamable-HTTP, ln must already
// be listening — callers bind it as early as possible so they don't drop
// an incoming connection during startup (spec §4.7 transport serving).
func (h *Hub) Serve(ctx context.Context, ln net.Listener, opts ServeOptions) error {
	switch opts.Transport {
	case TransportStdio:
		return h.mcpServer.Run(ctx, &sdkmcp.StdioTransport{})
	case TransportSSE:
		handler := sdkmcp.NewSSEHandler(func(_ *http.Request) *sdkmcp.Server { return h.mcpServer }, nil)
		return h.serveHTTP(ctx, ln, "/sse", handler, opts)
	case TransportStreamableHTTP:
		handler := sdkmcp.NewStreamableHTTPHandler(func(_ *http.Request) *sdkmcp.Server { return h.mcpServer }, nil)
		return h.serveHTTP(ctx, ln, "/mcp", handler, opts)
	default:
		return &unsupportedTransportError{kind: opts.Transport}
	}
}

func (h *Hub) serveHTTP(ctx context.Context, ln net.Listener, path string, endpoint http.Handler, opts ServeOptions) error {
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(h))
	mux.Handle("/", redirectHandler(path))

	var protected http.Handler = endpoint
	if !opts.SkipOriginCheck {
		protected = originSecurityMiddleware(protected)
	}
	mux.Handle(path, protected)

	var root http.Handler = mux
	if opts.AuthToken != "" {
		root = authMiddleware(opts.AuthToken, root)
	}

	server := &http.Server{Handler: root}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return server.Serve(ln)
}

func redirectHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

func healthHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := h.HealthState()
		if state == health.StateReady {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(state))
	}
}

// isAllowedOrigin reports whether origin is the operator's own browser
// (localhost/127.0.0.1, any port), the only origins that can legitimately
// hold a session cookie-free credential for a locally run hub.
func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// originSecurityMiddleware rejects cross-origin requests that carry an
// Origin header pointing somewhere other than localhost, defending against
// DNS-rebinding attacks against a hub bound to a local port.
func originSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isAllowedOrigin(origin) {
			http.Error(w, "Forbidden: invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type unsupportedTransportError struct{ kind TransportKind }

func (e *unsupportedTransportError) Error() string {
	return "hub: unsupported transport " + string(e.kind)
}
