package connector

import (
	"context"
	"net/url"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/log"
	"github.com/mcphub/hub/pkg/protocol"
)

// newClient builds the one *sdkmcp.Client used for a connection attempt.
// The teacher's own equivalent code (and the rest of the corpus) builds a
// fresh client per connection rather than sharing one across upstreams,
// since mcp.Client carries the roots/sampling handlers for a single peer.
func newClient(clientInfo protocol.Implementation) *sdkmcp.Client {
	return sdkmcp.NewClient(&sdkmcp.Implementation{Name: clientInfo.Name, Version: clientInfo.Version}, nil)
}

func resolveProtocolVersion(spec Spec) string {
	if spec.AssumedProtocolVersion != "" {
		return spec.AssumedProtocolVersion
	}
	return protocol.SupportedProtocols[0]
}

// Connect dispatches to the right connector family for spec and, for
// remote upstreams whose transport is TransportAuto, tries streamable
// HTTP first and falls back to the legacy SSE transport on a
// transport-shaped failure. A successful remote connection is recorded in
// cache so the next reconnect skips the probe.
func Connect(ctx context.Context, spec Spec, clientInfo protocol.Implementation, cache *OriginCache) (*Session, error) {
	client := newClient(clientInfo)

	switch {
	case spec.Local != nil, spec.Npx != nil:
		session, err := ConnectStdio(ctx, client, spec)
		if err != nil {
			return nil, err
		}
		session.ProtocolVersion = resolveProtocolVersion(spec)
		return session, nil

	case spec.Remote != nil:
		return connectRemote(ctx, client, spec, cache)

	default:
		return nil, errs.New(errs.KindConfig, "spec has no Local, Npx or Remote variant")
	}
}

// inferTransportFromURL implements spec §4.4 step 1's path-suffix rule for
// a URL with no explicit transport and no cached origin entry: "/sse",
// "/events", "/stream" select SSE; "/mcp" selects streamable HTTP;
// anything else defaults to plain request/response HTTP (served by the
// same streamable-HTTP client, which also handles the non-streaming case).
func inferTransportFromURL(rawURL string) TransportKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TransportHTTP
	}
	switch {
	case strings.HasSuffix(u.Path, "/sse"), strings.HasSuffix(u.Path, "/events"), strings.HasSuffix(u.Path, "/stream"):
		return TransportSSE
	case strings.HasSuffix(u.Path, "/mcp"):
		return TransportStreamableHTTP
	default:
		return TransportHTTP
	}
}

func connectRemote(ctx context.Context, client *sdkmcp.Client, spec Spec, cache *OriginCache) (*Session, error) {
	wanted := spec.Remote.Transport
	if wanted == "" {
		wanted = TransportAuto
	}

	if wanted == TransportAuto && cache != nil {
		if entry, ok := cache.Get(spec.Remote.URL); ok {
			wanted = entry.Transport
		}
	}

	tryOrder := []TransportKind{wanted}
	if wanted == TransportAuto {
		// Infer from the URL's path suffix (spec §4.4 step 1) before
		// falling back to the other kind on a transport-shaped failure.
		primary := inferTransportFromURL(spec.Remote.URL)
		fallback := TransportSSE
		if primary == TransportSSE {
			fallback = TransportStreamableHTTP
		}
		tryOrder = []TransportKind{primary, fallback}
	}

	var lastErr error
	for _, kind := range tryOrder {
		var session *Session
		var err error
		switch kind {
		case TransportSSE:
			session, err = ConnectSSE(ctx, client, spec)
		default:
			session, err = ConnectStreamableHTTP(ctx, client, spec)
		}
		if err == nil {
			session.ProtocolVersion = resolveProtocolVersion(spec)
			if cache != nil {
				cache.Put(spec.Remote.URL, originEntry{Transport: kind})
			}
			return session, nil
		}
		lastErr = err
		log.Debugf("upstream %s: %s transport failed: %v", spec.ServerID, kind, err)
		if errs.Classify(err).Kind != errs.KindTransport {
			// A non-transport failure (auth, protocol) won't be fixed by
			// trying a different transport kind.
			break
		}
	}
	return nil, lastErr
}
