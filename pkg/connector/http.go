package connector

import (
	"context"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
)

// authenticatedRoundTripper injects the upstream's configured
// authentication (bearer token or basic auth) and any static headers into
// every outbound request before delegating to base.
type authenticatedRoundTripper struct {
	auth    Auth
	headers map[string]string
	base    http.RoundTripper
}

func (rt *authenticatedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	switch rt.auth.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+rt.auth.Token)
	case AuthBasic:
		req.SetBasicAuth(rt.auth.Username, rt.auth.Password)
	}
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func httpClientFor(spec RemoteSpec) *http.Client {
	timeout := spec.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &authenticatedRoundTripper{auth: spec.Auth, headers: spec.Headers},
	}
}

// ConnectStreamableHTTP dials a remote upstream over the streamable-HTTP
// transport and completes the SDK's initialize handshake.
func ConnectStreamableHTTP(ctx context.Context, client *sdkmcp.Client, spec Spec) (*Session, error) {
	if spec.Remote == nil {
		return nil, errs.New(errs.KindConfig, "ConnectStreamableHTTP requires a Remote spec")
	}
	transport := &sdkmcp.StreamableClientTransport{
		Endpoint:   spec.Remote.URL,
		HTTPClient: httpClientFor(*spec.Remote),
	}
	raw, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "connect streamable-http upstream "+spec.ServerID)
	}
	return &Session{ServerID: spec.ServerID, raw: raw}, nil
}
