package connector

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
)

// ConnectSSE dials a remote upstream over the legacy two-endpoint HTTP+SSE
// transport (2024-11-05) and completes the SDK's initialize handshake.
func ConnectSSE(ctx context.Context, client *sdkmcp.Client, spec Spec) (*Session, error) {
	if spec.Remote == nil {
		return nil, errs.New(errs.KindConfig, "ConnectSSE requires a Remote spec")
	}
	transport := &sdkmcp.SSEClientTransport{
		Endpoint:   spec.Remote.URL,
		HTTPClient: httpClientFor(*spec.Remote),
	}
	raw, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "connect sse upstream "+spec.ServerID)
	}
	return &Session{ServerID: spec.ServerID, raw: raw}, nil
}
