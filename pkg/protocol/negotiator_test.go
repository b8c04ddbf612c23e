package protocol_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/protocol"
)

type fakeInitializer struct {
	accepts string // version the fake server actually accepts, "" = none
	calls   []string
}

func (f *fakeInitializer) Initialize(_ context.Context, params protocol.InitializeParams) (protocol.InitializeResult, error) {
	f.calls = append(f.calls, params.ProtocolVersion)
	if f.accepts == "" {
		return protocol.InitializeResult{}, fmt.Errorf("unknown version")
	}
	if params.ProtocolVersion != f.accepts {
		// Simulate a server that echoes back the version it actually
		// supports instead of erroring.
		return protocol.InitializeResult{ProtocolVersion: f.accepts}, nil
	}
	return protocol.InitializeResult{
		ProtocolVersion: f.accepts,
		Capabilities:    map[string]any{"tools": map[string]any{}, "progress": map[string]any{}},
	}, nil
}

func TestNegotiateAcceptsFirstMatchingVersion(t *testing.T) {
	f := &fakeInitializer{accepts: protocol.SupportedProtocols[0]}
	n, err := protocol.Negotiate(context.Background(), f, protocol.Implementation{Name: "hub"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.SupportedProtocols[0], n.AcceptedVersion)
	assert.True(t, n.Features.Tools)
	assert.True(t, n.Features.Progress)
}

func TestNegotiateFallsBackS3(t *testing.T) {
	// S3: upstream rejects the latest version, accepts the version-before.
	f := &fakeInitializer{accepts: protocol.SupportedProtocols[1]}
	n, err := protocol.Negotiate(context.Background(), f, protocol.Implementation{Name: "hub"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.SupportedProtocols[1], n.AcceptedVersion)
	assert.Len(t, f.calls, 2)
}

func TestNegotiateFailsWhenNoVersionAccepted(t *testing.T) {
	f := &fakeInitializer{accepts: ""}
	_, err := protocol.Negotiate(context.Background(), f, protocol.Implementation{Name: "hub"}, time.Second)
	require.Error(t, err)
	var failed *protocol.FailedError
	require.True(t, errors.As(err, &failed))
	assert.Len(t, failed.Attempted, len(protocol.SupportedProtocols))
}

func TestAdaptRequestPassthroughWhenNoAdapter(t *testing.T) {
	payload := map[string]any{"name": "echo"}
	out := protocol.AdaptRequest("tools/call", "2025-06-18", "2025-06-18", payload)
	assert.Equal(t, payload, out)
}

func TestAdaptResponseNormalizesLegacyError(t *testing.T) {
	payload := map[string]any{"error": "boom"}
	out := protocol.AdaptResponse("tools/call", "2025-06-18", "2024-11-05", payload)
	assert.Equal(t, true, out["isError"])
	assert.NotContains(t, out, "error")
}
