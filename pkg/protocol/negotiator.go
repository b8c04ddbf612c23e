// Package protocol implements the multi-version JSON-RPC initialize
// handshake the hub performs against every upstream, plus the pure
// request/response adapters that translate a payload between the
// downstream client's protocol version and whatever version the upstream
// actually accepted.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/mcphub/hub/pkg/errs"
)

// SupportedProtocols lists every protocol version the hub understands, in
// priority order (highest-preference first). Negotiate tries each in turn.
var SupportedProtocols = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// Implementation identifies the hub to an upstream during initialize.
type Implementation struct {
	Name    string
	Version string
}

// InitializeParams is the subset of the MCP initialize request the
// negotiator sends.
type InitializeParams struct {
	ProtocolVersion string
	Capabilities    map[string]any
	ClientInfo      Implementation
}

// InitializeResult is the subset of the MCP initialize response the
// negotiator inspects.
type InitializeResult struct {
	ProtocolVersion string
	Capabilities    map[string]any
	ServerInfo      Implementation
}

// Initializer sends one initialize attempt at a specific protocol version
// and returns the raw result. Implemented by the connector on top of its
// concrete transport.
type Initializer interface {
	Initialize(ctx context.Context, params InitializeParams) (InitializeResult, error)
}

// Features is the boolean feature map derived from a server's declared
// capabilities.
type Features struct {
	Notifications     bool
	Resources         bool
	Prompts           bool
	Tools             bool
	Progress          bool
	ResourceTemplates bool
}

// Negotiated is the outcome of a successful handshake.
type Negotiated struct {
	AcceptedVersion string
	ServerCaps      map[string]any
	Features        Features
	AttemptedOrder  []string
}

// FailedError is returned when no protocol version was accepted.
type FailedError struct {
	Attempted []string
	Errors    []error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("protocol-negotiation-failed: attempted %v", e.Attempted)
}

// Negotiate tries each of SupportedProtocols in priority order, sending
// initialize with a per-attempt deadline. The first response that echoes
// back the protocolVersion it was sent is accepted.
func Negotiate(ctx context.Context, init Initializer, clientInfo Implementation, perAttemptTimeout time.Duration) (*Negotiated, error) {
	var attempted []string
	var errsOut []error

	for _, version := range SupportedProtocols {
		attempted = append(attempted, version)

		attemptCtx := ctx
		var cancel context.CancelFunc
		if perAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, perAttemptTimeout)
		}
		result, err := init.Initialize(attemptCtx, InitializeParams{
			ProtocolVersion: version,
			Capabilities:    map[string]any{},
			ClientInfo:      clientInfo,
		})
		if cancel != nil {
			cancel()
		}
		if err != nil {
			errsOut = append(errsOut, err)
			continue
		}
		if result.ProtocolVersion != version {
			errsOut = append(errsOut, fmt.Errorf("server accepted %q instead of %q", result.ProtocolVersion, version))
			continue
		}

		return &Negotiated{
			AcceptedVersion: version,
			ServerCaps:      result.Capabilities,
			Features:        featuresFromCaps(result.Capabilities),
			AttemptedOrder:  attempted,
		}, nil
	}

	return nil, errs.Wrap(errs.KindProtocol, &FailedError{Attempted: attempted, Errors: errsOut}, "no protocol version accepted")
}

func featuresFromCaps(caps map[string]any) Features {
	has := func(key string) bool {
		_, ok := caps[key]
		return ok
	}
	f := Features{
		Resources:         has("resources"),
		Prompts:           has("prompts"),
		Tools:             has("tools"),
		ResourceTemplates: has("resourceTemplates"),
	}
	if res, ok := caps["resources"].(map[string]any); ok {
		if _, ok := res["subscribe"]; ok {
			f.Notifications = true
		}
	}
	if _, ok := caps["progress"]; ok {
		f.Progress = true
	}
	return f
}
