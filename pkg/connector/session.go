package connector

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
)

// Session wraps a connected *sdkmcp.ClientSession with the bookkeeping the
// supervisor and router need: which upstream it belongs to, and which
// protocol version the hub should assume when deciding whether a payload
// adapter applies.
//
// The SDK negotiates the wire protocolVersion internally during Connect
// and doesn't surface the accepted value on ClientSession, so
// ProtocolVersion here is the version this connection is assumed to speak
// — either declared explicitly in the upstream's config (for upstreams
// known to be stuck on an older release) or the hub's own newest
// supported version otherwise. pkg/router consults it before calling
// pkg/protocol.AdaptRequest/AdaptResponse.
type Session struct {
	ServerID        string
	ProtocolVersion string
	raw             *sdkmcp.ClientSession
}

// ListTools returns the upstream's current tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	result, err := s.raw.ListTools(ctx, &sdkmcp.ListToolsParams{})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "list tools")
	}
	return result.Tools, nil
}

// ListPrompts returns the upstream's current prompt catalog.
func (s *Session) ListPrompts(ctx context.Context) ([]*sdkmcp.Prompt, error) {
	result, err := s.raw.ListPrompts(ctx, &sdkmcp.ListPromptsParams{})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "list prompts")
	}
	return result.Prompts, nil
}

// ListResources returns the upstream's current resource catalog.
func (s *Session) ListResources(ctx context.Context) ([]*sdkmcp.Resource, error) {
	result, err := s.raw.ListResources(ctx, &sdkmcp.ListResourcesParams{})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "list resources")
	}
	return result.Resources, nil
}

// ListResourceTemplates returns the upstream's current resource-template
// catalog.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]*sdkmcp.ResourceTemplate, error) {
	result, err := s.raw.ListResourceTemplates(ctx, &sdkmcp.ListResourceTemplatesParams{})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "list resource templates")
	}
	return result.ResourceTemplates, nil
}

// CallTool forwards a tool invocation to the upstream.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*sdkmcp.CallToolResult, error) {
	result, err := s.raw.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, errs.Wrap(errs.KindToolInvocation, err, "call tool "+name)
	}
	return result, nil
}

// GetPrompt forwards a prompt retrieval to the upstream.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*sdkmcp.GetPromptResult, error) {
	result, err := s.raw.GetPrompt(ctx, &sdkmcp.GetPromptParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, errs.Wrap(errs.KindToolInvocation, err, "get prompt "+name)
	}
	return result, nil
}

// ReadResource forwards a resource read to the upstream.
func (s *Session) ReadResource(ctx context.Context, uri string) (*sdkmcp.ReadResourceResult, error) {
	result, err := s.raw.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, errs.Wrap(errs.KindToolInvocation, err, "read resource "+uri)
	}
	return result, nil
}

// Ping sends a ping request to the upstream. A server that replies with
// "method not found" is still considered healthy (graceful degradation);
// callers distinguish that case with errs.Classify.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.raw.Ping(ctx, &sdkmcp.PingParams{}); err != nil {
		return errs.Wrap(errs.KindTransport, err, "ping")
	}
	return nil
}

// Close tears down the underlying SDK session (and, for stdio upstreams,
// kills the child process).
func (s *Session) Close() error {
	return s.raw.Close()
}
