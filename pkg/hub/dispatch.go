package hub

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/router"
)

// toolHandler closes over publicName and forwards every call for it through
// the router (spec §4.7 "tools/call ... go through the router").
func (h *Hub) toolHandler(publicName string) sdkmcp.ToolHandler {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		decision := h.router.RouteTool(ctx, publicName)

		token := progressToken(req)
		var onProgress router.ProgressFunc
		if token != "" {
			onProgress = func(tok string, progress int) {
				notifyProgress(ctx, req.Session, tok, progress)
			}
		}

		result, err := h.router.CallTool(ctx, decision, req.Params.Arguments, token, onProgress)
		if err != nil {
			return toolError(err), nil
		}
		return result, nil
	}
}

// promptHandler closes over publicName and forwards prompts/get through the
// router.
func (h *Hub) promptHandler(publicName string) sdkmcp.PromptHandler {
	return func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		decision := h.router.RoutePrompt(ctx, publicName)
		return h.router.GetPrompt(ctx, decision, req.Params.Arguments)
	}
}

// resourceHandler closes over publicName and forwards resources/read
// through the router. Used for both concrete resources and resource
// templates: a template's handler is only ever invoked with the URI the
// client actually requested, so router.RouteResource's registry fallback
// (rather than naming.Parse) is what resolves it in practice.
func (h *Hub) resourceHandler(publicName string) sdkmcp.ResourceHandler {
	return func(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
		uri := publicName
		if req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		decision := h.router.RouteResource(ctx, uri)
		return h.router.ReadResource(ctx, decision)
	}
}

// progressToken reads the caller-supplied progress token off a tools/call
// request, if any. The SDK's CallToolParams embeds the MCP _meta envelope
// and exposes it via GetProgressToken(); tokens are opaque (string or
// number on the wire), so this normalizes to string for router.ProgressFunc.
func progressToken(req *sdkmcp.CallToolRequest) string {
	if req == nil || req.Params == nil {
		return ""
	}
	tok := req.Params.GetProgressToken()
	if tok == nil {
		return ""
	}
	return fmt.Sprintf("%v", tok)
}

// notifyProgress relays one synthetic progress tick to the downstream
// client that originated the call. Errors are swallowed: a progress
// notification is best-effort and must never fail the underlying tool call.
func notifyProgress(ctx context.Context, session *sdkmcp.ServerSession, token string, progress int) {
	if session == nil {
		return
	}
	_ = session.NotifyProgress(ctx, &sdkmcp.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      float64(progress),
	})
}

// toolError converts a router/supervisor error into an in-band tool result
// (isError: true) rather than a transport-level failure, matching how the
// MCP spec distinguishes "the tool ran and failed" from "the call itself
// couldn't be dispatched".
func toolError(err error) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
	}
}
