package protocol

// AdapterFunc transforms a request or response payload between protocol
// versions. It must be a pure function: same input, same output, no
// side effects — the hub calls it on the hot path of every forwarded call.
type AdapterFunc func(payload map[string]any) map[string]any

type adapterKey struct {
	method string
	from   string
	to     string
}

// adapters holds every registered (method, fromVersion, toVersion) pure
// transform. Registered once at package init; never mutated afterward.
var adapters = map[adapterKey]AdapterFunc{}

// RegisterAdapter installs a pure payload transform for method when moving
// from fromVersion to toVersion. Intended to be called from init()-time
// registration blocks, one per version-skew quirk that needs handling.
func RegisterAdapter(method, fromVersion, toVersion string, fn AdapterFunc) {
	adapters[adapterKey{method, fromVersion, toVersion}] = fn
}

// AdaptRequest transforms a client-shaped request payload (always composed
// at the hub's newest supported version) down to whatever version the
// upstream accepted. If no adapter is registered for the pair, the payload
// passes through unchanged — most method/version pairs need no adaptation.
func AdaptRequest(method, fromVersion, toVersion string, payload map[string]any) map[string]any {
	if fromVersion == toVersion {
		return payload
	}
	if fn, ok := adapters[adapterKey{method, fromVersion, toVersion}]; ok {
		return fn(payload)
	}
	return payload
}

// AdaptResponse transforms an upstream response shaped at toVersion back
// into the shape the downstream caller expects at fromVersion.
func AdaptResponse(method, fromVersion, toVersion string, payload map[string]any) map[string]any {
	if fromVersion == toVersion {
		return payload
	}
	if fn, ok := adapters[adapterKey{method, toVersion, fromVersion}]; ok {
		return fn(payload)
	}
	return payload
}

func init() {
	// 2024-11-05 tools/call responses report tool failures via a bare
	// "error" string field instead of the structured isError content
	// block introduced in 2025-03-26; normalize both directions so the
	// router never has to special-case the older servers.
	RegisterAdapter("tools/call", "2025-03-26", "2024-11-05", func(p map[string]any) map[string]any {
		out := cloneMap(p)
		if errMsg, ok := out["error"].(string); ok {
			delete(out, "error")
			out["isError"] = true
			out["content"] = []any{map[string]any{"type": "text", "text": errMsg}}
		}
		return out
	})

	// 2024-11-05 clients don't understand the progressToken living under
	// "_meta"; older servers expect it as a top-level "progressToken"
	// request field.
	RegisterAdapter("tools/call", "2025-06-18", "2024-11-05", func(p map[string]any) map[string]any {
		out := cloneMap(p)
		if meta, ok := out["_meta"].(map[string]any); ok {
			if tok, ok := meta["progressToken"]; ok {
				out["progressToken"] = tok
			}
			delete(out, "_meta")
		}
		return out
	})
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
