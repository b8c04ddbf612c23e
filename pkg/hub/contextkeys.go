package hub

// contextKey is a typed key for context values, kept unexported so only
// this package's accessors can set or read them.
type contextKey string

// sessionIDKey carries the hub-assigned session id (pkg/session) alongside
// a request once middleware.go's session-tracking wrapper has resolved it
// from the incoming *sdkmcp.ServerSession.
const sessionIDKey contextKey = "mcphub-session-id"
