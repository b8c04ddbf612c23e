package hub

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/log"
)

// loggingMiddleware logs every incoming method call and its outcome, in the
// teacher's plain log.Log style (run.go logs roughly one line per lifecycle
// event rather than structured fields).
func loggingMiddleware() sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			if err != nil {
				logDenialOrError(method, err)
			}
			log.Logf("hub: %s took %s", method, time.Since(start))
			return result, err
		}
	}
}

// logDenialOrError applies spec §7's logging policy for terminal errors:
// security-policy denials are logged with context but the offending value
// is redacted first; everything else logs as-is.
func logDenialOrError(method string, err error) {
	var classified *errs.Error
	if e := errs.Classify(err); e != nil {
		classified = e
	}
	if classified == nil {
		log.Logf("hub: %s failed: %v", method, err)
		return
	}
	if classified.Kind == errs.KindSecurityPolicy {
		redacted := errs.Redact(classified.Context, []string{"token", "password", "authorization"})
		log.Logf("hub: %s denied by security policy: %s context=%v", method, classified.Message, redacted)
		return
	}
	log.Logf("hub: %s failed: %s", method, classified.Error())
}
