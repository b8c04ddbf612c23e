// Package errs implements the hub's closed error taxonomy: every error that
// crosses a component boundary is classified into one of a fixed set of
// kinds so callers can make routing and retry decisions without parsing
// messages.
package errs

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the closed set of error kinds the hub ever surfaces.
type Kind string

const (
	KindConfig             Kind = "config"
	KindTransport           Kind = "transport"
	KindProtocol            Kind = "protocol"
	KindToolInvocation      Kind = "tool-invocation"
	KindResourceNotFound    Kind = "resource-not-found"
	KindServerNotConnected  Kind = "server-not-connected"
	KindTimeout             Kind = "timeout"
	KindSession             Kind = "session"
	KindUnsupportedFeature  Kind = "unsupported-feature"
	KindSecurityPolicy      Kind = "security-policy"
	KindIntegrity           Kind = "integrity"
	KindInternal            Kind = "internal"
	KindUnknown             Kind = "unknown"
)

// Severity ranks how serious an error is for alerting/logging purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the concrete error type carried across the hub.
type Error struct {
	Kind        Kind
	Message     string
	Cause       error
	Context     map[string]any
	Recoverable bool
	Severity    Severity
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error with a stack trace attached via
// github.com/pkg/errors so diagnostic logging can render a trace.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: pkgerrors.New(message), Severity: defaultSeverity(kind)}
}

// Wrap classifies cause under kind, preserving it as the wrapped cause.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{
		Kind:     kind,
		Message:  message,
		Cause:    pkgerrors.Wrap(cause, message),
		Severity: defaultSeverity(kind),
	}
}

// WithContext attaches structured context, e.g. {"serverId": "srv_a"}.
func (e *Error) WithContext(kv map[string]any) *Error {
	e.Context = kv
	return e
}

// WithRecoverable marks whether the caller may retry the operation.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindIntegrity, KindSecurityPolicy, KindInternal:
		return SeverityCritical
	case KindTransport, KindProtocol, KindServerNotConnected:
		return SeverityHigh
	case KindTimeout, KindSession, KindToolInvocation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Classify converts an arbitrary error from a collaborator into the
// taxonomy by inspecting its message for known substrings, falling back to
// KindInternal for plain errors and KindUnknown otherwise.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return Wrap(KindTimeout, err, "operation timed out")
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "transport"),
		strings.Contains(msg, "eof"):
		return Wrap(KindTransport, err, "transport failure")
	case strings.Contains(msg, "config"), strings.Contains(msg, "validation"):
		return Wrap(KindConfig, err, "invalid configuration")
	default:
		return Wrap(KindInternal, err, "internal error")
	}
}

// Redact replaces values whose key matches redactKeys (case-insensitive) or
// whose value looks like a secret (bearer token, API key, GitHub token)
// with "[REDACTED]". It is used by pkg/log and by the downstream error
// surface before propagating context to untrusted clients.
func Redact(context map[string]any, redactKeys []string) map[string]any {
	if context == nil {
		return nil
	}
	redactSet := make(map[string]struct{}, len(redactKeys))
	for _, k := range redactKeys {
		redactSet[strings.ToLower(k)] = struct{}{}
	}
	out := make(map[string]any, len(context))
	for k, v := range context {
		if _, ok := redactSet[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok && looksLikeSecret(s) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func looksLikeSecret(v string) bool {
	switch {
	case strings.HasPrefix(v, "Bearer "):
		return true
	case strings.HasPrefix(v, "ghp_"), strings.HasPrefix(v, "gho_"), strings.HasPrefix(v, "github_pat_"):
		return true
	case strings.HasPrefix(v, "sk-"), strings.HasPrefix(v, "sk_"):
		return true
	default:
		return false
	}
}
