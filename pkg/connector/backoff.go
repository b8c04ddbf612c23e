package connector

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcphub/hub/pkg/log"
)

// ReconnectPolicy bounds how many times and for how long a dropped
// upstream connection is retried before the supervisor gives up and marks
// it crashed.
type ReconnectPolicy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
}

// newReconnectBackOff configures the doubling sequence min(base·2^(k-1), 30s)
// spec §8 Testable Property 5 requires for the k-th reconnect delay: the
// library's 1.5x default multiplier and ±50% jitter would never produce
// that exact sequence, so both are overridden.
func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// RunWithReconnect calls connect repeatedly with exponential backoff until
// it succeeds, the policy's bounds are exhausted, or ctx is cancelled.
// attempt is 1-indexed and passed to connect so callers can log it.
func RunWithReconnect(ctx context.Context, policy ReconnectPolicy, connect func(ctx context.Context, attempt int) (*Session, error)) (*Session, error) {
	b := newReconnectBackOff()

	var lastErr error
	deadline := time.Time{}
	if policy.MaxElapsed > 0 {
		deadline = time.Now().Add(policy.MaxElapsed)
	}

	for attempt := 1; ; attempt++ {
		session, err := connect(ctx, attempt)
		if err == nil {
			return session, nil
		}
		lastErr = err

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		wait := b.NextBackOff()
		log.Warnf("reconnect attempt %d failed, retrying in %s: %v", attempt, wait, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
