package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryStartsInStartingState(t *testing.T) {
	r := NewRegistry(Config{})
	assert.Equal(t, StateStarting, r.State())
}

func TestAllGreenProbesReachReadyAndRecordReadyAtOnce(t *testing.T) {
	r := NewRegistry(Config{})
	r.Register(Probe{Component: "upstream", Name: "a", Critical: true, Check: func(ctx context.Context) error { return nil }})
	r.Register(Probe{Component: "session", Name: "store", Check: func(ctx context.Context) error { return nil }})

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateReady, state)

	readyAt, ok := r.ReadyAt()
	require.True(t, ok)

	time.Sleep(time.Millisecond)
	r.Evaluate(context.Background())
	readyAt2, _ := r.ReadyAt()
	assert.Equal(t, readyAt, readyAt2, "readyAt must be recorded once, not refreshed on every green evaluation")
}

func TestNonCriticalFailureYieldsNotReady(t *testing.T) {
	r := NewRegistry(Config{})
	r.Register(Probe{Component: "cache", Name: "warm", Check: func(ctx context.Context) error { return errors.New("cold") }})

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateNotReady, state)
}

func TestCriticalFailureBelowThresholdYieldsFailing(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3})
	r.Register(Probe{Component: "upstream", Name: "a", Critical: true, Check: func(ctx context.Context) error { return errors.New("down") }})

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateFailing, state)
}

func TestCriticalFailureAtThresholdYieldsFailed(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2})
	r.Register(Probe{Component: "upstream", Name: "a", Critical: true, Check: func(ctx context.Context) error { return errors.New("down") }})

	r.Evaluate(context.Background())
	state := r.Evaluate(context.Background())
	assert.Equal(t, StateFailed, state)
}

func TestRecoveryResetsFailureStreak(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2})
	failing := true
	r.Register(Probe{Component: "upstream", Name: "a", Critical: true, Check: func(ctx context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}})

	r.Evaluate(context.Background())
	failing = false
	state := r.Evaluate(context.Background())
	assert.Equal(t, StateReady, state)

	failing = true
	r.Evaluate(context.Background())
	state = r.Evaluate(context.Background())
	assert.Equal(t, StateFailed, state, "streak must restart from zero after a recovery, not resume toward the old threshold")
}

func TestUnregisterStopsContributingToAggregate(t *testing.T) {
	r := NewRegistry(Config{})
	r.Register(Probe{Component: "cache", Name: "warm", Check: func(ctx context.Context) error { return errors.New("cold") }})
	r.Evaluate(context.Background())
	require.Equal(t, StateNotReady, r.State())

	r.Unregister("cache", "warm")
	state := r.Evaluate(context.Background())
	assert.Equal(t, StateReady, state)
}

func TestProbeTimeoutFailsTheProbe(t *testing.T) {
	r := NewRegistry(Config{ProbeTimeout: time.Millisecond})
	r.Register(Probe{Component: "slow", Name: "probe", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	state := r.Evaluate(context.Background())
	assert.Equal(t, StateNotReady, state)
}
