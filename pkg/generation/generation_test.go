package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/hub"
	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/protocol"
)

func testConfig() Config {
	return Config{
		WarmupWindow: time.Millisecond,
		DrainPoll:    time.Millisecond,
		DrainTimeout: 10 * time.Millisecond,
		GracePeriod:  time.Millisecond,
	}
}

func testHubFactory(_ context.Context, _ any) (*hub.Hub, error) {
	return hub.New(hub.Config{
		Implementation: protocol.Implementation{Name: "gen-test", Version: "0.0.0"},
		Naming:         naming.Config{Strategy: naming.StrategyPrefix, Separator: "_"},
	}), nil
}

func failingHubFactory(_ context.Context, _ any) (*hub.Hub, error) {
	return nil, assert.AnError
}

func TestPromoteBuildsAndActivatesGeneration(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)

	gen, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, gen.State())
	assert.Equal(t, WorkerHealthy, gen.Worker.State())
	assert.Same(t, gen, c.Active())
}

func TestPromoteFactoryErrorLeavesNoGeneration(t *testing.T) {
	c := New(testConfig(), failingHubFactory, nil)

	_, err := c.Promote(context.Background(), "snapshot-1")
	require.Error(t, err)
	assert.Nil(t, c.Active())
}

func TestPromoteRespectsMaxGenerations(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 1
	c := New(cfg, testHubFactory, nil)

	_, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)

	_, err = c.Promote(context.Background(), "snapshot-2")
	assert.Error(t, err, "a second generation must be refused once maxGenerations is reached")
}

func TestRollbackWithNoEarlierGenerationErrors(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)

	_, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)

	_, err = c.Rollback(context.Background())
	assert.Error(t, err)
}

func TestRollbackReturnsToEarlierGeneration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 5
	cfg.DrainTimeout = time.Hour // keep gen 1 draining, not yet retired, for this test
	c := New(cfg, testHubFactory, nil)

	first, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)

	// Pin a session to gen 1 so its drain doesn't retire it instantly once
	// gen 2 is promoted.
	_, err = c.AssignWorker("pinned-session", first.ID)
	require.NoError(t, err)

	_, err = c.Promote(context.Background(), "snapshot-2")
	require.NoError(t, err)

	rolledBack, err := c.Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, rolledBack.ID)
	assert.Equal(t, first.ID, c.Active().ID)
}

func TestAssignWorkerPicksActiveGeneration(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)
	gen, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)

	worker, err := c.AssignWorker("session-1", 0)
	require.NoError(t, err)
	assert.Same(t, gen.Worker, worker)
	assert.EqualValues(t, 1, worker.ActiveSessions())

	c.ReleaseSession("session-1")
	assert.EqualValues(t, 0, worker.ActiveSessions())
}

func TestAssignWorkerReusesExistingPin(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)
	_, err := c.Promote(context.Background(), "snapshot-1")
	require.NoError(t, err)

	first, err := c.AssignWorker("session-1", 0)
	require.NoError(t, err)
	second, err := c.AssignWorker("session-1", 0)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, first.ActiveSessions(), "re-assigning an already-pinned session must not double-count it")
}

func TestAssignWorkerWithNoGenerationsErrors(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)
	_, err := c.AssignWorker("session-1", 0)
	assert.Error(t, err)
}

func TestReleaseSessionOnUnknownSessionIsNoop(t *testing.T) {
	c := New(testConfig(), testHubFactory, nil)
	assert.NotPanics(t, func() { c.ReleaseSession("does-not-exist") })
}
