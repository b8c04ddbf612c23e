package naming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/naming"
)

func roundTripStrategies() []naming.Strategy {
	return []naming.Strategy{naming.StrategyPrefix, naming.StrategySuffix, naming.StrategyNamespace, naming.StrategyAlias}
}

func TestRoundTrip(t *testing.T) {
	for _, strat := range roundTripStrategies() {
		cfg := naming.Config{Strategy: strat, Separator: "_"}
		public, err := naming.Generate("srv_a", "echo", cfg)
		require.NoError(t, err)

		parsed, err := naming.Parse(public, cfg)
		require.NoError(t, err)
		assert.Equal(t, "srv_a", parsed.ServerID, strat)
		assert.Equal(t, "echo", parsed.LocalName, strat)
	}
}

func TestSuffixStrategyS1(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNamespace, Separator: "_"}
	public, err := naming.Generate("srv_a", "echo", cfg)
	require.NoError(t, err)
	assert.Equal(t, "echo_srv_a", public)
}

func TestDotsSanitized(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyPrefix, Separator: "_"}
	public, err := naming.Generate("srv.a", "do.thing", cfg)
	require.NoError(t, err)
	assert.NotContains(t, public, ".")
}

func TestErrorStrategyUnresolvable(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyError}
	_, err := naming.Parse("search", cfg)
	assert.ErrorIs(t, err, naming.ErrUnresolvable)
}

func TestNoneStrategyIdentity(t *testing.T) {
	cfg := naming.Config{Strategy: naming.StrategyNone}
	public, err := naming.Generate("srv_a", "echo", cfg)
	require.NoError(t, err)
	assert.Equal(t, "echo", public)

	parsed, err := naming.Parse(public, cfg)
	require.NoError(t, err)
	assert.Equal(t, "echo", parsed.LocalName)
}

func TestLengthCaps(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, err := naming.Generate(string(long), "x", naming.Config{Strategy: naming.StrategyPrefix})
	require.Error(t, err)
	var tooLong *naming.ErrTooLong
	assert.ErrorAs(t, err, &tooLong)
}

func TestCacheIsPerStrategyPerSeparator(t *testing.T) {
	cfgA := naming.Config{Strategy: naming.StrategyPrefix, Separator: "_"}
	cfgB := naming.Config{Strategy: naming.StrategyPrefix, Separator: ":"}

	parsedA, err := naming.Parse("srv_echo", cfgA)
	require.NoError(t, err)
	assert.Equal(t, "srv", parsedA.ServerID)
	assert.Equal(t, "echo", parsedA.LocalName)

	// Same publicName text parsed under a different separator config must
	// not be served from cfgA's cache entry: "_" is no longer a splitter,
	// so parsing fails instead of silently returning cfgA's split.
	_, err = naming.Parse("srv_echo", cfgB)
	assert.Error(t, err)
}
