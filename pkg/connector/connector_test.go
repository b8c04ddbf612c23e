package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginCacheRoundTrip(t *testing.T) {
	c := NewOriginCache()
	c.Put("https://mcp.example.com/v1", originEntry{Transport: TransportStreamableHTTP, ProtocolVersion: "2025-06-18"})

	entry, ok := c.Get("https://mcp.example.com/other-path")
	require.True(t, ok, "cache key should be origin (scheme+host), not full path")
	assert.Equal(t, TransportStreamableHTTP, entry.Transport)
}

func TestOriginCacheExpires(t *testing.T) {
	c := NewOriginCache()
	c.entries[originKey("https://mcp.example.com")] = originEntry{
		Transport:     TransportSSE,
		LastSuccessAt: time.Now().Add(-25 * time.Hour),
	}
	_, ok := c.Get("https://mcp.example.com")
	assert.False(t, ok)
}

func TestOriginCacheInvalidate(t *testing.T) {
	c := NewOriginCache()
	c.Put("https://mcp.example.com", originEntry{Transport: TransportSSE})
	c.Invalidate("https://mcp.example.com")
	_, ok := c.Get("https://mcp.example.com")
	assert.False(t, ok)
}

func TestInferTransportFromURLSuffixes(t *testing.T) {
	cases := map[string]TransportKind{
		"https://mcp.example.com/sse":       TransportSSE,
		"https://mcp.example.com/v1/events": TransportSSE,
		"https://mcp.example.com/stream":    TransportSSE,
		"https://mcp.example.com/mcp":       TransportStreamableHTTP,
		"https://mcp.example.com/v1/mcp":    TransportStreamableHTTP,
		"https://mcp.example.com/rpc":       TransportHTTP,
		"https://mcp.example.com":           TransportHTTP,
	}
	for rawURL, want := range cases {
		assert.Equal(t, want, inferTransportFromURL(rawURL), rawURL)
	}
}

func TestRunWithReconnectSucceedsEventually(t *testing.T) {
	attempts := 0
	want := &Session{ServerID: "srv_a"}
	session, err := RunWithReconnect(context.Background(), ReconnectPolicy{MaxAttempts: 5}, func(_ context.Context, attempt int) (*Session, error) {
		attempts++
		if attempt < 3 {
			return nil, assert.AnError
		}
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, session)
	assert.Equal(t, 3, attempts)
}

func TestReconnectBackOffDoublesExactlyUpToCap(t *testing.T) {
	b := newReconnectBackOff()
	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // min(250ms*2^7, 30s) caps here
		30 * time.Second,
	}
	for k, d := range want {
		got := b.NextBackOff()
		assert.Equal(t, d, got, "delay for attempt %d", k+1)
	}
}

func TestRunWithReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := RunWithReconnect(context.Background(), ReconnectPolicy{MaxAttempts: 2}, func(_ context.Context, attempt int) (*Session, error) {
		attempts++
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}
