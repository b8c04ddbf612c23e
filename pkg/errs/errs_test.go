package errs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub/hub/pkg/errs"
)

func TestClassifyKnownError(t *testing.T) {
	e := errs.New(errs.KindTimeout, "probe timed out")
	classified := errs.Classify(e)
	require.Same(t, e, classified)
	assert.Equal(t, errs.KindTimeout, classified.Kind)
}

func TestClassifyBySubstring(t *testing.T) {
	cases := map[string]errs.Kind{
		"context deadline exceeded":       errs.KindTimeout,
		"dial tcp: connection refused":    errs.KindTransport,
		"invalid config: missing field x": errs.KindConfig,
		"something went sideways":         errs.KindInternal,
	}
	for msg, want := range cases {
		got := errs.Classify(fmt.Errorf("%s", msg))
		assert.Equal(t, want, got.Kind, msg)
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, errs.Classify(nil))
}

func TestRedactByKeyAndPattern(t *testing.T) {
	ctx := map[string]any{
		"token":   "abc123",
		"header":  "Bearer xyz",
		"normal":  "value",
		"ghToken": "ghp_deadbeef",
	}
	redacted := errs.Redact(ctx, []string{"token"})
	assert.Equal(t, "[REDACTED]", redacted["token"])
	assert.Equal(t, "[REDACTED]", redacted["header"])
	assert.Equal(t, "[REDACTED]", redacted["ghToken"])
	assert.Equal(t, "value", redacted["normal"])
}
