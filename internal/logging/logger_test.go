package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "debug")
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.With("req_id", "r1").Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "level=INFO", "level=WARN", "level=ERROR", "a=1", "req_id=r1", "c=3"} {
		assert.Contains(t, out, want)
	}
}

func TestNew_JSONAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "warn")

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown", "k", "v")

	out := strings.TrimSpace(buf.String())
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

type captureReporter struct {
	errs   []error
	extras []map[string]interface{}
}

func (c *captureReporter) Report(err error, extras map[string]interface{}) {
	c.errs = append(c.errs, err)
	c.extras = append(c.extras, extras)
}

func TestReporting_ForwardsErrorsWithFields(t *testing.T) {
	var buf bytes.Buffer
	rep := &captureReporter{}
	cause := errors.New("boom")

	log := NewReporting(New(&buf, "text", "info"), rep).With("module", "api")
	log.Info(context.Background(), "not reported")
	log.Error(context.Background(), "store write failed", "err", cause, "session_id", "s1")

	require.Len(t, rep.errs, 1)
	assert.ErrorIs(t, rep.errs[0], cause)
	assert.Contains(t, rep.errs[0].Error(), "store write failed")
	assert.Equal(t, "api", rep.extras[0]["module"])
	assert.Equal(t, "s1", rep.extras[0]["session_id"])
	assert.Contains(t, buf.String(), "store write failed")
}
