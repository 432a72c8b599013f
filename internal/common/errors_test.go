package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailable_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("sessions.insert", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "sessions.insert")

	wrapped := fmt.Errorf("start session: %w", err)
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
}

func TestUnavailable_NilPassesThrough(t *testing.T) {
	assert.NoError(t, Unavailable("noop", nil))
}

func TestFailed_DoneContextIsNotAnOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Failed(ctx, "records.insert", errors.New("driver: bad connection"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)

	err = Failed(context.Background(), "records.insert", errors.New("driver: bad connection"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, Failed(ctx, "noop", nil))
}
