// Package verify gates attendance marking behind an identity check.
//
// A Gate holds one capture Device and runs one Method at a time. Callers see
// the Verifier capability: Attempt returns nil when the claimed identity was
// verified, common.ErrVerificationFailed when it was not,
// common.ErrDeviceUnavailable when no frame source could be acquired and
// common.ErrAlreadyInProgress when another attempt is still running.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"liveattend/internal/common"
	"liveattend/internal/logging"
	"liveattend/internal/metrics"
)

// Verifier attempts verification of a claimed identity.
type Verifier interface {
	Attempt(ctx context.Context, identity string) error
}

// Method checks an identity against an acquired capture.
type Method interface {
	Check(ctx context.Context, identity string, c Capture) error
}

// Gate is single-flight: a second Attempt while one is running fails
// immediately and leaves the first untouched.
type Gate struct {
	device  Device
	method  Method
	log     logging.Logger
	running atomic.Bool
}

var _ Verifier = (*Gate)(nil)

func NewGate(device Device, method Method, log logging.Logger) *Gate {
	if log == nil {
		log = logging.Nop()
	}
	return &Gate{device: device, method: method, log: log.With("module", "verify")}
}

func (g *Gate) Attempt(ctx context.Context, identity string) (err error) {
	if !g.running.CompareAndSwap(false, true) {
		return common.ErrAlreadyInProgress
	}
	defer g.running.Store(false)

	start := time.Now()
	defer func() { metrics.ObserveVerification(outcome(err), start) }()

	capture, err := g.device.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn(ctx, "capture device unavailable", "err", err)
		return fmt.Errorf("%w: %v", common.ErrDeviceUnavailable, err)
	}
	defer capture.Release()

	if err := g.method.Check(ctx, identity, capture); err != nil {
		return err
	}
	return ctx.Err()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, common.ErrVerificationFailed):
		return "failed"
	case errors.Is(err, common.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
