package verify

import (
	"context"
	"time"
)

// Phase is a step of a verification shown to the user.
type Phase string

const (
	PhaseScanning   Phase = "scanning"
	PhaseConfirming Phase = "confirming"
	PhaseSuccess    Phase = "success"
)

// Simulated always verifies after the scanning, confirming and success
// display phases.
type Simulated struct {
	Scanning   time.Duration
	Confirming time.Duration
	Display    time.Duration
	Observe    func(Phase)
}

func NewSimulated(observe func(Phase)) *Simulated {
	return &Simulated{
		Scanning:   time.Second,
		Confirming: time.Second,
		Display:    500 * time.Millisecond,
		Observe:    observe,
	}
}

func (s *Simulated) Check(ctx context.Context, _ string, _ Capture) error {
	phases := []struct {
		p Phase
		d time.Duration
	}{
		{PhaseScanning, s.Scanning},
		{PhaseConfirming, s.Confirming},
		{PhaseSuccess, s.Display},
	}
	for _, ph := range phases {
		if s.Observe != nil {
			s.Observe(ph.p)
		}
		t := time.NewTimer(ph.d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
