package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Device hands out exclusive captures.
type Device interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is a held device. Release must be called exactly once.
type Capture interface {
	Frame(ctx context.Context) ([]byte, error)
	Release()
}

var errNoFrame = errors.New("device produces no frames")

// NullDevice is always available and produces no frames. It pairs with
// Simulated, which never looks at a frame.
type NullDevice struct{}

func (NullDevice) Acquire(context.Context) (Capture, error) { return nullCapture{}, nil }

type nullCapture struct{}

func (nullCapture) Frame(context.Context) ([]byte, error) { return nil, errNoFrame }
func (nullCapture) Release()                              {}

// StaticDevice serves a fixed image, read from Path on every acquisition
// when Data is empty.
type StaticDevice struct {
	Data []byte
	Path string

	mu   sync.Mutex
	held bool
}

func (d *StaticDevice) Acquire(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := d.Data
	if len(data) == 0 {
		if d.Path == "" {
			return nil, errNoFrame
		}
		b, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		data = b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return nil, errors.New("device busy")
	}
	d.held = true
	return &staticCapture{d: d, data: data}, nil
}

// Held reports whether a capture is outstanding.
func (d *StaticDevice) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

type staticCapture struct {
	d    *StaticDevice
	data []byte
	once sync.Once
}

func (c *staticCapture) Frame(ctx context.Context) ([]byte, error) {
	return c.data, ctx.Err()
}

func (c *staticCapture) Release() {
	c.once.Do(func() {
		c.d.mu.Lock()
		c.d.held = false
		c.d.mu.Unlock()
	})
}
