package feed

import (
	"context"
	"time"
)

// Snapshot is one emission of a stream. A degraded snapshot carries the
// reason in Err and the last good Value (zero if none was seen yet).
type Snapshot[T any] struct {
	Value    T
	Degraded bool
	Err      error
}

// Stream is a cancellable sequence of snapshots. Only the latest unread
// snapshot is kept: every snapshot is the full state, so a slow consumer
// skips intermediate states instead of blocking writers.
type Stream[T any] struct {
	C <-chan Snapshot[T]

	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the stream and waits until its goroutine has exited. C is
// closed afterwards.
func (s *Stream[T]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the stream has terminated.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// WatchOptions tunes reconnection.
type WatchOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState is called with true when the stream becomes healthy and false
	// when it degrades.
	OnState func(healthy bool)
}

func (o *WatchOptions) defaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 5 * time.Second
	}
}

// Watch subscribes to topic and emits query results: once immediately and
// again after every notification. The stream survives broker and query
// failures by emitting a degraded snapshot and retrying with exponential
// backoff.
func Watch[T any](ctx context.Context, b Broker, topic string, query func(context.Context) (T, error), opts WatchOptions) *Stream[T] {
	return Follow(ctx, func(ctx context.Context, sink Sink[T]) error {
		return watchTopic(ctx, b, topic, query, sink)
	}, opts)
}

// Follow runs source until ctx is cancelled. source pushes values into the
// sink and returns when its upstream fails; it is then restarted with the
// same backoff and degraded-snapshot handling as Watch.
func Follow[T any](ctx context.Context, source func(ctx context.Context, sink Sink[T]) error, opts WatchOptions) *Stream[T] {
	opts.defaults()
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot[T], 1)
	s := &Stream[T]{C: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer close(out)
		w := &watcher[T]{ctx: ctx, out: out, opts: opts}
		w.run(source)
	}()
	return s
}

// Sink receives the values produced by a Follow source.
type Sink[T any] struct {
	w *watcher[T]
}

// Emit publishes a fresh value.
func (s Sink[T]) Emit(v T) { s.w.publish(v) }

// Degrade reports an upstream problem without ending the source; the last
// good value is re-emitted as degraded.
func (s Sink[T]) Degrade(err error) { s.w.degrade(err) }

type watcher[T any] struct {
	ctx     context.Context
	out     chan Snapshot[T]
	opts    WatchOptions
	last    T
	healthy bool
	// refreshed records whether the current run produced a result.
	refreshed bool
}

func (w *watcher[T]) run(source func(context.Context, Sink[T]) error) {
	backoff := w.opts.MinBackoff
	for w.ctx.Err() == nil {
		w.refreshed = false
		err := source(w.ctx, Sink[T]{w: w})
		if w.ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrDisconnected
		}
		w.degrade(err)
		if !w.sleep(backoff) {
			return
		}
		if w.refreshed {
			backoff = w.opts.MinBackoff
		} else {
			backoff *= 2
			if backoff > w.opts.MaxBackoff {
				backoff = w.opts.MaxBackoff
			}
		}
	}
}

// watchTopic runs one subscription until it fails. It subscribes before the
// first query so that no change committed in between is lost.
func watchTopic[T any](ctx context.Context, b Broker, topic string, query func(context.Context) (T, error), sink Sink[T]) error {
	l, err := b.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer l.Close()

	refresh := func() error {
		v, err := query(ctx)
		if err != nil {
			return err
		}
		sink.Emit(v)
		return nil
	}
	if err := refresh(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-l.Ticks():
			if !ok {
				if err := l.Err(); err != nil {
					return err
				}
				return ErrDisconnected
			}
			if err := refresh(); err != nil {
				return err
			}
		}
	}
}

func (w *watcher[T]) publish(v T) {
	w.last = v
	w.refreshed = true
	if !w.healthy {
		w.healthy = true
		if w.opts.OnState != nil {
			w.opts.OnState(true)
		}
	}
	w.emit(Snapshot[T]{Value: v})
}

func (w *watcher[T]) degrade(err error) {
	if w.healthy {
		w.healthy = false
		if w.opts.OnState != nil {
			w.opts.OnState(false)
		}
	}
	w.emit(Snapshot[T]{Value: w.last, Degraded: true, Err: err})
}

func (w *watcher[T]) emit(s Snapshot[T]) {
	for {
		select {
		case w.out <- s:
			return
		case <-w.ctx.Done():
			return
		default:
		}
		// Drop the stale unread snapshot and retry.
		select {
		case <-w.out:
		default:
		}
	}
}

func (w *watcher[T]) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}
