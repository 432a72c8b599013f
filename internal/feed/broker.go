// Package feed turns store writes into live, restartable snapshot streams.
//
// Writers Publish a topic after every committed change. Readers Watch a topic
// together with a query; the stream emits the full query result on
// subscription and again after every change notification. Broker outages are
// reported as degraded snapshots and the stream resubscribes by itself.
package feed

import (
	"context"
	"errors"
)

// Topics used by the coordinator.
const (
	TopicSessions = "sessions"
	rosterPrefix  = "roster."
)

// RosterTopic is the topic carrying changes to one session's attendance records.
func RosterTopic(sessionID string) string {
	return rosterPrefix + sessionID
}

// ErrDisconnected is reported when a broker connection is lost.
var ErrDisconnected = errors.New("feed: broker disconnected")

// Broker delivers change notifications for topics.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Listener, error)
	Ping(ctx context.Context) error
	Close() error
}

// Listener receives ticks for one topic. Ticks is closed when the listener
// ends; Err then reports why (nil after Close or context cancellation).
type Listener interface {
	Ticks() <-chan struct{}
	Err() error
	Close() error
}

// listener is the shared Listener implementation used by the backends.
// Ticks are coalesced: a pending tick absorbs further notifications.
type listener struct {
	ticks chan struct{}
	done  chan struct{}
	err   error
}

func newListener() *listener {
	return &listener{ticks: make(chan struct{}, 1), done: make(chan struct{})}
}

func (l *listener) notify() {
	select {
	case l.ticks <- struct{}{}:
	default:
	}
}

// finish must be called exactly once, by the goroutine owning the listener.
func (l *listener) finish(err error) {
	l.err = err
	close(l.ticks)
}

func (l *listener) Ticks() <-chan struct{} { return l.ticks }

func (l *listener) Err() error { return l.err }
