package feed

import (
	"context"
	"errors"
	"sync"
)

var errBrokerClosed = errors.New("feed: broker closed")

// Memory is an in-process Broker. It only fans out within one process.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memListener]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memListener]struct{})}
}

type memListener struct {
	*listener
	b     *Memory
	topic string
	once  sync.Once
}

func (m *Memory) Publish(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errBrokerClosed
	}
	for l := range m.subs[topic] {
		l.notify()
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Listener, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errBrokerClosed
	}
	l := &memListener{listener: newListener(), b: m, topic: topic}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memListener]struct{})
	}
	m.subs[topic][l] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			l.end(nil)
		case <-l.done:
		}
	}()
	return l, nil
}

// Drop ends every listener with err, as if the connection to a remote broker
// had been lost. Subsequent subscriptions work normally.
func (m *Memory) Drop(err error) {
	m.mu.Lock()
	var all []*memListener
	for _, set := range m.subs {
		for l := range set {
			all = append(all, l)
		}
	}
	m.mu.Unlock()
	for _, l := range all {
		l.end(err)
	}
}

// Subscribers returns the number of live listeners on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errBrokerClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Drop(errBrokerClosed)
	return nil
}

func (l *memListener) end(err error) {
	l.once.Do(func() {
		l.b.mu.Lock()
		delete(l.b.subs[l.topic], l)
		if len(l.b.subs[l.topic]) == 0 {
			delete(l.b.subs, l.topic)
		}
		l.b.mu.Unlock()
		close(l.done)
		l.finish(err)
	})
}

func (l *memListener) Close() error {
	l.end(nil)
	return nil
}
