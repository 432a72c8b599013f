package feed

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"liveattend/internal/common"
)

// Redis fans change notifications out through Redis pub/sub so that every API
// instance sharing the Redis server sees every write.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a broker using channels named prefix+topic.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "liveattend:feed:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Publish(ctx context.Context, topic string) error {
	if err := r.client.Publish(ctx, r.prefix+topic, "changed").Err(); err != nil {
		return common.Unavailable("feed.publish", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Listener, error) {
	ps := r.client.Subscribe(ctx, r.prefix+topic)
	// Wait for the subscription confirmation so that no publish issued after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, common.Unavailable("feed.subscribe", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &redisListener{listener: newListener(), ps: ps, cancel: cancel}
	go l.run(lctx)
	return l, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return common.Unavailable("feed.ping", err)
	}
	return nil
}

// Close is a no-op: the redis client is owned by the caller.
func (r *Redis) Close() error { return nil }

type redisListener struct {
	*listener
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (l *redisListener) run(ctx context.Context) {
	var endErr error
	defer func() {
		_ = l.ps.Close()
		l.finish(endErr)
	}()
	for {
		msg, err := l.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				endErr = common.Unavailable("feed.receive", err)
			}
			return
		}
		if _, ok := msg.(*redis.Message); ok {
			l.notify()
		}
	}
}

// Close unsubscribes. Receive does not watch the context once blocked on the
// connection, so the pubsub is closed here as well.
func (l *redisListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ps.Close()
	})
	return err
}
