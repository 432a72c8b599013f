package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"liveattend/internal/common"
)

// Redis is the client shared by the change feed, the job queue and the rate
// limiter.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short dial and IO timeouts. Blocking commands
// extend their own deadlines.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Ping reports connectivity as a store-unavailable error.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return nil
	}
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return common.Unavailable("redis.ping", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
