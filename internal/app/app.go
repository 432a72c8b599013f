// Package app builds the runtime components selected by configuration. The
// binaries under cmd/ share it.
package app

import (
	"context"
	"fmt"
	"os"

	"liveattend/internal/cloudinary"
	"liveattend/internal/config"
	"liveattend/internal/faceclient"
	"liveattend/internal/feed"
	"liveattend/internal/httpmiddleware"
	"liveattend/internal/logging"
	"liveattend/internal/queue"
	"liveattend/internal/store"
	"liveattend/internal/verify"
)

// Backend names accepted by FEED_BACKEND, QUEUE_BACKEND and RATE_LIMIT_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// JobsKey is the Redis list carrying lifecycle jobs.
const JobsKey = "liveattend:jobs"

// NewLogger returns the process logger. Errors also go to Rollbar when a
// token is configured. The returned func flushes pending reports.
func NewLogger(cfg config.App, service string) (logging.Logger, func()) {
	var log logging.Logger = logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	flush := func() {}
	if cfg.RollbarToken != "" {
		host, _ := os.Hostname()
		rep := logging.NewRollbarReporter(cfg.RollbarToken, cfg.Env, host, service)
		log = logging.NewReporting(log, rep)
		flush = rep.Close
	}
	return log.With("service", service), flush
}

// NeedsRedis reports whether any configured backend uses Redis.
func NeedsRedis(cfg config.App) bool {
	return cfg.FeedBackend == BackendRedis || cfg.QueueBackend == BackendRedis || cfg.RateLimitBackend == BackendRedis
}

// OpenBroker returns the change-notification broker selected by FEED_BACKEND.
func OpenBroker(ctx context.Context, cfg config.App, rdb *store.Redis) (feed.Broker, error) {
	switch cfg.FeedBackend {
	case BackendMemory, "":
		return feed.NewMemory(), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("feed backend redis needs REDIS_ADDR")
		}
		return feed.NewRedis(rdb.Client, ""), nil
	case BackendPostgres:
		return feed.NewPostgres(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown feed backend %q", cfg.FeedBackend)
}

// OpenQueue returns the job queue selected by QUEUE_BACKEND.
func OpenQueue(cfg config.App, rdb *store.Redis) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case BackendMemory, "":
		return queue.NewInMemory(256), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("queue backend redis needs REDIS_ADDR")
		}
		return queue.NewRedisQueue(rdb.Client, JobsKey), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

// NewLimiter returns the request limiter selected by RATE_LIMIT_BACKEND, or
// nil when limiting is disabled (RATE_LIMIT_PER_MIN <= 0).
func NewLimiter(cfg config.App, rdb *store.Redis) (httpmiddleware.Limiter, error) {
	if cfg.RateLimitPerMin <= 0 {
		return nil, nil
	}
	switch cfg.RateLimitBackend {
	case BackendMemory, "":
		return httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("rate limit backend redis needs REDIS_ADDR")
		}
		return httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimitPerMin), nil
	}
	return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
}

// NewFaceClient returns the face service client.
func NewFaceClient(cfg config.App) *faceclient.Client {
	return faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
}

// NewFaceMethod returns the face-service verification method. Frames are
// uploaded to Cloudinary when it is configured.
func NewFaceMethod(cfg config.App, face verify.FaceChecker) *verify.FaceService {
	m := &verify.FaceService{Face: face}
	if cfg.CloudinaryConfigured() {
		m.Uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	return m
}
