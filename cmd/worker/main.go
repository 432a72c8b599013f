package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"liveattend/internal/app"
	"liveattend/internal/attendance"
	"liveattend/internal/config"
	"liveattend/internal/export"
	"liveattend/internal/feed"
	"liveattend/internal/store"
)

// Worker consumes lifecycle jobs and exports the roster of every stopped
// session.
func main() {
	cfg := config.Load()
	logger, flush := app.NewLogger(cfg, "liveattend-worker")
	defer flush()

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.QueueBackend == app.BackendMemory {
		log.Fatalf("worker needs a shared queue; set QUEUE_BACKEND=redis (the API consumes the memory queue itself)")
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		logger.Warn(ctx, "redis not reachable, will keep retrying", "err", err)
	}

	q, err := app.OpenQueue(cfg, rdb)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}

	// The worker only reads, so change notifications stay in-process.
	coord := attendance.NewCoordinator(st, feed.NewMemory(), attendance.WithLogger(logger))

	exp, err := export.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("export init failed: %v", err)
	}

	jobs, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Info(ctx, "worker started, waiting for jobs", "store", cfg.StoreBackend, "bucket", cfg.S3Bucket)
	export.NewWorker(coord, exp, logger).Run(ctx, jobs)
	logger.Info(context.Background(), "worker stopped")
}
