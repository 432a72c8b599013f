package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"liveattend/internal/api"
	"liveattend/internal/app"
	"liveattend/internal/attendance"
	"liveattend/internal/auth"
	"liveattend/internal/config"
	"liveattend/internal/export"
	"liveattend/internal/logging"
	"liveattend/internal/queue"
	"liveattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, flush := app.NewLogger(cfg, "liveattend-api")
	defer flush()

	if err := runHTTP(cfg, logger); err != nil {
		flush()
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info(ctx, "store ready", "backend", cfg.StoreBackend)

	var rdb *store.Redis
	if app.NeedsRedis(cfg) {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			logger.Warn(ctx, "redis not reachable", "err", err)
		}
	}

	broker, err := app.OpenBroker(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer broker.Close()

	q, err := app.OpenQueue(cfg, rdb)
	if err != nil {
		return err
	}

	limiter, err := app.NewLimiter(cfg, rdb)
	if err != nil {
		return err
	}

	coord := attendance.NewCoordinator(st, broker, attendance.WithJobs(q), attendance.WithLogger(logger))
	go coord.Run(ctx)

	// The in-memory queue only reaches consumers in this process.
	if cfg.QueueBackend == app.BackendMemory {
		if err := startLocalWorker(ctx, cfg, coord, q, logger); err != nil {
			return err
		}
	}

	checks := map[string]api.HealthCheck{
		"store": st.Ping,
		"feed":  broker.Ping,
	}
	if rdb != nil {
		checks["redis"] = rdb.Ping
	}

	server := api.New(coord, api.Options{
		Issuer:      auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Limiter:     limiter,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Checks:      checks,
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info(context.Background(), "shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "server forced shutdown", "err", err)
	}

	logger.Info(context.Background(), "server exited")
	return nil
}

func startLocalWorker(ctx context.Context, cfg config.App, coord *attendance.Coordinator, q queue.Queue, logger logging.Logger) error {
	exp, err := export.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	jobs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	go export.NewWorker(coord, exp, logger).Run(ctx, jobs)
	logger.Info(ctx, "in-process worker started")
	return nil
}
