// The server process exposes the read-only monitor API: the registered
// task and consumer catalog joined with monitor records and worker
// heartbeats. It is normally spawned by the supervisor.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldline/taskfleet/internal/api"
	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/platform/logger"
	"github.com/fieldline/taskfleet/internal/platform/redisconn"
	"github.com/fieldline/taskfleet/internal/queue"
	"github.com/fieldline/taskfleet/internal/registry"
	"github.com/fieldline/taskfleet/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := redisconn.Get(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = redisconn.Close() }()

	q := queue.NewClient(rdb, cfg.Queue.StreamMaxLen)
	store := monitor.NewStore(rdb,
		time.Duration(cfg.Workers.HeartbeatTTLSeconds)*time.Second)

	deps := tasks.Deps{
		Logger:             log,
		Queue:              q,
		LastRuns:           rdb,
		QueueMaxRetries:    cfg.Queue.MaxRetries,
		LogRetentionDays:   cfg.Workers.LogRetentionDays,
		LogCleanupInterval: time.Duration(cfg.Workers.LogCleanupIntervalSeconds) * time.Second,
	}
	// The server never runs the built-in tasks, but registers them so the
	// catalog it serves matches what the workers execute.
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()
		deps.DB = pool
	}
	if len(cfg.Backups) > 0 {
		deps.Backups = tasks.StaticBackupProvider(cfg.Backups)
	}

	reg := registry.New()
	if err := tasks.LoadBuiltin(reg, deps); err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(reg, store, cfg.Queue.MaxRetries, log))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("monitor server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down monitor server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
