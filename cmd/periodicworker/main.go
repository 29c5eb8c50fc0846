// The periodicworker process runs the shard of periodic tasks assigned to
// its worker index, rescheduling each task from its completion time. It is
// normally spawned by the supervisor with its shard identity in the
// environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/identity"
	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/platform/logger"
	"github.com/fieldline/taskfleet/internal/platform/redisconn"
	"github.com/fieldline/taskfleet/internal/queue"
	"github.com/fieldline/taskfleet/internal/registry"
	"github.com/fieldline/taskfleet/internal/scheduler"
	"github.com/fieldline/taskfleet/internal/tasks"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "periodic worker failed: %v\n", err)
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

	id := identity.FromEnv(scheduler.WorkerType)
	w := scheduler.NewWorker(reg, store, id, log)

	return w.Run(ctx)
}
