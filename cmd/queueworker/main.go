// The queueworker process consumes the registered streams through their
// consumer groups, applying the retry and dead-letter policy. It is
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

	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/identity"
	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/platform/logger"
	"github.com/fieldline/taskfleet/internal/platform/redisconn"
	"github.com/fieldline/taskfleet/internal/queue"
	"github.com/fieldline/taskfleet/internal/registry"
	"github.com/fieldline/taskfleet/internal/tasks"
	"github.com/fieldline/taskfleet/internal/worker"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "queue worker failed: %v\n", err)
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

	reg := registry.New()
	if err := tasks.LoadBuiltin(reg, tasks.Deps{
		Logger:          log,
		Queue:           q,
		LastRuns:        rdb,
		QueueMaxRetries: cfg.Queue.MaxRetries,
	}); err != nil {
		return err
	}

	id := identity.FromEnv(worker.WorkerType)
	w := worker.NewWorker(reg, q, store, id,
		cfg.Queue.MaxRetries,
		time.Duration(cfg.Queue.BlockMs)*time.Millisecond,
		log)

	return w.Run(ctx)
}
