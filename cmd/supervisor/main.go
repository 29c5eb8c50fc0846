// The supervisor is the fleet entry point. It spawns the HTTP monitor
// server and the configured queue and periodic worker processes, then
// watches them: the first unexpected child exit tears the whole fleet down.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/platform/logger"
	"github.com/fieldline/taskfleet/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Server.LogLevel)

	runtime := supervisor.LoadRuntimeConfig(cfg)
	log.Info("starting fleet",
		"server_port", runtime.ServerPort,
		"queue_workers", runtime.QueueWorkers,
		"periodic_workers", runtime.PeriodicWorkers)

	s := supervisor.New(runtime, nil, log)
	os.Exit(s.Run(context.Background()))
}
