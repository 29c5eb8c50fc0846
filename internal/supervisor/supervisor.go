// Package supervisor spawns and watches the process fleet: one HTTP monitor
// server plus the configured number of queue and periodic worker processes.
// Supervision is fail-fast: the first unexpected child exit tears down the
// whole fleet rather than letting it run partially degraded.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/identity"
)

// Role names the kind of child process being spawned.
type Role string

const (
	RoleServer   Role = "server"
	RoleQueue    Role = "queue"
	RolePeriodic Role = "periodic"
)

// RuntimeConfig is the supervisor's view of the desired fleet.
type RuntimeConfig struct {
	ServerPort      int
	QueueWorkers    int
	PeriodicWorkers int

	// GracePeriod bounds how long children get between SIGTERM and SIGKILL.
	GracePeriod time.Duration
}

// LoadRuntimeConfig derives the fleet shape from application configuration.
func LoadRuntimeConfig(cfg *config.Config) RuntimeConfig {
	queueWorkers := cfg.Workers.QueueWorkers
	if queueWorkers < 0 {
		queueWorkers = 0
	}
	periodicWorkers := cfg.Workers.PeriodicWorkers
	if periodicWorkers < 0 {
		periodicWorkers = 0
	}

	return RuntimeConfig{
		ServerPort:      cfg.Server.Port,
		QueueWorkers:    queueWorkers,
		PeriodicWorkers: periodicWorkers,
		GracePeriod:     10 * time.Second,
	}
}

// CommandFactory builds the command for one child process. The supervisor
// appends the worker identity environment before starting it.
type CommandFactory func(role Role, index int) *exec.Cmd

// SiblingCommandFactory execs the worker binaries installed alongside the
// supervisor binary itself.
func SiblingCommandFactory() CommandFactory {
	self, err := os.Executable()
	dir := "."
	if err == nil {
		dir = selfDir(self)
	}

	return func(role Role, index int) *exec.Cmd {
		var name string
		switch role {
		case RoleServer:
			name = "taskfleet-server"
		case RoleQueue:
			name = "taskfleet-queueworker"
		case RolePeriodic:
			name = "taskfleet-periodicworker"
		}
		cmd := exec.Command(dir + "/" + name)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}
}

func selfDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// ManagedProcess is one child under supervision.
type ManagedProcess struct {
	Name string
	cmd  *exec.Cmd
}

// childExit is delivered when a child's Wait returns.
type childExit struct {
	name string
	code int
}

// Supervisor owns the fleet for its lifetime.
type Supervisor struct {
	cfg     RuntimeConfig
	factory CommandFactory
	logger  *slog.Logger

	mu        sync.Mutex
	processes []*ManagedProcess

	exited map[string]bool
	exitCh chan childExit
	stopCh chan struct{}
}

// New creates a supervisor. factory may be nil, in which case worker
// binaries are resolved next to the supervisor binary.
func New(cfg RuntimeConfig, factory CommandFactory, logger *slog.Logger) *Supervisor {
	if factory == nil {
		factory = SiblingCommandFactory()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}

	return &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("component", "supervisor"),
		exited:  make(map[string]bool),
		exitCh:  make(chan childExit, 64),
		stopCh:  make(chan struct{}),
	}
}

// Processes returns the current fleet snapshot.
func (s *Supervisor) Processes() []*ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ManagedProcess, len(s.processes))
	copy(out, s.processes)
	return out
}

// Stop requests a clean shutdown, equivalent to receiving SIGTERM.
func (s *Supervisor) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// spawn starts one child with the worker identity environment and begins
// waiting on it.
func (s *Supervisor) spawn(role Role, name string, index, total int) error {
	cmd := s.factory(role, index)
	cmd.Env = append(os.Environ(),
		identity.EnvWorkerID+"="+name,
		identity.EnvWorkerIndex+"="+strconv.Itoa(index),
		identity.EnvWorkerTotal+"="+strconv.Itoa(total),
	)

	s.logger.Info("starting child process", "name", name, "command", cmd.Path)
	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.processes = append(s.processes, &ManagedProcess{Name: name, cmd: cmd})
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		s.exitCh <- childExit{name: name, code: code}
	}()

	return nil
}

// Start launches the whole fleet: the HTTP server plus the configured
// worker processes, each with its shard identity.
func (s *Supervisor) Start() error {
	if err := s.spawn(RoleServer, "http", 0, 1); err != nil {
		return err
	}

	queueTotal := s.cfg.QueueWorkers
	if queueTotal < 1 {
		queueTotal = 1
	}
	for index := 0; index < s.cfg.QueueWorkers; index++ {
		name := "queue-" + strconv.Itoa(index)
		if err := s.spawn(RoleQueue, name, index, queueTotal); err != nil {
			return err
		}
	}

	periodicTotal := s.cfg.PeriodicWorkers
	if periodicTotal < 1 {
		periodicTotal = 1
	}
	for index := 0; index < s.cfg.PeriodicWorkers; index++ {
		name := "periodic-" + strconv.Itoa(index)
		if err := s.spawn(RolePeriodic, name, index, periodicTotal); err != nil {
			return err
		}
	}

	return nil
}

// Run starts the fleet and supervises it until a termination signal
// arrives or a child exits unexpectedly. The returned exit code is 0 for a
// clean signal-driven shutdown and 1 when fail-fast was triggered.
func (s *Supervisor) Run(ctx context.Context) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := s.Start(); err != nil {
		s.logger.Error("failed to start fleet", "error", err)
		s.terminateAll()
		return 1
	}

	var unexpected *childExit

supervise:
	for {
		select {
		case <-ctx.Done():
			break supervise
		case sig := <-sigCh:
			s.logger.Info("received termination signal", "signal", sig.String())
			break supervise
		case <-s.stopCh:
			s.logger.Info("shutdown requested")
			break supervise
		case exit := <-s.exitCh:
			s.exited[exit.name] = true
			unexpected = &exit
			s.logger.Error("child process exited unexpectedly",
				"name", exit.name,
				"exit_code", exit.code)
			break supervise
		}
	}

	s.terminateAll()

	if unexpected != nil {
		s.logger.Error("fail-fast shutdown complete",
			"failed_process", unexpected.name,
			"exit_code", unexpected.code)
		return 1
	}
	return 0
}

// terminateAll sends SIGTERM to every live child, waits up to the grace
// period, and force-kills survivors.
func (s *Supervisor) terminateAll() {
	for _, p := range s.Processes() {
		if s.exited[p.Name] || p.cmd.Process == nil {
			continue
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("failed to signal child", "name", p.Name, "error", err)
		}
	}

	remaining := 0
	for _, p := range s.Processes() {
		if !s.exited[p.Name] && p.cmd.Process != nil {
			remaining++
		}
	}

	deadline := time.After(s.cfg.GracePeriod)
	for remaining > 0 {
		select {
		case exit := <-s.exitCh:
			s.exited[exit.name] = true
			remaining--
		case <-deadline:
			for _, p := range s.Processes() {
				if !s.exited[p.Name] && p.cmd.Process != nil {
					s.logger.Warn("force-killing child after grace period", "name", p.Name)
					_ = p.cmd.Process.Kill()
				}
			}
			// Collect the kills so no child is left unreaped.
			for remaining > 0 {
				exit := <-s.exitCh
				s.exited[exit.name] = true
				remaining--
			}
			return
		}
	}
}
