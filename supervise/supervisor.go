// Package supervise implements the coordinator of a simulated distributed
// deployment: it launches worker processes, polls their liveness, restarts
// the ones that die, and records the failure/repair timestamps the
// reliability metrics (MTTR, MTTB, availability) are derived from.
//
// # Reading Guide
//
//   - registry.go: worker records, lifecycle states, per-identity locking
//   - monitor.go: the fixed-interval liveness poll loop
//   - restart.go: concurrent bounded restarts with retry and backoff
//   - signal.go: out-of-band activation (SIGUSR1) with stale-handle retry
//   - eventlog.go: the append-only FAILURE/REPAIR log
//   - metrics/: the pure engine that turns an event snapshot into a report
package supervise

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

// Supervisor owns the registry, event log, and monitoring loop for one
// deployment. It runs until its context is cancelled; one worker's fate never
// stops the monitoring of the others.
type Supervisor struct {
	cfg Config

	registry   *Registry
	events     *EventLog
	dispatcher *Dispatcher
	restarts   *RestartController
	monitor    *Monitor
	chaos      *ChaosInjector

	launcher  Launcher
	activator Activator
	now       func() time.Time

	startedAt time.Time
}

// Option overrides a Supervisor collaborator, mainly for tests.
type Option func(*Supervisor)

// WithLauncher substitutes the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithActivator substitutes the activation capability.
func WithActivator(a Activator) Option {
	return func(s *Supervisor) { s.activator = a }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New validates cfg and wires up a Supervisor. By default it launches real OS
// processes by re-executing its own binary and activates them with SIGUSR1.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg,
		registry:  NewRegistry(),
		events:    NewEventLog(),
		launcher:  NewExecLauncher(cfg.CoordinatorAddr),
		activator: NewSignalActivator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = NewDispatcher(s.registry, s.activator)
	s.restarts = NewRestartController(s.registry, s.events, s.launcher, s.dispatcher, cfg)
	s.restarts.now = s.now
	s.monitor = NewMonitor(s.registry, s.events, s.restarts, cfg.PollInterval)
	s.monitor.now = s.now
	if cfg.Chaos.Enabled {
		s.chaos = NewChaosInjector(s.registry, cfg.Chaos)
	}
	return s, nil
}

// Start launches and registers all workers: server workers first, then after
// the settle delay the clients, which are then activated so they connect to
// the server. A launch failure at startup aborts Start and terminates the
// workers launched so far; unlike a restart failure there is nothing to fall
// back to yet.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.startWorkers(ctx); err != nil {
		s.shutdownWorkers()
		return err
	}

	s.dispatcher.ActivateClients()
	s.startedAt = s.now()
	logrus.Infof("Supervising %d workers (poll interval %v)", len(s.cfg.Workers), s.cfg.PollInterval)
	return nil
}

func (s *Supervisor) startWorkers(ctx context.Context) error {
	for _, spec := range s.cfg.Workers {
		if spec.Server {
			if err := s.launchAndRegister(ctx, spec); err != nil {
				return err
			}
		}
	}
	if err := s.settle(ctx); err != nil {
		return err
	}

	for _, spec := range s.cfg.Workers {
		if !spec.Server {
			if err := s.launchAndRegister(ctx, spec); err != nil {
				return err
			}
		}
	}
	return s.settle(ctx)
}

func (s *Supervisor) launchAndRegister(ctx context.Context, spec WorkerSpec) error {
	h, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting worker %q: %w", spec.Identity, err)
	}
	s.registry.Register(spec, h)
	return nil
}

func (s *Supervisor) settle(ctx context.Context) error {
	if s.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run monitors the deployment until ctx is cancelled, then drains in-flight
// restarts and terminates the workers. After Run returns no record is left
// in Restarting.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.monitor.Run(ctx)
	}()
	if s.chaos != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.chaos.Run(ctx)
		}()
	}
	wg.Wait()

	s.restarts.Drain()
	s.shutdownWorkers()
	logrus.Info("Supervisor stopped")
}

// shutdownWorkers terminates and reaps every worker process.
func (s *Supervisor) shutdownWorkers() {
	for _, rec := range s.registry.All() {
		h := rec.Handle()
		if h == nil {
			continue
		}
		if h.Running() {
			if err := h.Signal(syscall.SIGTERM); err != nil {
				logrus.Debugf("Terminating %s: %v", rec.Identity(), err)
			}
		}
		h.Release()
	}
}

// Registry exposes the process registry, mainly for inspection.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Events exposes the reliability event log.
func (s *Supervisor) Events() *EventLog { return s.events }

// StartedAt returns when monitoring began; the natural observation-window
// start for Report.
func (s *Supervisor) StartedAt() time.Time { return s.startedAt }

// Report computes reliability metrics over a snapshot of the event log for
// every registered worker.
func (s *Supervisor) Report(window metrics.Window) *metrics.Report {
	return metrics.Compute(s.events.Snapshot(), window, s.registry.Identities())
}
