package supervise

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

// Monitor polls every registered worker's process handle at a fixed interval
// and classifies each as alive or dead. The tick body only scans cheaply;
// restart and signal work is dispatched to the restart controller as
// concurrent tasks.
type Monitor struct {
	registry *Registry
	log      *EventLog
	restarts *RestartController
	interval time.Duration
	now      func() time.Time
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(registry *Registry, log *EventLog, restarts *RestartController, interval time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		log:      log,
		restarts: restarts,
		interval: interval,
		now:      time.Now,
	}
}

// Run executes the poll loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick scans all worker records once.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()
	for _, rec := range m.registry.All() {
		m.inspect(ctx, rec, now)
	}
}

// inspect classifies one worker at one tick. A worker can only newly fail
// once per alive period: a record already Dead or Restarting produces no
// duplicate FAILURE event. A worker that never became alive is treated as
// failed at the first tick that finds it not running, with that tick as the
// failure timestamp.
func (m *Monitor) inspect(ctx context.Context, rec *WorkerRecord, now time.Time) {
	switch rec.State() {
	case StateRestarting, StatePermanentlyDead:
		return
	}

	h := rec.Handle()
	if h != nil && h.Running() {
		rec.markAlive(now)
		return
	}

	if rec.markDead(now) {
		logrus.Warnf("%s is down (last seen alive %v)", rec.Identity(), rec.LastSeenAlive())
		if err := m.log.Append(rec.Identity(), metrics.KindFailure, now); err != nil {
			logrus.Errorf("Recording failure of %s: %v", rec.Identity(), err)
		}
	}
	m.restarts.Dispatch(ctx, rec)
}
