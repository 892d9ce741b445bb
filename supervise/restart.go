package supervise

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

// maxBackoffShift caps the exponential launch backoff at 8x the base delay.
const maxBackoffShift = 3

// RestartController relaunches dead workers. Restarts run as independent
// concurrent tasks so a blocking launch never stalls the monitoring of other
// workers; parallelism is bounded and at most one restart is ever in flight
// per identity.
type RestartController struct {
	registry   *Registry
	log        *EventLog
	launcher   Launcher
	dispatcher *Dispatcher

	retryLimit int
	backoff    time.Duration
	settle     time.Duration

	g   errgroup.Group
	now func() time.Time
}

// NewRestartController creates a controller with the retry and concurrency
// bounds from cfg.
func NewRestartController(registry *Registry, log *EventLog, launcher Launcher, dispatcher *Dispatcher, cfg Config) *RestartController {
	c := &RestartController{
		registry:   registry,
		log:        log,
		launcher:   launcher,
		dispatcher: dispatcher,
		retryLimit: cfg.RestartRetryLimit,
		backoff:    cfg.RestartBackoff,
		settle:     cfg.SettleDelay,
		now:        time.Now,
	}
	c.g.SetLimit(cfg.MaxConcurrentRestarts)
	return c
}

// Dispatch schedules a restart for rec if the worker is Dead, its retry
// backoff has elapsed, and no restart is already in flight for it. Returns
// whether a restart task was started. Never blocks: if all restart slots are
// busy the worker stays Dead and the next tick retries.
func (c *RestartController) Dispatch(ctx context.Context, rec *WorkerRecord) bool {
	if !rec.tryBeginRestart(c.now()) {
		return false
	}
	// Restarts outlive supervisor shutdown: they are drained, not cancelled,
	// so no record is left Restarting permanently.
	runCtx := context.WithoutCancel(ctx)
	if !c.g.TryGo(func() error {
		c.restart(runCtx, rec)
		return nil
	}) {
		rec.abortRestart()
		return false
	}
	return true
}

// Drain waits for all in-flight restart tasks to finish.
func (c *RestartController) Drain() {
	_ = c.g.Wait()
}

// restart launches a replacement process for rec and re-arms activation.
// Failures are absorbed per worker: the record goes back to Dead (bounded
// retry with backoff) or to PermanentlyDead past the ceiling, and the
// supervisor keeps running either way.
func (c *RestartController) restart(ctx context.Context, rec *WorkerRecord) {
	identity := rec.Identity()
	old := rec.Handle()

	h, err := c.launcher.Launch(ctx, rec.Spec())
	if err != nil {
		attempts, permanent := rec.failRestart(c.retryLimit)
		le := &LaunchError{Identity: identity, Attempt: attempts, Err: err}
		if permanent {
			logrus.Errorf("Giving up on %s after %d consecutive failed launches: %v", identity, attempts, le.Err)
			return
		}
		delay := c.backoffFor(attempts)
		rec.scheduleRetry(c.now().Add(delay))
		logrus.Warnf("%v; retrying in %v", le, delay)
		return
	}

	if old != nil {
		old.Release()
	}

	now := c.now()
	if err := c.registry.ReplaceHandle(identity, h); err != nil {
		// Unreachable while records are never deregistered.
		logrus.Errorf("Replacing handle for %s: %v", identity, err)
		return
	}
	rec.markRepaired(now)
	if err := c.log.Append(identity, metrics.KindRepair, now); err != nil {
		logrus.Errorf("Recording repair of %s: %v", identity, err)
	}
	logrus.Infof("Restarted %s with PID %d", identity, h.PID())

	// Restarts are drained rather than cancelled, so the settle wait is
	// unconditional.
	if c.settle > 0 {
		time.Sleep(c.settle)
	}

	if rec.Spec().Server {
		// The server has no handler for the activate signal and must never
		// receive it. Its restart is announced to the clients instead, which
		// reconnect to the new server process.
		c.dispatcher.ActivateClients()
		return
	}

	if err := c.dispatcher.Activate(identity); err != nil {
		// Delivery failed against the very handle we just installed, so the
		// fresh process is already gone. Re-enter the failure path now rather
		// than waiting for the next liveness check.
		logrus.Warnf("Activation of %s after restart failed: %v", identity, err)
		failedAt := c.now()
		if rec.markDead(failedAt) {
			if lerr := c.log.Append(identity, metrics.KindFailure, failedAt); lerr != nil {
				logrus.Errorf("Recording failure of %s: %v", identity, lerr)
			}
		}
	}
}

func (c *RestartController) backoffFor(attempts int) time.Duration {
	shift := attempts - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return c.backoff << shift
}
