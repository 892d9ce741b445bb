package supervise

import (
	"context"
	"math/rand"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ChaosInjector kills a randomly chosen alive worker at a fixed interval so a
// simulation run produces the failures the reliability metrics are computed
// from. The victim sequence is driven by a seeded RNG, so two runs with the
// same seed and configuration pick the same victims.
type ChaosInjector struct {
	registry *Registry
	interval time.Duration
	rng      *rand.Rand
}

// NewChaosInjector creates an injector over the given registry.
func NewChaosInjector(registry *Registry, cfg ChaosConfig) *ChaosInjector {
	return &ChaosInjector{
		registry: registry,
		interval: cfg.KillInterval,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run kills one worker per interval until ctx is cancelled.
func (c *ChaosInjector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.KillOne()
		}
	}
}

// KillOne SIGKILLs one randomly chosen currently-alive worker and returns its
// identity, or "" if no worker is alive to kill.
func (c *ChaosInjector) KillOne() string {
	var victims []*WorkerRecord
	for _, rec := range c.registry.All() {
		if rec.State() == StateAlive {
			victims = append(victims, rec)
		}
	}
	if len(victims) == 0 {
		return ""
	}

	rec := victims[c.rng.Intn(len(victims))]
	h := rec.Handle()
	if h == nil {
		return ""
	}
	logrus.Infof("Chaos: killing %s (PID %d)", rec.Identity(), h.PID())
	if err := h.Signal(syscall.SIGKILL); err != nil {
		logrus.Debugf("Chaos: could not kill %s: %v", rec.Identity(), err)
		return ""
	}
	return rec.Identity()
}
