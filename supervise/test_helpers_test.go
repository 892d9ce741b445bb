package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// fakeHandle is an in-memory ProcessHandle. SIGKILL marks it not running, so
// the chaos injector works against fakes too.
type fakeHandle struct {
	id  string
	pid int

	mu       sync.Mutex
	running  bool
	signals  []os.Signal
	released bool
}

func (h *fakeHandle) InstanceID() string { return h.id }

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *fakeHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, sig)
	if sig == syscall.SIGKILL {
		h.running = false
	}
	return nil
}

func (h *fakeHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
}

func (h *fakeHandle) sent() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]os.Signal, len(h.signals))
	copy(out, h.signals)
	return out
}

func (h *fakeHandle) wasReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *fakeHandle) kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
}

// fakeLauncher hands out fakeHandles and can be told to fail the next N
// launches of an identity.
type fakeLauncher struct {
	mu       sync.Mutex
	failures map[string]int
	launched map[string][]*fakeHandle
	nextPID  int
	seq      int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		failures: make(map[string]int),
		launched: make(map[string][]*fakeHandle),
		nextPID:  1000,
	}
}

func (l *fakeLauncher) failNext(identity string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[identity] = n
}

func (l *fakeLauncher) Launch(ctx context.Context, spec WorkerSpec) (ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures[spec.Identity] > 0 {
		l.failures[spec.Identity]--
		return nil, errors.New("spawn failed")
	}
	l.nextPID++
	l.seq++
	h := &fakeHandle{
		id:      fmt.Sprintf("instance-%d", l.seq),
		pid:     l.nextPID,
		running: true,
	}
	l.launched[spec.Identity] = append(l.launched[spec.Identity], h)
	return h, nil
}

// last returns the most recently launched handle for identity, or nil.
func (l *fakeLauncher) last(identity string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs := l.launched[identity]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// count returns how many launches succeeded for identity.
func (l *fakeLauncher) count(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched[identity])
}

// fakeActivator records activations by instance ID. An optional hook runs on
// every delivery and may fail it; tests use the hook to simulate a handle
// going stale mid-activation.
type fakeActivator struct {
	mu        sync.Mutex
	activated []string
	hook      func(h ProcessHandle) error
}

func (a *fakeActivator) Activate(h ProcessHandle) error {
	a.mu.Lock()
	hook := a.hook
	a.mu.Unlock()
	if hook != nil {
		if err := hook(h); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activated = append(a.activated, h.InstanceID())
	return nil
}

func (a *fakeActivator) activations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.activated))
	copy(out, a.activated)
	return out
}

// harness wires a registry, event log, controller, and monitor around fakes
// with a controllable clock. Settle delay is zero so restart tasks finish
// without waiting.
type harness struct {
	clock     *fakeClock
	launcher  *fakeLauncher
	activator *fakeActivator
	registry  *Registry
	log       *EventLog
	restarts  *RestartController
	monitor   *Monitor
}

func newHarness(cfg Config) *harness {
	h := &harness{
		clock:     newFakeClock(time.Unix(0, 0)),
		launcher:  newFakeLauncher(),
		activator: &fakeActivator{},
		registry:  NewRegistry(),
		log:       NewEventLog(),
	}
	dispatcher := NewDispatcher(h.registry, h.activator)
	h.restarts = NewRestartController(h.registry, h.log, h.launcher, dispatcher, cfg)
	h.restarts.now = h.clock.Now
	h.monitor = NewMonitor(h.registry, h.log, h.restarts, cfg.PollInterval)
	h.monitor.now = h.clock.Now
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = DefaultWorkers(2)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SettleDelay = 0
	cfg.RestartBackoff = 0
	return cfg
}

// addWorker launches and registers one worker through the fake launcher.
func (h *harness) addWorker(spec WorkerSpec) *WorkerRecord {
	handle, err := h.launcher.Launch(context.Background(), spec)
	if err != nil {
		panic(err)
	}
	return h.registry.Register(spec, handle)
}

// tickAndDrain runs one monitor tick and waits for any dispatched restarts.
func (h *harness) tickAndDrain() {
	h.monitor.Tick(context.Background())
	h.restarts.Drain()
}
