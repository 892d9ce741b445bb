package supervise

import (
	"sync"
	"time"
)

// WorkerState is the lifecycle state of a supervised worker.
type WorkerState int

const (
	// StateStarting means a process was launched but has not yet passed a
	// liveness check.
	StateStarting WorkerState = iota
	// StateAlive means the last liveness check found the process running.
	StateAlive
	// StateDead means the process was found not running and a restart has
	// not begun yet.
	StateDead
	// StateRestarting means a restart is in flight for this worker. At most
	// one restart is ever in flight per identity.
	StateRestarting
	// StatePermanentlyDead means the restart retry ceiling was exceeded;
	// the supervisor stops relaunching this worker but keeps monitoring the
	// others.
	StatePermanentlyDead
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateAlive:
		return "Alive"
	case StateDead:
		return "Dead"
	case StateRestarting:
		return "Restarting"
	case StatePermanentlyDead:
		return "PermanentlyDead"
	default:
		return "Unknown"
	}
}

// WorkerRecord tracks one worker: identity, current process handle, lifecycle
// state, and the timestamps reliability metrics are derived from. The
// identity is stable across restarts; the handle changes on every restart and
// is swapped atomically with the state transition, so a stale handle is never
// polled as if current.
//
// All mutation goes through the record's own mutex, giving per-identity
// serialization without blocking access to other identities.
type WorkerRecord struct {
	mu sync.Mutex

	identity string
	spec     WorkerSpec
	handle   ProcessHandle
	state    WorkerState

	lastSeenAlive time.Time
	failedAt      time.Time
	repairedAt    time.Time

	// consecutive failed launch attempts; reset on a successful launch
	launchFailures int
	// earliest time the next restart attempt may be dispatched (backoff)
	nextRetryAt time.Time
}

// Identity returns the worker's stable logical name.
func (r *WorkerRecord) Identity() string { return r.identity }

// Spec returns the launch spec the worker was registered with.
func (r *WorkerRecord) Spec() WorkerSpec { return r.spec }

// Handle returns the currently authoritative process handle.
func (r *WorkerRecord) Handle() ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// State returns the current lifecycle state.
func (r *WorkerRecord) State() WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastSeenAlive returns the timestamp of the last successful liveness check.
func (r *WorkerRecord) LastSeenAlive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeenAlive
}

// FailedAt returns the timestamp of the most recent failure detection.
func (r *WorkerRecord) FailedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedAt
}

// RepairedAt returns the timestamp of the most recent successful restart.
func (r *WorkerRecord) RepairedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repairedAt
}

// markAlive records a successful liveness check.
func (r *WorkerRecord) markAlive(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateAlive
	r.lastSeenAlive = now
}

// markDead transitions Starting/Alive to Dead and reports whether the worker
// newly failed. A worker already Dead, Restarting, or PermanentlyDead did not
// newly fail, so at most one FAILURE event is emitted per alive period even
// under concurrent detection.
func (r *WorkerRecord) markDead(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateStarting && r.state != StateAlive {
		return false
	}
	r.state = StateDead
	r.failedAt = now
	return true
}

// tryBeginRestart transitions Dead to Restarting, honoring the retry backoff
// deadline. Exactly one caller wins when invoked concurrently.
func (r *WorkerRecord) tryBeginRestart(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateDead || now.Before(r.nextRetryAt) {
		return false
	}
	r.state = StateRestarting
	return true
}

// abortRestart reverts Restarting to Dead without counting a launch attempt.
// Used when a restart could not be scheduled (dispatch capacity reached);
// the next monitor tick retries.
func (r *WorkerRecord) abortRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRestarting {
		r.state = StateDead
	}
}

// markRepaired records a successful restart after the handle swap. repairedAt
// is the instant that closes the MTTR interval for the preceding failure.
func (r *WorkerRecord) markRepaired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairedAt = now
	r.launchFailures = 0
	r.nextRetryAt = time.Time{}
}

// failRestart records a failed launch attempt. The worker goes back to Dead
// so a later monitor tick can retry, or to PermanentlyDead once attempts
// exceed the retry ceiling. Returns the new consecutive failure count and
// whether the worker is now permanently dead.
func (r *WorkerRecord) failRestart(ceiling int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchFailures++
	if r.launchFailures > ceiling {
		r.state = StatePermanentlyDead
		return r.launchFailures, true
	}
	r.state = StateDead
	return r.launchFailures, false
}

// scheduleRetry sets the earliest time the next restart may be dispatched.
func (r *WorkerRecord) scheduleRetry(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRetryAt = at
}

// swapHandle atomically replaces the process handle and transitions to
// Starting in one critical section, so no tick ever polls a stale handle as
// if current. The old handle is discarded, never reused.
func (r *WorkerRecord) swapHandle(h ProcessHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle = h
	r.state = StateStarting
}

// Registry tracks one WorkerRecord per configured worker. The map itself is
// append-only after startup; records carry their own locks, so mutating one
// identity never serializes against reads of another.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*WorkerRecord
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*WorkerRecord)}
}

// Register adds a worker with its initial process handle in state Starting.
// Registering an existing identity replaces its record; this only happens at
// supervisor startup.
func (g *Registry) Register(spec WorkerSpec, h ProcessHandle) *WorkerRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.records[spec.Identity]; !ok {
		g.order = append(g.order, spec.Identity)
	}
	rec := &WorkerRecord{
		identity: spec.Identity,
		spec:     spec,
		handle:   h,
		state:    StateStarting,
	}
	g.records[spec.Identity] = rec
	return rec
}

// Get returns the record for identity, or an UnknownWorkerError if it was
// never registered.
func (g *Registry) Get(identity string) (*WorkerRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[identity]
	if !ok {
		return nil, &UnknownWorkerError{Identity: identity}
	}
	return rec, nil
}

// ReplaceHandle atomically swaps in a new process handle for identity.
// Fails with UnknownWorkerError if the identity is absent.
func (g *Registry) ReplaceHandle(identity string, h ProcessHandle) error {
	rec, err := g.Get(identity)
	if err != nil {
		return err
	}
	rec.swapHandle(h)
	return nil
}

// All returns the records in registration order.
func (g *Registry) All() []*WorkerRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*WorkerRecord, 0, len(g.order))
	for _, identity := range g.order {
		out = append(out, g.records[identity])
	}
	return out
}

// Identities returns the registered identities in registration order.
func (g *Registry) Identities() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
