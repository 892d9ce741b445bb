package supervise

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

// EventLog is the append-only reliability event log. It enforces the
// per-worker invariant that kinds strictly alternate starting with FAILURE,
// and supports point-in-time snapshot reads without blocking appends.
type EventLog struct {
	mu     sync.Mutex
	events []metrics.Event
	last   map[string]metrics.Kind
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{last: make(map[string]metrics.Kind)}
}

// Append records an event. It rejects an event that would break the
// per-worker alternation (two FAILUREs in a row, or a REPAIR with no
// preceding FAILURE); callers treat that as an invariant violation on their
// side, not as data to be dropped silently.
func (l *EventLog) Append(worker string, kind metrics.Kind, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, seen := l.last[worker]
	switch kind {
	case metrics.KindFailure:
		if seen && prev == metrics.KindFailure {
			return fmt.Errorf("event log: consecutive FAILURE for %q", worker)
		}
	case metrics.KindRepair:
		if !seen || prev == metrics.KindRepair {
			return fmt.Errorf("event log: REPAIR without preceding FAILURE for %q", worker)
		}
	default:
		return fmt.Errorf("event log: unknown event kind %q", kind)
	}

	l.events = append(l.events, metrics.Event{Worker: worker, Kind: kind, Timestamp: ts})
	l.last[worker] = kind
	return nil
}

// Snapshot returns a consistent copy of the log for the metrics engine.
// Appends made after the snapshot is taken are not visible in it.
func (l *EventLog) Snapshot() []metrics.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]metrics.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of appended events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// WriteJSON persists a snapshot of the log as a JSON array, consumable later
// by the report command.
func (l *EventLog) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l.Snapshot())
}

// ReadEvents parses an event log previously written by WriteJSON.
func ReadEvents(r io.Reader) ([]metrics.Event, error) {
	var events []metrics.Event
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("parsing event log: %w", err)
	}
	return events, nil
}
