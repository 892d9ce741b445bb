package supervise

import (
	"bytes"
	"testing"
	"time"

	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

func TestEventLog_KindsStrictlyAlternatePerWorker(t *testing.T) {
	// GIVEN an empty log
	log := NewEventLog()
	base := time.Unix(0, 0)

	// THEN a REPAIR may never come first
	if err := log.Append("w1", metrics.KindRepair, base); err == nil {
		t.Fatal("expected REPAIR without preceding FAILURE to be rejected")
	}

	// AND FAILURE, REPAIR, FAILURE is accepted
	if err := log.Append("w1", metrics.KindFailure, base.Add(1*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("w1", metrics.KindRepair, base.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("w1", metrics.KindFailure, base.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	// AND a second consecutive FAILURE is rejected
	if err := log.Append("w1", metrics.KindFailure, base.Add(4*time.Second)); err == nil {
		t.Fatal("expected consecutive FAILURE to be rejected")
	}

	// AND other workers alternate independently
	if err := log.Append("w2", metrics.KindFailure, base.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	if log.Len() != 4 {
		t.Fatalf("expected 4 events, got %d", log.Len())
	}
}

func TestEventLog_SnapshotIsPointInTime(t *testing.T) {
	// GIVEN a log with one event
	log := NewEventLog()
	base := time.Unix(0, 0)
	if err := log.Append("w1", metrics.KindFailure, base); err != nil {
		t.Fatal(err)
	}

	// WHEN a snapshot is taken and more events are appended
	snap := log.Snapshot()
	if err := log.Append("w1", metrics.KindRepair, base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	// THEN the snapshot does not see the later append
	if len(snap) != 1 {
		t.Fatalf("expected snapshot of 1 event, got %d", len(snap))
	}
	if log.Len() != 2 {
		t.Fatalf("expected log of 2 events, got %d", log.Len())
	}
}

func TestEventLog_JSONRoundTripForReporting(t *testing.T) {
	// GIVEN a log persisted with WriteJSON
	log := NewEventLog()
	base := time.Unix(100, 0).UTC()
	if err := log.Append("w1", metrics.KindFailure, base); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("w1", metrics.KindRepair, base.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := log.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	// WHEN read back for the report command
	events, err := ReadEvents(&buf)
	if err != nil {
		t.Fatal(err)
	}

	// THEN the sequence is intact
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != metrics.KindFailure || events[1].Kind != metrics.KindRepair {
		t.Fatalf("unexpected kinds: %v, %v", events[0].Kind, events[1].Kind)
	}
	if !events[1].Timestamp.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("unexpected repair timestamp: %v", events[1].Timestamp)
	}
}
