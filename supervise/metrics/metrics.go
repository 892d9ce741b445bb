// Package metrics computes reliability statistics (MTTR, MTTB, availability)
// from a reliability event sequence. This package has no dependencies on
// supervise/ — it stores pure data types and pure functions so a report can be
// recomputed offline from a persisted event log.
package metrics

import "time"

// Kind distinguishes the two reliability event kinds.
type Kind string

const (
	// KindFailure marks the instant a worker was detected dead.
	KindFailure Kind = "FAILURE"
	// KindRepair marks the instant a replacement process was launched.
	KindRepair Kind = "REPAIR"
)

// Event is one immutable entry of the reliability event log.
// For a given worker, kinds strictly alternate starting with FAILURE.
type Event struct {
	Worker    string    `json:"worker" yaml:"worker"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Window is the observation window the events were recorded over.
//
// Start anchors the first uptime interval of every worker: a worker's time
// from Start to its first FAILURE counts as uptime, regardless of when its
// process was actually launched.
//
// End is optional. When End is zero, unterminated trailing intervals (a
// FAILURE with no matching REPAIR, or a worker still up) are excluded from
// the means. When End is set, those intervals are censored at End and
// included. The same rule applies to repair and uptime intervals so MTTR and
// MTTB stay comparable across runs.
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end,omitzero" yaml:"end,omitempty"`
}

// Closed reports whether the window has an explicit end.
func (w Window) Closed() bool {
	return !w.End.IsZero()
}

// Duration returns End-Start for a closed window and 0 otherwise.
func (w Window) Duration() time.Duration {
	if !w.Closed() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Compute derives per-worker and aggregate reliability metrics from an event
// snapshot. roster names the workers under observation; identities appearing
// in events are included regardless, so a nil roster means "workers that
// logged at least one event". A roster worker with no events reports MTTR
// "no data" and availability 1.0 over the window.
//
// Compute is deterministic, side-effect free, and never fails: malformed or
// unterminated sequences degrade to "no data" fields, not errors. Recomputing
// over an unchanged snapshot yields an identical report.
func Compute(events []Event, window Window, roster []string) *Report {
	report := &Report{
		Window:  window,
		Workers: make(map[string]*WorkerReport),
	}

	byWorker := partition(events)
	for _, worker := range roster {
		if _, ok := byWorker[worker]; !ok {
			byWorker[worker] = nil
		}
	}

	var allRepairs, allUptimes []time.Duration
	totalUptime := 0.0
	totalObserved := 0.0

	for worker, seq := range byWorker {
		repairs, uptimes := intervals(seq, window)

		wr := &WorkerReport{
			Failures: count(seq, KindFailure),
			Repairs:  count(seq, KindRepair),
		}
		if len(repairs) > 0 {
			wr.MTTRSeconds = ptr(meanSeconds(repairs))
		}
		if len(uptimes) > 0 {
			wr.MTTBSeconds = ptr(meanSeconds(uptimes))
		}
		switch {
		case wr.Failures == 0:
			// Never failed over the observed window.
			wr.Availability = ptr(1.0)
		case wr.MTTRSeconds != nil && wr.MTTBSeconds != nil:
			wr.Availability = ptr(*wr.MTTBSeconds / (*wr.MTTBSeconds + *wr.MTTRSeconds))
		}

		report.Workers[worker] = wr

		allRepairs = append(allRepairs, repairs...)
		allUptimes = append(allUptimes, uptimes...)
		totalUptime += sumSeconds(uptimes)
		if window.Closed() {
			totalObserved += window.Duration().Seconds()
		} else {
			totalObserved += sumSeconds(uptimes) + sumSeconds(repairs)
		}
	}

	agg := &AggregateReport{
		Workers:              len(byWorker),
		TotalUptimeSeconds:   totalUptime,
		TotalObservedSeconds: totalObserved,
	}
	if len(allRepairs) > 0 {
		agg.MTTRSeconds = ptr(meanSeconds(allRepairs))
	}
	if len(allUptimes) > 0 {
		agg.MTTBSeconds = ptr(meanSeconds(allUptimes))
	}
	if totalObserved > 0 {
		agg.Availability = ptr(totalUptime / totalObserved)
	}
	report.Aggregate = agg

	return report
}

// partition splits events by worker, preserving log order.
func partition(events []Event) map[string][]Event {
	byWorker := make(map[string][]Event)
	for _, e := range events {
		byWorker[e.Worker] = append(byWorker[e.Worker], e)
	}
	return byWorker
}

// intervals pairs one worker's events into repair intervals
// (FAILURE -> next REPAIR) and uptime intervals (window start -> first
// FAILURE, then each REPAIR -> next FAILURE). Trailing unterminated
// intervals are censored at the window end when the window is closed and
// dropped otherwise. Out-of-order duplicates are skipped rather than
// reported as an error.
func intervals(seq []Event, window Window) (repairs, uptimes []time.Duration) {
	upSince := window.Start // worker is presumed up at observation start
	var downSince time.Time
	down := false

	for _, e := range seq {
		switch e.Kind {
		case KindFailure:
			if down {
				continue // malformed: two FAILUREs in a row
			}
			uptimes = append(uptimes, e.Timestamp.Sub(upSince))
			downSince = e.Timestamp
			down = true
		case KindRepair:
			if !down {
				continue // malformed: REPAIR without a preceding FAILURE
			}
			repairs = append(repairs, e.Timestamp.Sub(downSince))
			upSince = e.Timestamp
			down = false
		}
	}

	if window.Closed() {
		if down {
			repairs = append(repairs, window.End.Sub(downSince))
		} else {
			uptimes = append(uptimes, window.End.Sub(upSince))
		}
	}
	return repairs, uptimes
}

func count(seq []Event, kind Kind) int {
	n := 0
	for _, e := range seq {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func meanSeconds(durations []time.Duration) float64 {
	if len(durations) == 0 {
		return 0
	}
	return sumSeconds(durations) / float64(len(durations))
}

func sumSeconds(durations []time.Duration) float64 {
	total := 0.0
	for _, d := range durations {
		total += d.Seconds()
	}
	return total
}

func ptr(v float64) *float64 {
	return &v
}
