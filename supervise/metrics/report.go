package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// WorkerReport holds the three reliability figures for one worker.
// Nil pointer fields mean "no data" — e.g. a worker that never failed has no
// repair intervals to average, which is distinct from an MTTR of zero.
type WorkerReport struct {
	Failures     int      `json:"failures" yaml:"failures"`
	Repairs      int      `json:"repairs" yaml:"repairs"`
	MTTRSeconds  *float64 `json:"mttr_seconds,omitempty" yaml:"mttr_seconds,omitempty"`
	MTTBSeconds  *float64 `json:"mttb_seconds,omitempty" yaml:"mttb_seconds,omitempty"`
	Availability *float64 `json:"availability,omitempty" yaml:"availability,omitempty"`
}

// AggregateReport pools intervals across all workers.
type AggregateReport struct {
	Workers              int      `json:"workers" yaml:"workers"`
	MTTRSeconds          *float64 `json:"mttr_seconds,omitempty" yaml:"mttr_seconds,omitempty"`
	MTTBSeconds          *float64 `json:"mttb_seconds,omitempty" yaml:"mttb_seconds,omitempty"`
	Availability         *float64 `json:"availability,omitempty" yaml:"availability,omitempty"`
	TotalUptimeSeconds   float64  `json:"total_uptime_seconds" yaml:"total_uptime_seconds"`
	TotalObservedSeconds float64  `json:"total_observed_seconds" yaml:"total_observed_seconds"`
}

// Report is the full output of the metrics engine: one entry per worker plus
// the aggregate. Aggregate availability is total-uptime / total-observed-time,
// not an average of the per-worker ratios.
type Report struct {
	Window    Window                   `json:"window" yaml:"window"`
	Workers   map[string]*WorkerReport `json:"workers" yaml:"workers"`
	Aggregate *AggregateReport         `json:"aggregate" yaml:"aggregate"`
}

// WriteJSON serializes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Print displays the reliability report at the end of a run.
// Workers are listed in identity order so output is stable across runs.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Reliability Metrics ===")

	identities := make([]string, 0, len(r.Workers))
	for identity := range r.Workers {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	for _, identity := range identities {
		wr := r.Workers[identity]
		fmt.Fprintf(w, "%s:\n", identity)
		fmt.Fprintf(w, "  Failures     : %d\n", wr.Failures)
		fmt.Fprintf(w, "  MTTR         : %s\n", formatSeconds(wr.MTTRSeconds))
		fmt.Fprintf(w, "  MTTB         : %s\n", formatSeconds(wr.MTTBSeconds))
		fmt.Fprintf(w, "  Availability : %s\n", formatRatio(wr.Availability))
	}

	if agg := r.Aggregate; agg != nil {
		fmt.Fprintln(w, "aggregate:")
		fmt.Fprintf(w, "  Workers      : %d\n", agg.Workers)
		fmt.Fprintf(w, "  MTTR         : %s\n", formatSeconds(agg.MTTRSeconds))
		fmt.Fprintf(w, "  MTTB         : %s\n", formatSeconds(agg.MTTBSeconds))
		fmt.Fprintf(w, "  Availability : %s\n", formatRatio(agg.Availability))
		fmt.Fprintf(w, "  Uptime       : %.2fs of %.2fs observed\n",
			agg.TotalUptimeSeconds, agg.TotalObservedSeconds)
	}
}

func formatSeconds(v *float64) string {
	if v == nil {
		return "no data"
	}
	return fmt.Sprintf("%.3fs", *v)
}

func formatRatio(v *float64) string {
	if v == nil {
		return "no data"
	}
	return fmt.Sprintf("%.4f", *v)
}
