package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amalrajan/distributed-nodes/supervise"
	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

var (
	reportEvents   string // Event log JSON file to read
	windowStartStr string // Observation window start (RFC 3339)
	windowEndStr   string // Observation window end (RFC 3339)
	reportJSONOut  string // Optional JSON output path
)

// reportCmd recomputes reliability metrics from a persisted event log. The
// metrics engine is pure, so rerunning it over the same log always yields the
// same report.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Recompute MTTR/MTTB/availability from a persisted event log",
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(reportEvents)
		if err != nil {
			logrus.Fatalf("Opening event log: %v", err)
		}
		defer f.Close()

		events, err := supervise.ReadEvents(f)
		if err != nil {
			logrus.Fatalf("Reading event log: %v", err)
		}

		window, err := parseWindow(windowStartStr, windowEndStr, events)
		if err != nil {
			logrus.Fatalf("Invalid window: %v", err)
		}

		report := metrics.Compute(events, window, nil)
		report.Print(os.Stdout)
		if reportJSONOut != "" {
			writeFile(reportJSONOut, report.WriteJSON)
		}
	},
}

// parseWindow builds the observation window from the flags. An unset start
// defaults to the earliest event timestamp; an unset end leaves the window
// open, which excludes unterminated trailing intervals from the means.
func parseWindow(startStr, endStr string, events []metrics.Event) (metrics.Window, error) {
	var window metrics.Window
	if startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return window, fmt.Errorf("parsing start: %w", err)
		}
		window.Start = start
	} else {
		for _, e := range events {
			if window.Start.IsZero() || e.Timestamp.Before(window.Start) {
				window.Start = e.Timestamp
			}
		}
	}
	if endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return window, fmt.Errorf("parsing end: %w", err)
		}
		if end.Before(window.Start) {
			return window, fmt.Errorf("end %v precedes start %v", end, window.Start)
		}
		window.End = end
	}
	return window, nil
}

func init() {
	reportCmd.Flags().StringVar(&reportEvents, "events", "events.json", "Event log JSON file (from run --events-out)")
	reportCmd.Flags().StringVar(&windowStartStr, "start", "", "Observation window start, RFC 3339 (default: earliest event)")
	reportCmd.Flags().StringVar(&windowEndStr, "end", "", "Observation window end, RFC 3339 (default: open window)")
	reportCmd.Flags().StringVar(&reportJSONOut, "out", "", "Write the report to this JSON file")

	rootCmd.AddCommand(reportCmd)
}
