package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amalrajan/distributed-nodes/supervise"
	"github.com/amalrajan/distributed-nodes/supervise/metrics"
)

var (
	// CLI flags for the supervisor
	configPath            string        // Optional YAML config file
	numWorkers            int           // Number of client workers (ignored when the config file lists workers)
	coordinatorAddr       string        // TCP address the server worker listens on
	pollInterval          time.Duration // Liveness poll interval
	settleDelay           time.Duration // Delay before activating a freshly launched process
	restartRetryLimit     int           // Consecutive failed launches tolerated before PermanentlyDead
	restartBackoff        time.Duration // Base delay between launch retries
	maxConcurrentRestarts int           // Bound on restarts in flight at once

	// CLI flags for fault injection and run shape
	chaosEnabled bool          // Kill a random worker periodically
	killInterval time.Duration // How often chaos kills a worker
	chaosSeed    int64         // Seed for the chaos victim sequence
	runFor       time.Duration // Observation window length (0 = until SIGINT/SIGTERM)

	// CLI flags for outputs
	eventsOut string // Path to persist the event log as JSON
	reportOut string // Path to write the metrics report as JSON
)

// runCmd starts the supervisor, runs the deployment for the observation
// window, and prints the reliability report.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervised deployment and report MTTR/MTTB/availability",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadRunConfig(cmd)
		if len(cfg.Workers) == 0 {
			cfg.Workers = supervise.DefaultWorkers(numWorkers)
		}

		sup, err := supervise.New(cfg)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if runFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runFor)
			defer cancel()
		}

		if err := sup.Start(ctx); err != nil {
			logrus.Fatalf("Starting deployment: %v", err)
		}
		sup.Run(ctx)

		window := metrics.Window{Start: sup.StartedAt(), End: time.Now()}
		report := sup.Report(window)
		report.Print(os.Stdout)

		if eventsOut != "" {
			writeFile(eventsOut, sup.Events().WriteJSON)
		}
		if reportOut != "" {
			writeFile(reportOut, report.WriteJSON)
		}
	},
}

// loadRunConfig layers CLI flags over the config file (when given) over the
// defaults. Only flags the user actually set override file values.
func loadRunConfig(cmd *cobra.Command) supervise.Config {
	cfg := supervise.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = supervise.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Loading config: %v", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("coordinator") {
		cfg.CoordinatorAddr = coordinatorAddr
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = pollInterval
	}
	if flags.Changed("settle-delay") {
		cfg.SettleDelay = settleDelay
	}
	if flags.Changed("restart-retry-limit") {
		cfg.RestartRetryLimit = restartRetryLimit
	}
	if flags.Changed("restart-backoff") {
		cfg.RestartBackoff = restartBackoff
	}
	if flags.Changed("max-concurrent-restarts") {
		cfg.MaxConcurrentRestarts = maxConcurrentRestarts
	}
	if flags.Changed("chaos") {
		cfg.Chaos.Enabled = chaosEnabled
	}
	if flags.Changed("kill-interval") {
		cfg.Chaos.KillInterval = killInterval
	}
	if flags.Changed("chaos-seed") {
		cfg.Chaos.Seed = chaosSeed
	}
	return cfg
}

func writeFile(path string, write func(w io.Writer) error) {
	f, err := os.Create(path)
	if err != nil {
		logrus.Errorf("Creating %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := write(f); err != nil {
		logrus.Errorf("Writing %s: %v", path, err)
	}
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	runCmd.Flags().IntVar(&numWorkers, "workers", 2, "Number of client workers (plus one server)")
	runCmd.Flags().StringVar(&coordinatorAddr, "coordinator", "127.0.0.1:10001", "TCP address the server worker listens on")
	runCmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Liveness poll interval")
	runCmd.Flags().DurationVar(&settleDelay, "settle-delay", time.Second, "Delay before activating a freshly launched process")
	runCmd.Flags().IntVar(&restartRetryLimit, "restart-retry-limit", 5, "Consecutive failed launches before a worker is given up on")
	runCmd.Flags().DurationVar(&restartBackoff, "restart-backoff", 500*time.Millisecond, "Base delay between launch retries")
	runCmd.Flags().IntVar(&maxConcurrentRestarts, "max-concurrent-restarts", 4, "Maximum restarts in flight at once")

	runCmd.Flags().BoolVar(&chaosEnabled, "chaos", false, "Periodically kill a random worker")
	runCmd.Flags().DurationVar(&killInterval, "kill-interval", 10*time.Second, "Interval between chaos kills")
	runCmd.Flags().Int64Var(&chaosSeed, "chaos-seed", 42, "Seed for the chaos victim sequence")
	runCmd.Flags().DurationVar(&runFor, "duration", 0, "Observation window length (0 = run until interrupted)")

	runCmd.Flags().StringVar(&eventsOut, "events-out", "", "Write the reliability event log to this JSON file")
	runCmd.Flags().StringVar(&reportOut, "report-out", "", "Write the metrics report to this JSON file")

	rootCmd.AddCommand(runCmd)
}
