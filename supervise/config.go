package supervise

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerSpec describes one supervised worker.
type WorkerSpec struct {
	// Identity is the stable logical name; it never changes across restarts.
	Identity string
	// Server marks the worker every client connects to. Servers are started
	// first, and when a server is restarted every client is re-activated so
	// it reconnects.
	Server bool
	// Command overrides the launch argv. Empty means re-exec the
	// supervisor's own binary with the worker subcommand.
	Command []string
}

// ChaosConfig controls the fault injector that makes a simulation run
// actually produce failures to measure.
type ChaosConfig struct {
	Enabled bool
	// KillInterval is how often one randomly chosen alive worker is killed.
	KillInterval time.Duration
	// Seed makes the victim sequence reproducible across runs.
	Seed int64
}

// Config groups the supervisor parameters.
type Config struct {
	Workers []WorkerSpec
	// CoordinatorAddr is the TCP address the server worker listens on and
	// clients dial once activated.
	CoordinatorAddr string
	// PollInterval is the liveness monitor tick Δt.
	PollInterval time.Duration
	// SettleDelay is how long to wait after launching a process before
	// delivering the activate signal. Zero means activate immediately.
	SettleDelay time.Duration
	// RestartRetryLimit is the number of consecutive failed launch attempts
	// tolerated before a worker is marked PermanentlyDead.
	RestartRetryLimit int
	// RestartBackoff is the base delay between launch retries; it doubles
	// per consecutive failure, capped at 8x.
	RestartBackoff time.Duration
	// MaxConcurrentRestarts bounds how many restarts may be in flight at
	// once across all workers.
	MaxConcurrentRestarts int

	Chaos ChaosConfig
}

// DefaultConfig returns the supervisor defaults. The 1s poll interval and
// settle delay match the cadence the system was originally tuned at.
func DefaultConfig() Config {
	return Config{
		CoordinatorAddr:       "127.0.0.1:10001",
		PollInterval:          time.Second,
		SettleDelay:           time.Second,
		RestartRetryLimit:     5,
		RestartBackoff:        500 * time.Millisecond,
		MaxConcurrentRestarts: 4,
		Chaos: ChaosConfig{
			KillInterval: 10 * time.Second,
			Seed:         42,
		},
	}
}

// DefaultWorkers builds a deployment of one server worker plus n clients.
func DefaultWorkers(n int) []WorkerSpec {
	specs := make([]WorkerSpec, 0, n+1)
	specs = append(specs, WorkerSpec{Identity: "ingest", Server: true})
	for i := 1; i <= n; i++ {
		specs = append(specs, WorkerSpec{Identity: fmt.Sprintf("worker-%d", i)})
	}
	return specs
}

// Validate checks the configuration for values the supervisor cannot run with.
func (c Config) Validate() error {
	if len(c.Workers) == 0 {
		return fmt.Errorf("config: no workers")
	}
	seen := make(map[string]bool, len(c.Workers))
	servers := 0
	for _, w := range c.Workers {
		if w.Identity == "" {
			return fmt.Errorf("config: worker with empty identity")
		}
		if seen[w.Identity] {
			return fmt.Errorf("config: duplicate worker identity %q", w.Identity)
		}
		seen[w.Identity] = true
		if w.Server {
			servers++
		}
	}
	if servers > 1 {
		return fmt.Errorf("config: %d server workers, at most 1 supported", servers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive, got %v", c.PollInterval)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("config: settle delay must not be negative, got %v", c.SettleDelay)
	}
	if c.RestartRetryLimit < 0 {
		return fmt.Errorf("config: restart retry limit must not be negative, got %d", c.RestartRetryLimit)
	}
	if c.MaxConcurrentRestarts <= 0 {
		return fmt.Errorf("config: max concurrent restarts must be positive, got %d", c.MaxConcurrentRestarts)
	}
	return nil
}

// fileConfig is the YAML form of Config. Durations are strings in Go
// duration syntax ("1s", "500ms"); empty fields keep their defaults.
type fileConfig struct {
	Workers []struct {
		Identity string   `yaml:"identity"`
		Server   bool     `yaml:"server"`
		Command  []string `yaml:"command"`
	} `yaml:"workers"`
	CoordinatorAddr       string `yaml:"coordinator_addr"`
	PollInterval          string `yaml:"poll_interval"`
	SettleDelay           string `yaml:"settle_delay"`
	RestartRetryLimit     *int   `yaml:"restart_retry_limit"`
	RestartBackoff        string `yaml:"restart_backoff"`
	MaxConcurrentRestarts *int   `yaml:"max_concurrent_restarts"`
	Chaos                 struct {
		Enabled      bool   `yaml:"enabled"`
		KillInterval string `yaml:"kill_interval"`
		Seed         *int64 `yaml:"seed"`
	} `yaml:"chaos"`
}

// LoadConfig reads a YAML configuration file and applies it on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	for _, w := range fc.Workers {
		cfg.Workers = append(cfg.Workers, WorkerSpec{Identity: w.Identity, Server: w.Server, Command: w.Command})
	}
	if fc.CoordinatorAddr != "" {
		cfg.CoordinatorAddr = fc.CoordinatorAddr
	}
	if err := setDuration(&cfg.PollInterval, fc.PollInterval, "poll_interval"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.SettleDelay, fc.SettleDelay, "settle_delay"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.RestartBackoff, fc.RestartBackoff, "restart_backoff"); err != nil {
		return cfg, err
	}
	if fc.RestartRetryLimit != nil {
		cfg.RestartRetryLimit = *fc.RestartRetryLimit
	}
	if fc.MaxConcurrentRestarts != nil {
		cfg.MaxConcurrentRestarts = *fc.MaxConcurrentRestarts
	}
	cfg.Chaos.Enabled = fc.Chaos.Enabled
	if err := setDuration(&cfg.Chaos.KillInterval, fc.Chaos.KillInterval, "chaos.kill_interval"); err != nil {
		return cfg, err
	}
	if fc.Chaos.Seed != nil {
		cfg.Chaos.Seed = *fc.Chaos.Seed
	}

	return cfg, nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", field, err)
	}
	*dst = d
	return nil
}
