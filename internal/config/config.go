// Package config handles environment variable loading for the orchestrator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the orchestrator daemon.
type Config struct {
	// PoolModeEnabled gates pooled allocation. When false every bot is
	// provisioned through the legacy one-container-per-bot path.
	PoolModeEnabled bool

	// MaxBotsPerPool is the fixed slot capacity of every pool container.
	MaxBotsPerPool int

	// BasePort is the first port of the first pool's reserved range.
	// Each pool reserves MaxBotsPerPool consecutive ports.
	BasePort int

	// PoolImage is the container image used for shared pool containers.
	PoolImage string

	// BotImage is the container image used by the legacy per-bot path.
	BotImage string

	// SweepInterval is how often the health monitor runs a full sweep.
	SweepInterval time.Duration

	// SweepBudget is the total wall-clock budget of one sweep. Probes
	// still in flight when it expires are abandoned and the sweep
	// returns partial results.
	SweepBudget time.Duration

	// ProbeTimeout bounds a single liveness probe.
	ProbeTimeout time.Duration

	// ProbeRetries is how many times a failing probe is retried before
	// the bot is declared unresponsive.
	ProbeRetries int

	// ReconcileInterval is how often the reconciler runs.
	ReconcileInterval time.Duration

	// TeardownGrace is how long a pool may sit with zero assigned slots
	// before the reconciler tears it down.
	TeardownGrace time.Duration

	// FailedSweepThreshold is the number of consecutive failed sweeps
	// after which an unreachable pool is marked failed.
	FailedSweepThreshold int

	// AllocRetries and AllocRetryBackoff bound container creation
	// attempts during pool allocation.
	AllocRetries      int
	AllocRetryBackoff time.Duration

	// SnapshotPath is where the pool state snapshot file lives.
	SnapshotPath string

	// Runtime selects the container runtime backend ("docker" or
	// "kubernetes").
	Runtime string

	// AuthorityURL is the base URL of the external provisioning authority
	// queried by the reconciler for the active bot set.
	AuthorityURL string

	// HTTPPort is the admin API / metrics listen port.
	HTTPPort int

	// AdminKeyHash is the SHA-256 hash of the key required on operator
	// trigger endpoints. Empty disables the check.
	AdminKeyHash string

	// OTELEndpoint is the OTLP gRPC collector address for traces.
	OTELEndpoint string
}

// Load reads configuration from environment variables, applying documented
// defaults for everything that is unset.
func Load() (*Config, error) {
	cfg := &Config{
		PoolModeEnabled:      true,
		MaxBotsPerPool:       10,
		BasePort:             8101,
		PoolImage:            "freqtrade-pool:latest",
		BotImage:             "freqtrade-bot:latest",
		SweepInterval:        30 * time.Second,
		SweepBudget:          20 * time.Second,
		ProbeTimeout:         3 * time.Second,
		ProbeRetries:         3,
		ReconcileInterval:    5 * time.Minute,
		TeardownGrace:        10 * time.Minute,
		FailedSweepThreshold: 3,
		AllocRetries:         3,
		AllocRetryBackoff:    2 * time.Second,
		SnapshotPath:         "./data/pool-state.json",
		Runtime:              "docker",
		AuthorityURL:         "http://localhost:5000",
		HTTPPort:             7070,
		OTELEndpoint:         "localhost:4317",
	}

	var err error
	if cfg.PoolModeEnabled, err = boolVar("POOL_MODE_ENABLED", cfg.PoolModeEnabled); err != nil {
		return nil, err
	}
	if cfg.MaxBotsPerPool, err = intVar("MAX_BOTS_PER_POOL", cfg.MaxBotsPerPool); err != nil {
		return nil, err
	}
	if cfg.MaxBotsPerPool < 1 {
		return nil, fmt.Errorf("MAX_BOTS_PER_POOL must be at least 1, got %d", cfg.MaxBotsPerPool)
	}
	if cfg.BasePort, err = intVar("POOL_BASE_PORT", cfg.BasePort); err != nil {
		return nil, err
	}
	if v := os.Getenv("POOL_IMAGE"); v != "" {
		cfg.PoolImage = v
	}
	if v := os.Getenv("BOT_IMAGE"); v != "" {
		cfg.BotImage = v
	}
	if cfg.SweepInterval, err = durationVar("HEALTH_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.SweepBudget, err = durationVar("HEALTH_SWEEP_BUDGET", cfg.SweepBudget); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = durationVar("PROBE_TIMEOUT", cfg.ProbeTimeout); err != nil {
		return nil, err
	}
	if cfg.ProbeRetries, err = intVar("PROBE_RETRIES", cfg.ProbeRetries); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = durationVar("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return nil, err
	}
	if cfg.TeardownGrace, err = durationVar("POOL_TEARDOWN_GRACE", cfg.TeardownGrace); err != nil {
		return nil, err
	}
	if cfg.FailedSweepThreshold, err = intVar("FAILED_SWEEP_THRESHOLD", cfg.FailedSweepThreshold); err != nil {
		return nil, err
	}
	if cfg.AllocRetries, err = intVar("ALLOC_RETRIES", cfg.AllocRetries); err != nil {
		return nil, err
	}
	if cfg.AllocRetryBackoff, err = durationVar("ALLOC_RETRY_BACKOFF", cfg.AllocRetryBackoff); err != nil {
		return nil, err
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("CONTAINER_RUNTIME"); v != "" {
		if v != "docker" && v != "kubernetes" {
			return nil, fmt.Errorf("invalid CONTAINER_RUNTIME %q: must be docker or kubernetes", v)
		}
		cfg.Runtime = v
	}
	if v := os.Getenv("AUTHORITY_URL"); v != "" {
		cfg.AuthorityURL = v
	}
	if cfg.HTTPPort, err = intVar("PORT", cfg.HTTPPort); err != nil {
		return nil, err
	}
	cfg.AdminKeyHash = os.Getenv("ADMIN_API_KEY_HASH")
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}

	return cfg, nil
}

func intVar(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func boolVar(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func durationVar(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
