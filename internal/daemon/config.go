// Package daemon manages the forge coordinator lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all coordinator configuration.
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Recovery    RecoveryConfig    `toml:"recovery"`
	Tuning      TuningConfig      `toml:"tuning"`
	Workers     []WorkerConfig    `toml:"workers"`
	Routing     RoutingConfig     `toml:"routing"`
	Workload    WorkloadConfig    `toml:"workload"`
	API         APIConfig         `toml:"api"`
	Logging     LoggingConfig     `toml:"logging"`
}

// CoordinatorConfig controls the scheduler.
type CoordinatorConfig struct {
	MaxConcurrentWorkers int      `toml:"max_concurrent_workers"`
	DispatchRateLimit    float64  `toml:"dispatch_rate_limit_per_second"`
	PollInterval         duration `toml:"poll_interval"`
	RequeueBackoff       duration `toml:"requeue_backoff"`
}

// BreakerConfig controls per-worker circuit breakers.
type BreakerConfig struct {
	FailureThreshold  int      `toml:"failure_threshold"`
	SuccessThreshold  int      `toml:"success_threshold"`
	RecoveryTimeout   duration `toml:"recovery_timeout"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	TimeoutMax        duration `toml:"timeout_max"`
	HalfOpenMaxCalls  int      `toml:"half_open_max_calls"`
}

// RecoveryConfig controls the recovery sweep.
type RecoveryConfig struct {
	SweepInterval      duration `toml:"sweep_interval"`
	RestartCooldown    duration `toml:"restart_cooldown"`
	MaxRestartAttempts int      `toml:"max_restart_attempts"`
	HealthFloor        float64  `toml:"health_floor"`
}

// TuningConfig controls the self-tuner.
type TuningConfig struct {
	Interval          duration           `toml:"interval"`
	MinSamples        int                `toml:"min_samples"`
	ExplorationRate   float64            `toml:"exploration_rate"`
	RollbackThreshold float64            `toml:"rollback_threshold"`
	Strategy          string             `toml:"strategy"`
	Weights           map[string]float64 `toml:"weights"`
}

// WorkerConfig defines one simulated fleet member.
type WorkerConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// RoutingConfig maps task types to preferred worker names.
type RoutingConfig struct {
	Preferred map[string][]string `toml:"preferred"`
}

// WorkloadConfig shapes the simulated executor.
type WorkloadConfig struct {
	BaseLatency duration `toml:"base_latency"`
	Jitter      duration `toml:"jitter"`
	FailureRate float64  `toml:"failure_rate"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// duration supports "30s"-style values in TOML.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a sensible default configuration: a four-worker
// simulated fleet with the adaptive tuning strategy.
func DefaultConfig() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			MaxConcurrentWorkers: 4,
			DispatchRateLimit:    100,
			PollInterval:         duration(50 * time.Millisecond),
			RequeueBackoff:       duration(100 * time.Millisecond),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			RecoveryTimeout:   duration(30 * time.Second),
			BackoffMultiplier: 2.0,
			TimeoutMax:        duration(5 * time.Minute),
			HalfOpenMaxCalls:  1,
		},
		Recovery: RecoveryConfig{
			SweepInterval:      duration(15 * time.Second),
			RestartCooldown:    duration(time.Minute),
			MaxRestartAttempts: 3,
			HealthFloor:        30,
		},
		Tuning: TuningConfig{
			Interval:          duration(30 * time.Second),
			MinSamples:        20,
			ExplorationRate:   0.3,
			RollbackThreshold: 0.9,
			Strategy:          "adaptive",
		},
		Workers: []WorkerConfig{
			{ID: "w-alpha", Name: "fleet.alpha"},
			{ID: "w-beta", Name: "fleet.beta"},
			{ID: "w-gamma", Name: "fleet.gamma"},
			{ID: "w-delta", Name: "fleet.delta"},
		},
		Routing: RoutingConfig{
			Preferred: map[string][]string{},
		},
		Workload: WorkloadConfig{
			BaseLatency: duration(50 * time.Millisecond),
			Jitter:      duration(30 * time.Millisecond),
			FailureRate: 0.05,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7430,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(forgeHome(), "forge.log"),
		},
	}
}

// LoadConfig reads config from $FORGE_HOME/config.toml, falling back to
// defaults when no file exists.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(forgeHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $FORGE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(forgeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// forgeHome returns the forge data directory.
func forgeHome() string {
	if env := os.Getenv("FORGE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".forge")
}

// ForgeHome is exported for use by other packages.
func ForgeHome() string {
	return forgeHome()
}
