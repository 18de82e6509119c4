// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers file and environment on top.
// - All blocking functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the ops HTTP listen address (healthz, metrics).
	Addr string `koanf:"addr"`

	// DBPath locates the SQLite database file.
	DBPath string `koanf:"db_path"`

	// QueueSize bounds each queue partition's buffered jobs.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers. Jobs are
	// partitioned by user across workers, so it also bounds how many
	// users ingest in parallel.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the in-flight duplicate-submission guard.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxAttempts bounds executions per job including the first.
	MaxAttempts int `koanf:"max_attempts"`

	// RetryBackoffMS is the base backoff between job attempts.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// DefaultTimezone is the IANA zone applied when a provider declares
	// no UTC offset and the user profile has none either.
	DefaultTimezone string `koanf:"default_timezone"`

	// MappingFile optionally overlays the built-in canonical mapping
	// table with a YAML file.
	MappingFile string `koanf:"mapping_file"`

	// RulesFile optionally replaces the built-in insight rules with a
	// YAML file.
	RulesFile string `koanf:"rules_file"`

	// InsightIntervalMin is the period between evaluation sweeps, in minutes.
	InsightIntervalMin int `koanf:"insight_interval_min"`

	// InsightBudgetMS caps one user's evaluation cycle, in milliseconds.
	InsightBudgetMS int `koanf:"insight_budget_ms"`

	// MaxLagDays is the default lag sweep bound for rules that do not
	// set their own.
	MaxLagDays int `koanf:"max_lag_days"`

	// WindowDays is the default evaluation window for rules that do
	// not set their own.
	WindowDays int `koanf:"window_days"`

	// MinSamples is the default minimum paired samples before a rule
	// may emit.
	MinSamples int `koanf:"min_samples"`

	// SignificanceThreshold is the default p-value gate for insights.
	SignificanceThreshold float64 `koanf:"significance_threshold"`
}

// New creates a Config carrying the service defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9180",
		DBPath:                "vita.db",
		QueueSize:             1024,
		WorkerCount:           runtime.NumCPU(),
		DedupeSize:            10_000,
		MaxAttempts:           3,
		RetryBackoffMS:        250,
		DefaultTimezone:       "UTC",
		InsightIntervalMin:    360,
		InsightBudgetMS:       30_000,
		MaxLagDays:            7,
		WindowDays:            28,
		MinSamples:            14,
		SignificanceThreshold: 0.05,
	}
}
