package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"template-studio/internal/pkg/config"
)

// JanitorConfig holds the backup janitor configuration.
// All fields are loaded from environment variables with fail-open
// validation: an invalid value falls back to its default.
type JanitorConfig struct {
	// Schedule is a 5-field cron expression (default: "0 * * * *", hourly).
	// Environment variable: JANITOR_SCHEDULE
	Schedule string

	// Timezone is the IANA timezone the schedule runs in (default: "UTC").
	// Environment variable: JANITOR_TIMEZONE
	Timezone string

	// Retention is how long an untouched backup is kept (default: 7 days).
	// Valid range: 1h to 90 days.
	// Environment variable: BACKUP_RETENTION
	Retention time.Duration

	// Timeout bounds a single janitor run (default: 5m).
	// Valid range: 10s to 1h.
	// Environment variable: JANITOR_TIMEOUT
	Timeout time.Duration

	// GCDiscardRatio is passed to badger value log GC after pruning (default: 0.5).
	// Environment variable: JANITOR_GC_DISCARD_RATIO
	GCDiscardRatio float64

	// HealthPort is the port of the health and metrics server (default: 9091).
	// Valid range: 1024-65535.
	// Environment variable: WORKER_HEALTH_PORT
	HealthPort int
}

// DefaultConfig returns the default janitor configuration.
func DefaultConfig() JanitorConfig {
	return JanitorConfig{
		Schedule:       "0 * * * *",
		Timezone:       "UTC",
		Retention:      7 * 24 * time.Hour,
		Timeout:        5 * time.Minute,
		GCDiscardRatio: 0.5,
		HealthPort:     9091,
	}
}

// Validate checks all fields and reports every problem at once.
func (c *JanitorConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("Schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("Timezone: %w", err))
	}
	if err := config.ValidateDuration(c.Retention, time.Hour, 90*24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("Retention: %w", err))
	}
	if err := config.ValidateDuration(c.Timeout, 10*time.Second, time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("Timeout: %w", err))
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		errs = append(errs, fmt.Errorf("GCDiscardRatio: must be in (0, 1), got %g", c.GCDiscardRatio))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("HealthPort: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c *JanitorConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfigFromEnv loads the janitor configuration from environment
// variables. It never fails: invalid values are logged, counted in metrics,
// and replaced by defaults. metrics may be nil.
func LoadConfigFromEnv(logger *slog.Logger, metrics *JanitorMetrics) *JanitorConfig {
	cfg := DefaultConfig()
	fallback := false

	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}

	cfg.Schedule = config.Report(
		config.LoadEnvWithFallback("JANITOR_SCHEDULE", cfg.Schedule, config.ValidateCronSchedule),
		"schedule", logger, cm, &fallback)

	cfg.Timezone = config.Report(
		config.LoadEnvWithFallback("JANITOR_TIMEZONE", cfg.Timezone, config.ValidateTimezone),
		"timezone", logger, cm, &fallback)

	cfg.Retention = config.Report(
		config.LoadEnvDuration("BACKUP_RETENTION", cfg.Retention, func(d time.Duration) error {
			return config.ValidateDuration(d, time.Hour, 90*24*time.Hour)
		}),
		"retention", logger, cm, &fallback)

	cfg.Timeout = config.Report(
		config.LoadEnvDuration("JANITOR_TIMEOUT", cfg.Timeout, func(d time.Duration) error {
			return config.ValidateDuration(d, 10*time.Second, time.Hour)
		}),
		"timeout", logger, cm, &fallback)

	cfg.GCDiscardRatio = config.Report(
		config.LoadEnvFloat("JANITOR_GC_DISCARD_RATIO", cfg.GCDiscardRatio, func(v float64) error {
			if v <= 0 || v >= 1 {
				return fmt.Errorf("ratio must be in (0, 1), got %g", v)
			}
			return nil
		}),
		"gc_discard_ratio", logger, cm, &fallback)

	cfg.HealthPort = config.Report(
		config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
			return config.ValidateIntRange(v, 1024, 65535)
		}),
		"health_port", logger, cm, &fallback)

	if cm != nil {
		cm.SetFallbackActive(fallback)
		cm.RecordLoadTimestamp()
	}
	return &cfg
}
