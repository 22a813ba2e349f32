// Package config holds the runtime configuration of the resilience
// subsystem: circuit breaker thresholds, recovery coordinator limits,
// backup store selection, and session recovery behavior.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"template-studio/internal/pkg/config"
	"template-studio/internal/resilience/circuitbreaker"
)

// Store kinds accepted by StoreConfig.Kind and StoreConfig.Alternate.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreNone     = "none"
)

// ResilienceConfig is the complete resilience configuration.
type ResilienceConfig struct {
	Breaker  BreakerConfig  `yaml:"breaker"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Store    StoreConfig    `yaml:"store"`
	Session  SessionConfig  `yaml:"session"`
	LogLevel string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// BreakerConfig holds thresholds shared by the backup store breakers.
type BreakerConfig struct {
	FailureThreshold  uint32        `yaml:"failure_threshold" validate:"min=1,max=100"`
	ResetTimeout      time.Duration `yaml:"reset_timeout" validate:"min=1s,max=1h"`
	HalfOpenCallLimit uint32        `yaml:"half_open_call_limit" validate:"min=1,max=50"`
}

// For returns a circuit breaker configuration named name.
func (b BreakerConfig) For(name string) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:              name,
		FailureThreshold:  b.FailureThreshold,
		ResetTimeout:      b.ResetTimeout,
		HalfOpenCallLimit: b.HalfOpenCallLimit,
	}
}

// RecoveryConfig bounds the recovery coordinator.
type RecoveryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts" validate:"min=1,max=20"`
	MaxConcurrent int     `yaml:"max_concurrent" validate:"min=1,max=64"`
	QueueDepth    int     `yaml:"queue_depth" validate:"min=1,max=10000"`
	WriteRate     float64 `yaml:"write_rate" validate:"gt=0,lte=10000"`
	WriteBurst    int     `yaml:"write_burst" validate:"min=1,max=10000"`
}

// StoreConfig selects the primary and alternate backup stores.
type StoreConfig struct {
	Kind        string `yaml:"kind" validate:"oneof=memory badger postgres redis"`
	Alternate   string `yaml:"alternate" validate:"oneof=none badger redis"`
	BadgerPath  string `yaml:"badger_path"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

// SessionConfig configures session recovery.
type SessionConfig struct {
	Redirect string `yaml:"redirect" validate:"required,startswith=/"`
}

// DefaultResilienceConfig returns the configuration used when nothing is set.
func DefaultResilienceConfig() ResilienceConfig {
	cb := circuitbreaker.BackupStoreConfig()
	return ResilienceConfig{
		Breaker: BreakerConfig{
			FailureThreshold:  cb.FailureThreshold,
			ResetTimeout:      cb.ResetTimeout,
			HalfOpenCallLimit: cb.HalfOpenCallLimit,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:   3,
			MaxConcurrent: 2,
			QueueDepth:    64,
			WriteRate:     20,
			WriteBurst:    20,
		},
		Store: StoreConfig{
			Kind:       StoreBadger,
			Alternate:  StoreNone,
			BadgerPath: "./data/backups",
		},
		Session:  SessionConfig{Redirect: "/login"},
		LogLevel: "info",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and the cross-field store requirements.
// All problems are reported together.
func (c *ResilienceConfig) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate resilience config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: failed '%s' check (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
		}
	}

	needs := func(kind string) bool { return c.Store.Kind == kind || c.Store.Alternate == kind }
	if needs(StoreBadger) && c.Store.BadgerPath == "" {
		errs = append(errs, errors.New("store.badger_path is required for the badger store"))
	}
	if needs(StorePostgres) && c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("store.database_url is required for the postgres store"))
	}
	if needs(StoreRedis) && c.Store.RedisURL == "" {
		errs = append(errs, errors.New("store.redis_url is required for the redis store"))
	}
	if c.Store.Kind == c.Store.Alternate {
		errs = append(errs, fmt.Errorf("store.alternate must differ from store.kind %q", c.Store.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid resilience config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadResilienceConfigFromEnv loads the configuration from environment
// variables. Invalid values fall back to defaults with a warning, so it
// always returns a usable configuration. metrics may be nil.
func LoadResilienceConfigFromEnv(logger *slog.Logger, metrics *config.ConfigMetrics) *ResilienceConfig {
	cfg := DefaultResilienceConfig()
	fallback := false
	intIn := func(min, max int) func(int) error {
		return func(v int) error { return config.ValidateIntRange(v, min, max) }
	}

	threshold := config.Report(config.LoadEnvInt("CB_FAILURE_THRESHOLD", int(cfg.Breaker.FailureThreshold), intIn(1, 100)),
		"cb_failure_threshold", logger, metrics, &fallback)
	cfg.Breaker.FailureThreshold = uint32(threshold) // #nosec G115 -- bounded to [1, 100]
	cfg.Breaker.ResetTimeout = config.Report(config.LoadEnvDuration("CB_RESET_TIMEOUT", cfg.Breaker.ResetTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Second, time.Hour)
	}), "cb_reset_timeout", logger, metrics, &fallback)
	halfOpen := config.Report(config.LoadEnvInt("CB_HALF_OPEN_LIMIT", int(cfg.Breaker.HalfOpenCallLimit), intIn(1, 50)),
		"cb_half_open_limit", logger, metrics, &fallback)
	cfg.Breaker.HalfOpenCallLimit = uint32(halfOpen) // #nosec G115 -- bounded to [1, 50]

	cfg.Recovery.MaxAttempts = config.Report(config.LoadEnvInt("RECOVERY_MAX_ATTEMPTS", cfg.Recovery.MaxAttempts, intIn(1, 20)),
		"recovery_max_attempts", logger, metrics, &fallback)
	cfg.Recovery.MaxConcurrent = config.Report(config.LoadEnvInt("RECOVERY_MAX_CONCURRENT", cfg.Recovery.MaxConcurrent, intIn(1, 64)),
		"recovery_max_concurrent", logger, metrics, &fallback)
	cfg.Recovery.QueueDepth = config.Report(config.LoadEnvInt("RECOVERY_QUEUE_DEPTH", cfg.Recovery.QueueDepth, intIn(1, 10000)),
		"recovery_queue_depth", logger, metrics, &fallback)
	cfg.Recovery.WriteRate = config.Report(config.LoadEnvFloat("BACKUP_WRITE_RATE", cfg.Recovery.WriteRate, func(v float64) error {
		if v <= 0 {
			return fmt.Errorf("rate must be positive, got %g", v)
		}
		return config.ValidateFloatRange(v, 0, 10000)
	}), "backup_write_rate", logger, metrics, &fallback)
	cfg.Recovery.WriteBurst = config.Report(config.LoadEnvInt("BACKUP_WRITE_BURST", cfg.Recovery.WriteBurst, intIn(1, 10000)),
		"backup_write_burst", logger, metrics, &fallback)

	cfg.Store.Kind = config.Report(config.LoadEnvWithFallback("BACKUP_STORE", cfg.Store.Kind,
		config.ValidateOneOf(StoreMemory, StoreBadger, StorePostgres, StoreRedis)),
		"backup_store", logger, metrics, &fallback)
	cfg.Store.Alternate = config.Report(config.LoadEnvWithFallback("BACKUP_ALTERNATE_STORE", cfg.Store.Alternate,
		config.ValidateOneOf(StoreNone, StoreBadger, StoreRedis)),
		"backup_alternate_store", logger, metrics, &fallback)
	cfg.Store.BadgerPath = config.LoadEnvString("BACKUP_BADGER_PATH", cfg.Store.BadgerPath)
	cfg.Store.DatabaseURL = config.LoadEnvString("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.RedisURL = config.LoadEnvString("REDIS_URL", cfg.Store.RedisURL)

	cfg.Session.Redirect = config.Report(config.LoadEnvWithFallback("SESSION_REDIRECT", cfg.Session.Redirect, func(s string) error {
		if !strings.HasPrefix(s, "/") {
			return fmt.Errorf("redirect must be an absolute path, got %s", strconv.Quote(s))
		}
		return nil
	}), "session_redirect", logger, metrics, &fallback)

	cfg.LogLevel = config.Report(config.LoadEnvWithFallback("LOG_LEVEL", cfg.LogLevel,
		config.ValidateOneOf("debug", "info", "warn", "warning", "error")),
		"log_level", logger, metrics, &fallback)

	if metrics != nil {
		metrics.SetFallbackActive(fallback)
		metrics.RecordLoadTimestamp()
	}
	return &cfg
}

// LoadResilienceConfigFile overlays the YAML file at path onto base and
// validates the result. Fields absent from the file keep their base values.
// Unlike the environment loader, an invalid file is an error.
func LoadResilienceConfigFile(path string, base ResilienceConfig) (*ResilienceConfig, error) {
	// #nosec G304 -- path is provided by trusted source (CLI flag), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
