// Package retry provides retry logic with exponential backoff and jitter.
// A Policy bundles the attempt budget, the delay between attempts and the
// predicate deciding which failures are worth another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/resilience/classify"
)

// Config holds the configuration for exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the multiplier for exponential backoff
	Multiplier float64 `yaml:"multiplier"`

	// JitterFraction is the fraction of delay to add as random jitter (0.0 to 1.0)
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// SessionRefreshConfig returns configuration for refreshing an expired session.
// A single retry: the user is waiting on the result.
func SessionRefreshConfig() Config {
	return Config{
		MaxAttempts:    2,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// BackupStoreConfig returns configuration for backup store reads and writes.
// Fast retry for transient connection issues.
func BackupStoreConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Policy decides how often and when a failed operation is attempted again.
type Policy struct {
	// MaxAttempts is the total number of attempts. Values below 1 mean 1.
	MaxAttempts int

	// Backoff returns the delay after the given failed attempt (1-based).
	// Nil means no delay.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err is worth another attempt.
	// Nil means every error is retried.
	Retryable func(err error) bool
}

// NewPolicy builds a Policy from cfg with exponential backoff and the
// default IsRetryable predicate.
func NewPolicy(cfg Config) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     ExponentialBackoff(cfg),
		Retryable:   IsRetryable,
	}
}

// WithRetryable returns a copy of p using the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done.
//
// A non-retryable error is returned as is. When every attempt fails the last
// error is wrapped with the attempt count.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	maxAttempts := p.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)

		if lastErr == nil {
			if attempt > 1 {
				slog.Info("operation succeeded after retry",
					slog.Int("attempt", attempt))
			}
			return nil
		}

		if !p.retryable(lastErr) {
			slog.Warn("non-retryable error, aborting",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return lastErr
		}

		// Don't wait after last attempt
		if attempt == maxAttempts {
			break
		}

		delay := p.delay(attempt)
		slog.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", maxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExponentialBackoff returns a backoff function that starts at
// cfg.InitialDelay, grows by cfg.Multiplier per attempt, is capped at
// cfg.MaxDelay and gets cfg.JitterFraction of random jitter on top.
func ExponentialBackoff(cfg Config) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		mult := cfg.Multiplier
		if mult < 1 {
			mult = 1
		}
		raw := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
		if cfg.MaxDelay > 0 && raw > float64(cfg.MaxDelay) {
			raw = float64(cfg.MaxDelay)
		}
		if raw > math.MaxInt64 {
			raw = math.MaxInt64
		}
		return addJitter(time.Duration(raw), cfg.JitterFraction)
	}
}

// ConstantBackoff returns a backoff function that always waits d.
func ConstantBackoff(d time.Duration) func(attempt int) time.Duration {
	return func(int) time.Duration { return d }
}

// ForCategories returns a predicate that retries errors classified, within
// opContext, into one of the given categories. Context cancellation is never
// retried.
func ForCategories(opContext string, categories ...classify.Category) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		return classify.IsCategory(err, opContext, categories...)
	}
}

// IsRetryable reports whether err is a transient failure worth another
// attempt: the error itself signals NETWORK, TIMEOUT, SERVER or RATE_LIMIT.
//
// Context errors are never retried, since the caller's context is done and
// the next attempt would fail the same way. A circuit breaker rejection is
// never retried either; the breaker has already decided.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if circuitbreaker.IsRejection(err) {
		return false
	}

	return classify.HasSignal(err,
		classify.CategoryNetwork,
		classify.CategoryTimeout,
		classify.CategoryServer,
		classify.CategoryRateLimit)
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	// Cryptographic randomness is not required for retry backoff jitter.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
