// Package circuitbreaker guards calls to a degraded dependency.
// It uses the github.com/sony/gobreaker library for the state machine and adds
// consecutive-failure tripping, a concurrent half-open trial limit, neutral
// handling of cancelled calls, an explicit reset and a read-only status
// snapshot.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the externally visible breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string `yaml:"name"`

	// FailureThreshold is the number of consecutive failures that trips the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before admitting a trial
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenCallLimit is the maximum number of concurrent trials in half-open state
	HalfOpenCallLimit uint32 `yaml:"half_open_call_limit"`
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenCallLimit: 1,
	}
}

// BackendAPIConfig returns configuration for the editor's document backend.
func BackendAPIConfig() Config {
	return Config{
		Name:              "document-backend",
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenCallLimit: 1,
	}
}

// SessionRefreshConfig returns configuration for the session refresh call.
// Trips early: repeated refresh failures mean the user has to sign in again.
func SessionRefreshConfig() Config {
	return Config{
		Name:              "session-refresh",
		FailureThreshold:  3,
		ResetTimeout:      60 * time.Second,
		HalfOpenCallLimit: 1,
	}
}

// BackupStoreConfig returns configuration for remote backup stores.
func BackupStoreConfig() Config {
	return Config{
		Name:              "backup-store",
		FailureThreshold:  5,
		ResetTimeout:      15 * time.Second,
		HalfOpenCallLimit: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Name)
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenCallLimit == 0 {
		c.HalfOpenCallLimit = d.HalfOpenCallLimit
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}

// Status is a read-only snapshot of a breaker.
type Status struct {
	Name             string
	State            State
	FailureCount     int
	LastFailure      time.Time
	HalfOpenInFlight int
}

// CircuitBreaker wraps gobreaker's two-step breaker so that every outcome of
// a call is reported explicitly. gobreaker only knows success and failure;
// a cancelled call is neither and is never reported to it.
// The zero value is not usable; construct with New.
type CircuitBreaker struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	breaker     *gobreaker.TwoStepCircuitBreaker
	gen         uint64
	state       State
	openedAt    time.Time
	failures    int
	lastFailure time.Time
	trials      int
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the logger used for state change events.
func WithLogger(logger *slog.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// New creates a new circuit breaker with the given configuration.
// Zero-valued fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.replaceLocked()
	setStateGauge(cb.cfg.Name, StateClosed)
	return cb
}

// replaceLocked installs a fresh CLOSED gobreaker. Callbacks from replaced
// breakers are ignored through the generation check. Must hold cb.mu, and
// must not call into gobreaker while holding it: state change callbacks take
// cb.mu from inside gobreaker's own lock.
func (cb *CircuitBreaker) replaceLocked() {
	cb.gen++
	gen := cb.gen
	threshold := cb.cfg.FailureThreshold

	cb.state = StateClosed
	cb.openedAt = time.Time{}
	cb.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name: cb.cfg.Name,
		// The half-open limit is enforced here on concurrent trials; gobreaker
		// would otherwise count every trial of a generation.
		MaxRequests: math.MaxUint32,
		// Interval 0: closed-state counts are only cleared by a success.
		Interval: 0,
		Timeout:  cb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.mu.Lock()
			if cb.gen != gen {
				cb.mu.Unlock()
				return
			}
			cb.state = fromGobreaker(to)
			if cb.state == StateOpen {
				cb.openedAt = time.Now()
			}
			cb.mu.Unlock()

			cb.logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", string(fromGobreaker(from))),
				slog.String("to", string(fromGobreaker(to))))
			setStateGauge(name, fromGobreaker(to))
		},
	})
}

// neutral reports outcomes that say nothing about the dependency: the caller
// gave up before it answered.
func neutral(err error) bool {
	return errors.Is(err, context.Canceled)
}

// admit asks the current breaker for permission to run one call. trial is
// true when the call runs in HALF_OPEN and holds one of the trial slots.
func (cb *CircuitBreaker) admit() (b *gobreaker.TwoStepCircuitBreaker, done func(bool), trial bool, err error) {
	cb.mu.Lock()
	b = cb.breaker
	cb.mu.Unlock()

	// State may move an expired OPEN breaker to HALF_OPEN; this call is the
	// one that evaluates the timeout.
	switch b.State() {
	case gobreaker.StateOpen:
		recordRejection(cb.cfg.Name, "open")
		return nil, nil, false, fmt.Errorf("%s: %w", cb.cfg.Name, ErrOpen)
	case gobreaker.StateHalfOpen:
		cb.mu.Lock()
		if cb.trials >= int(cb.cfg.HalfOpenCallLimit) {
			cb.mu.Unlock()
			recordRejection(cb.cfg.Name, "half_open_limit")
			return nil, nil, false, fmt.Errorf("%s: %w", cb.cfg.Name, ErrHalfOpenLimit)
		}
		cb.trials++
		cb.mu.Unlock()
		trial = true
	}

	done, err = b.Allow()
	if err != nil {
		if trial {
			cb.releaseTrial()
		}
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			recordRejection(cb.cfg.Name, "half_open_limit")
			return nil, nil, false, fmt.Errorf("%s: %w", cb.cfg.Name, ErrHalfOpenLimit)
		}
		recordRejection(cb.cfg.Name, "open")
		return nil, nil, false, fmt.Errorf("%s: %w", cb.cfg.Name, ErrOpen)
	}
	return b, done, trial, nil
}

// settle reports the outcome of an admitted call.
//
//   - success: counted; a HALF_OPEN trial closes the breaker
//   - neutral (cancelled): not reported; state and counters are unchanged
//   - failure: counted; may trip a CLOSED breaker, reopens a HALF_OPEN one
func (cb *CircuitBreaker) settle(b *gobreaker.TwoStepCircuitBreaker, done func(bool), trial bool, err error) {
	if trial {
		defer cb.releaseTrial()
	}

	switch {
	case err == nil:
		cb.mu.Lock()
		if cb.breaker == b {
			cb.failures = 0
		}
		cb.mu.Unlock()
		done(true)
		if trial {
			cb.promote(b)
		}
	case neutral(err):
	default:
		cb.mu.Lock()
		if cb.breaker == b {
			cb.failures++
			cb.lastFailure = time.Now()
		}
		cb.mu.Unlock()
		recordFailure(cb.cfg.Name)
		done(false)
	}
}

func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	if cb.trials > 0 {
		cb.trials--
	}
	cb.mu.Unlock()
}

// Execute runs the given function through the circuit breaker.
//
// When the breaker is open it returns an error matching ErrOpen without
// calling fn. When the half-open trial limit is exhausted it returns an error
// matching ErrHalfOpenLimit. Otherwise the result and error of fn are returned
// unchanged. A panic in fn counts as a failure and is re-raised.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	b, done, trial, err := cb.admit()
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.settle(b, done, trial, fmt.Errorf("panic: %v", e))
			panic(e)
		}
	}()

	result, err := fn()
	cb.settle(b, done, trial, err)
	return result, err
}

// Call runs fn through the breaker. A context that is already done is
// reported without consulting the breaker.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Do runs fn through cb and returns its typed result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	res, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if v, ok := res.(T); ok {
			return v, err
		}
		return zero, err
	}

	v, _ := res.(T)
	return v, nil
}

// promote replaces a half-open breaker with a fresh closed one, unless it has
// already been replaced by a concurrent trial or Reset. One successful trial
// is enough, whatever the half-open limit.
func (cb *CircuitBreaker) promote(b *gobreaker.TwoStepCircuitBreaker) {
	cb.mu.Lock()
	if cb.breaker != b {
		cb.mu.Unlock()
		return
	}
	cb.replaceLocked()
	cb.failures = 0
	cb.mu.Unlock()

	cb.logger.Warn("circuit breaker state changed",
		slog.String("circuit", cb.cfg.Name),
		slog.String("from", string(StateHalfOpen)),
		slog.String("to", string(StateClosed)))
	setStateGauge(cb.cfg.Name, StateClosed)
}

// Reset forces the breaker back to CLOSED and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.replaceLocked()
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.trials = 0
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset", slog.String("circuit", cb.cfg.Name))
	setStateGauge(cb.cfg.Name, StateClosed)
}

// viewLocked returns the state the next call would observe. An OPEN breaker
// whose reset timeout has elapsed reads as HALF_OPEN; the transition itself
// only happens when a call arrives.
func (cb *CircuitBreaker) viewLocked(now time.Time) State {
	if cb.state == StateOpen && !now.Before(cb.openedAt.Add(cb.cfg.ResetTimeout)) {
		return StateHalfOpen
	}
	return cb.state
}

// Status returns a snapshot of the breaker. It never changes the breaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:             cb.cfg.Name,
		State:            cb.viewLocked(time.Now()),
		FailureCount:     cb.failures,
		LastFailure:      cb.lastFailure,
		HalfOpenInFlight: cb.trials,
	}
}

// State returns the current state of the circuit breaker without changing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.viewLocked(time.Now())
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}
