// Package session decides how an authentication failure is handled: refresh
// the session once through a circuit breaker, or sign the user out and
// redirect to the login page.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"template-studio/internal/observability/metrics"
	"template-studio/internal/observability/tracing"
	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/resilience/classify"
	"template-studio/internal/resilience/retry"
)

// DefaultRedirect is where users are sent when their session cannot be restored.
const DefaultRedirect = "/login"

// Provider is the authentication collaborator.
type Provider interface {
	RefreshSession(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// TokenSource is implemented by providers that expose the refresh token.
// An expired JWT refresh token skips the refresh call entirely.
type TokenSource interface {
	RefreshToken() string
}

// Navigator sends the user to path.
type Navigator func(ctx context.Context, path string)

// AuthRecoveryResult is the outcome of HandleAuthError. The zero value means
// the error was not an authentication failure and nothing was done.
type AuthRecoveryResult struct {
	Recovered      bool
	ShouldRedirect bool
	RedirectTo     string
}

// Metrics are cumulative counters of a Service.
type Metrics struct {
	TotalAttempts  int64
	TotalRecovered int64
	LocalAttempts  int
}

// errRefreshTokenExpired is logged when the refresh token is already expired.
var errRefreshTokenExpired = errors.New("refresh token expired")

// Service recovers from authentication failures.
type Service struct {
	provider Provider
	breaker  *circuitbreaker.CircuitBreaker
	navigate Navigator
	policy   retry.Policy
	redirect string
	logger   *slog.Logger
	now      func() time.Time

	refreshes singleflight.Group

	mu             sync.Mutex
	totalAttempts  int64
	totalRecovered int64
	localAttempts  int
}

// Option configures a Service.
type Option func(*Service)

// WithNavigator sets the callback used to redirect the user.
func WithNavigator(n Navigator) Option {
	return func(s *Service) {
		s.navigate = n
	}
}

// WithRedirect sets the redirect target. Empty keeps DefaultRedirect.
func WithRedirect(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.redirect = path
		}
	}
}

// WithRetryPolicy sets the policy applied to the refresh call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// DefaultRetryPolicy retries a refresh on transient failures only
// (retry.IsRetryable). Breaker rejections and authentication failures are
// final.
func DefaultRetryPolicy() retry.Policy {
	return retry.NewPolicy(retry.SessionRefreshConfig())
}

// New creates a Service. A nil breaker gets one built from
// circuitbreaker.SessionRefreshConfig.
func New(provider Provider, breaker *circuitbreaker.CircuitBreaker, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		breaker:  breaker,
		policy:   DefaultRetryPolicy(),
		redirect: DefaultRedirect,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuitbreaker.New(circuitbreaker.SessionRefreshConfig(), circuitbreaker.WithLogger(s.logger))
	}
	return s
}

// HandleAuthError handles err raised in opContext.
//
// Only AUTHENTICATION failures are acted on. While the breaker is closed the
// session is refreshed once (concurrent callers share one refresh); success
// means the caller may retry its request. A failed refresh, an open breaker
// or an expired refresh token signs the user out and redirects.
func (s *Service) HandleAuthError(ctx context.Context, err error, opContext string) (result AuthRecoveryResult) {
	classified := classify.Classify(err, opContext)
	if classified.Category != classify.CategoryAuthentication {
		metrics.RecordSessionRecovery("skipped")
		return AuthRecoveryResult{}
	}

	ctx, span := tracing.StartSpan(ctx, "session.HandleAuthError", attribute.String("op.context", opContext))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during session recovery", slog.Any("panic", r))
			result = AuthRecoveryResult{ShouldRedirect: true, RedirectTo: s.redirect}
		}
	}()

	if s.breaker.IsOpen() {
		return s.signOut(ctx, circuitbreaker.ErrOpen)
	}
	if s.refreshTokenExpired() {
		return s.signOut(ctx, errRefreshTokenExpired)
	}

	s.mu.Lock()
	s.totalAttempts++
	s.localAttempts++
	s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		tracing.RecordError(span, err)
		return s.signOut(ctx, err)
	}

	s.mu.Lock()
	s.totalRecovered++
	s.mu.Unlock()

	metrics.RecordSessionRecovery("refreshed")
	s.logger.Info("session refreshed after authentication failure", slog.String("context", opContext))
	return AuthRecoveryResult{Recovered: true}
}

// refresh runs one shared refresh through the breaker under the retry policy.
func (s *Service) refresh(ctx context.Context) error {
	shared := context.WithoutCancel(ctx)
	_, err, _ := s.refreshes.Do("refresh", func() (interface{}, error) {
		return nil, retry.Do(shared, s.policy, func(ctx context.Context) error {
			return s.breaker.Call(ctx, s.provider.RefreshSession)
		})
	})
	return err
}

func (s *Service) signOut(ctx context.Context, cause error) AuthRecoveryResult {
	s.logger.Warn("session could not be restored, signing out",
		slog.Any("error", cause),
		slog.String("redirect_to", s.redirect))

	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("sign out failed", slog.Any("error", err))
	}
	if s.navigate != nil {
		s.navigate(ctx, s.redirect)
	}

	metrics.RecordSessionRecovery("redirected")
	return AuthRecoveryResult{ShouldRedirect: true, RedirectTo: s.redirect}
}

// refreshTokenExpired reports whether the provider's refresh token is a JWT
// whose exp claim has passed. Opaque or unparsable tokens are left to the
// server to judge.
func (s *Service) refreshTokenExpired() bool {
	ts, ok := s.provider.(TokenSource)
	if !ok {
		return false
	}
	raw := ts.RefreshToken()
	if raw == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

// Metrics returns the cumulative counters.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		TotalAttempts:  s.totalAttempts,
		TotalRecovered: s.totalRecovered,
		LocalAttempts:  s.localAttempts,
	}
}

// ResetRecoveryAttempts zeroes the local attempt counter. The breaker keeps
// its own state.
func (s *Service) ResetRecoveryAttempts() {
	s.mu.Lock()
	s.localAttempts = 0
	s.mu.Unlock()
}

// Breaker returns the breaker guarding the refresh call.
func (s *Service) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}
