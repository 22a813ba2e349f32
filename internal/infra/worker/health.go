package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"template-studio/internal/observability/metrics"
	"template-studio/internal/observability/tracing"
	"template-studio/internal/resilience/circuitbreaker"
)

var healthRoutes = tracing.Routes{
	"/health":       "health.liveness",
	"/health/ready": "health.readiness",
	"/metrics":      "metrics.scrape",
}

// Check reports whether a dependency is usable. A nil error means healthy.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// HealthServer serves liveness, readiness and Prometheus metrics:
//   - /health: liveness check (always 200 OK)
//   - /health/ready: readiness check (200 if ready and every check passes, 503 otherwise)
//   - /metrics: Prometheus exposition
//
// Example usage:
//
//	hs := NewHealthServer(":9091", logger,
//	    WithBreakers("backup-stores", storeBreakers...),
//	    WithDetails(func() any { return coordinator.Stats() }))
//	go hs.Start(ctx)
//	hs.SetReady(true)
type HealthServer struct {
	addr     string
	logger   *slog.Logger
	isReady  atomic.Bool
	checks   []namedCheck
	breakers []*circuitbreaker.CircuitBreaker
	details  func() any
	server   *http.Server
}

// HealthOption configures a HealthServer.
type HealthOption func(*HealthServer)

// WithCheck adds a readiness check.
func WithCheck(name string, check Check) HealthOption {
	return func(h *HealthServer) {
		h.checks = append(h.checks, namedCheck{name: name, check: check})
	}
}

// WithBreakers adds a readiness check named name that fails while any of the
// breakers is open. Each readiness span also records the breakers' state and
// failure count as breaker.<breaker name>.state and .failures.
func WithBreakers(name string, breakers ...*circuitbreaker.CircuitBreaker) HealthOption {
	return func(h *HealthServer) {
		h.breakers = append(h.breakers, breakers...)
		h.checks = append(h.checks, namedCheck{name: name, check: openBreakers(breakers)})
	}
}

func openBreakers(breakers []*circuitbreaker.CircuitBreaker) Check {
	return func(context.Context) error {
		var errs []error
		for _, cb := range breakers {
			if cb.IsOpen() {
				errs = append(errs, fmt.Errorf("%s: %w", cb.Name(), circuitbreaker.ErrOpen))
			}
		}
		return errors.Join(errs...)
	}
}

// WithDetails adds the value returned by fn to readiness responses.
func WithDetails(fn func() any) HealthOption {
	return func(h *HealthServer) { h.details = fn }
}

// healthResponse is the JSON body of the health endpoints.
type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Details any               `json:"details,omitempty"`
}

// NewHealthServer creates a health server listening on addr. It starts not ready.
func NewHealthServer(addr string, logger *slog.Logger, opts ...HealthOption) *HealthServer {
	h := &HealthServer{addr: addr, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the traced and instrumented HTTP handler.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.Handle("/metrics", promhttp.Handler())
	return tracing.Middleware(healthRoutes, instrument(mux))
}

// Start serves until ctx is cancelled, then shuts down with a 5 second
// grace period. It returns http.ErrServerClosed after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		errChan <- h.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

// SetReady sets the readiness state.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		h.write(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	for _, cb := range h.breakers {
		st := cb.Status()
		span.SetAttributes(
			attribute.String("breaker."+st.Name+".state", string(st.State)),
			attribute.Int("breaker."+st.Name+".failures", st.FailureCount),
		)
	}

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			if err := c.check(r.Context()); err != nil {
				resp.Checks[c.name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				span.SetAttributes(attribute.String("health.check."+c.name, "failed"))
				continue
			}
			resp.Checks[c.name] = "ok"
			span.SetAttributes(attribute.String("health.check."+c.name, "ok"))
		}
	}
	if h.details != nil {
		resp.Details = h.details()
	}
	h.write(w, status, resp)
}

func (h *HealthServer) write(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and durations.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}
