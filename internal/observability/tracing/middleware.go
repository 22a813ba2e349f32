package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// UnmatchedRoute names spans for paths missing from the route table.
const UnmatchedRoute = "http.unmatched"

// Routes maps request paths to span names, e.g. "/health/ready" to
// "health.readiness". Span names stay low-cardinality because unknown
// paths share UnmatchedRoute.
type Routes map[string]string

func (rt Routes) spanName(path string) (name string, matched bool) {
	if name, ok := rt[path]; ok {
		return name, true
	}
	return UnmatchedRoute, false
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware starts a server span per request, continuing any W3C trace
// context found in the headers. The span is named from routes and the trace
// ID is echoed in X-Trace-Id. Handlers can annotate the span through
// trace.SpanFromContext. A 5xx response marks the span as failed.
//
//	handler := tracing.Middleware(tracing.Routes{
//	    "/health/ready": "health.readiness",
//	}, mux)
func Middleware(routes Routes, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		name, matched := routes.spanName(r.URL.Path)
		attrs := []attribute.KeyValue{attribute.String("http.request.method", r.Method)}
		if matched {
			attrs = append(attrs, attribute.String("http.route", r.URL.Path))
		} else {
			attrs = append(attrs, attribute.String("url.path", r.URL.Path))
		}
		ctx, span := GetTracer().Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		w.Header().Set("X-Trace-Id", span.SpanContext().TraceID().String())

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}
