// Package gateway - middleware.go wraps handlers in tracing and crash
// containment.
//
// DESIGN: Middleware chain (outermost first):
//  1. loggingMiddleware: request ID propagation, lifecycle logs, metrics
//  2. panicRecovery:     catch panics, return 500, log stack trace
//
// Per-principal rate limiting is not middleware: it needs the
// authenticated principal, so the chat handler applies it after auth.
package gateway

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/synthlang/proxy/internal/monitoring"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before writing it.
func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush implements http.Flusher to support streaming responses.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// loggingMiddleware assigns the request ID, logs the request
// lifecycle, and records the request metrics.
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := monitoring.WithRequestIDContext(r.Context(), requestID)
		r = r.WithContext(ctx)

		bodySize := int(r.ContentLength)
		if bodySize < 0 {
			bodySize = 0
		}
		g.requestLogger.LogIncoming(monitoring.NewRequestInfo(r, requestID, bodySize))

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		latency := time.Since(start)
		g.requestLogger.LogResponse(&monitoring.ResponseInfo{
			RequestID:  requestID,
			StatusCode: wrapped.status,
			Latency:    latency,
		})

		g.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		g.metrics.RequestDuration.WithLabelValues(r.URL.Path).Observe(latency.Seconds())

		g.alerts.FlagHighLatency(requestID, latency, "", r.URL.Path)
	})
}

// panicRecovery recovers from handler panics and returns a 500.
func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				requestID := monitoring.RequestIDFromContext(r.Context())
				g.alerts.FlagPanic(requestID, err, stack)
				g.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
