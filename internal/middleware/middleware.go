// Package middleware provides the small HTTP middleware chain TaskIt's
// admin diagnostics surface (internal/adminhttp) wraps its router in:
// request-ID tagging, panic recovery, and structured access logging.
// Trimmed from the teacher's much larger security/CORS/profiling stack
// to the pieces a same-host operator surface actually needs.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

type contextKey string

// RequestIDKey is the context key RequestID stores the per-request
// correlation ID under, and that Logger and Recovery read it from.
const RequestIDKey contextKey = "request_id"

// Chain composes middlewares in the order given: Chain(a, b)(h) runs a
// then b then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RequestID stamps every request with an X-Request-ID (reusing one the
// caller supplied) so a log line can be correlated across the admin
// surface and, in principle, a future backend/frontend wire trace.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), RequestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recovery catches a panic in a downstream handler, logs it with the
// request's correlation ID, and replies 500 instead of crashing the
// admin HTTP server (which would otherwise take the Backend/FrontEnd's
// metrics and status endpoints down with it).
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := getRequestID(r.Context())
					if logger != nil {
						logger.Error("adminhttp: panic recovered",
							zap.String("request_id", requestID),
							zap.Any("panic", rec),
							zap.String("stack", string(debug.Stack())),
							zap.String("method", r.Method),
							zap.String("path", r.URL.Path),
						)
					}
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					fmt.Fprintf(w, `{"error":"internal error","request_id":%q}`, requestID)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger records one structured line per completed request: method,
// path, status, duration, and the request ID RequestID assigned.
func Logger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if logger != nil {
				logger.Info("adminhttp: request completed",
					zap.String("request_id", getRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", wrapped.status),
					zap.Duration("duration", time.Since(start)),
					zap.String("client_ip", clientIP(r)),
				)
			}
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if parts := strings.Split(xff, ","); len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// statusWriter wraps http.ResponseWriter to capture the status code for
// Logger, the same way a recording proxy would.
type statusWriter struct {
	http.ResponseWriter
	status int
	mu     sync.Mutex
}

func (w *statusWriter) WriteHeader(status int) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
	w.ResponseWriter.WriteHeader(status)
}
