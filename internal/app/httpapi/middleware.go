package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/befkir-pay/payment_layer/internal/app"
	"github.com/befkir-pay/payment_layer/internal/app/metrics"
)

// Options tunes the HTTP surface.
type Options struct {
	// Tokens lists accepted bearer tokens. Empty disables authentication.
	Tokens []string
	// AuditSize bounds the in-memory audit trail.
	AuditSize int
}

// New returns the full HTTP handler: routing plus metrics, audit, and
// optional bearer-token authentication.
func New(application *app.Application, opts Options) http.Handler {
	audit := newAuditLog(opts.AuditSize)
	router := newRouter(application, audit)
	router.Use(wrapWithMetrics, wrapWithAudit(audit))
	if len(opts.Tokens) > 0 {
		router.Use(wrapWithAuth(opts.Tokens))
	}
	return router
}

// responseWriter captures the status code written by downstream handlers.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func wrapWithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		metrics.IncInFlight()
		defer metrics.DecInFlight()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		metrics.ObserveHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

func wrapWithAudit(audit *auditLog) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			audit.add(auditEntry{
				Time:       time.Now().UTC(),
				Path:       r.URL.Path,
				Method:     r.Method,
				Status:     wrapped.statusCode,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			})
		})
	}
}

func wrapWithAuth(tokens []string) mux.MiddlewareFunc {
	accepted := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			accepted[trimmed] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health checks and metric scrapers bypass authentication.
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if header == token || token == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			if _, ok := accepted[token]; !ok {
				writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
