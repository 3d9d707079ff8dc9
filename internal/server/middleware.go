package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/papyr-ai/papyr-go/internal/logging"
)

// userKey carries the authenticated user ID in the request context.
type userKey struct{}

// userFromContext returns the authenticated user ID, or "" outside the
// identify middleware.
func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// instrument wraps the whole handler chain: it assigns a request_id,
// injects a child logger into the context, records the http metrics, and
// logs method, path, status, and latency on completion.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := newRequestID()

		log := s.log.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		r = r.WithContext(logging.WithLogger(r.Context(), log))

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		s.metrics.observeHTTP(r.Method, r.URL.Path, rw.status, elapsed)
		log.Info("request",
			slog.Int("status", rw.status),
			slog.Duration("duration", elapsed),
		)
	})
}

// identify resolves the calling user from the X-Papyr-User header and
// ensures a user record exists. Probe and metrics endpoints are exempt;
// every /api/* route requires an identity.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		id := r.Header.Get("X-Papyr-User")
		if id == "" {
			s.respondError(w, http.StatusBadRequest, "X-Papyr-User header is required")
			return
		}

		if _, err := s.store.EnsureUser(r.Context(), id, s.cfg.DefaultPlan); err != nil {
			s.internalError(w, r, "resolve user", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

// exemptPath reports whether a path skips auth, identity, and rate
// limiting: probes and metrics must stay reachable for orchestration.
func exemptPath(path string) bool {
	switch path {
	case "/api/health", "/api/ready", "/metrics":
		return true
	}
	return false
}

// responseWriter captures the status code written by the handler. Flush is
// forwarded so streaming keeps working through the middleware chain.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// newRequestID returns an 8-byte cryptographically random hex string.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
