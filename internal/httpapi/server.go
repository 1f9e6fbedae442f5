// Package httpapi is the HTTP surface of the chapter service frontend.
package httpapi

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/p-n-ai/pai-chapters/internal/events"
	"github.com/p-n-ai/pai-chapters/internal/learner"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const readyTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server routes learner requests to the flow.
type Server struct {
	flow     *learner.Flow
	sessions *session.Manager
	realtime http.Handler
	history  events.History
	checks   map[string]Check
}

// Option configures a Server.
type Option func(*Server)

// WithRealtime serves progress notifications at /v1/ws/progress.
func WithRealtime(h http.Handler) Option {
	return func(s *Server) { s.realtime = h }
}

// WithHistory serves the learner's recent events at /v1/events.
func WithHistory(h events.History) Option {
	return func(s *Server) { s.history = h }
}

// WithReadyCheck adds a dependency to /readyz.
func WithReadyCheck(name string, c Check) Option {
	return func(s *Server) { s.checks[name] = c }
}

// New creates a server.
func New(flow *learner.Flow, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		flow:     flow,
		sessions: sessions,
		checks:   map[string]Check{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.Handle("GET /v1/chapters", s.authed(s.handleListChapters))
	mux.Handle("GET /v1/chapters/{id}", s.authed(s.handleGetChapter))
	mux.Handle("POST /v1/chapters/{id}/start", s.authed(s.handleStart))
	mux.Handle("POST /v1/chapters/{id}/answers", s.authed(s.handleAnswers))
	mux.Handle("POST /v1/chapters/{id}/submit", s.authed(s.handleSubmit))
	mux.Handle("POST /v1/chapters/{id}/complete", s.authed(s.handleComplete))
	mux.Handle("POST /v1/chapters/{id}/retake", s.authed(s.handleRetake))
	mux.Handle("POST /v1/auth/logout", s.authed(s.handleLogout))
	if s.history != nil {
		mux.Handle("GET /v1/events", s.authed(s.handleEvents))
	}
	if s.realtime != nil {
		mux.Handle("GET /v1/ws/progress", s.authed(s.realtime.ServeHTTP))
	}
	return logRequests(mux)
}

// authed resolves the bearer token and attaches the session to the request.
// Browsers cannot set headers on websocket upgrades, so the token may also
// come from the access_token query parameter there.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && strings.HasPrefix(r.URL.Path, "/v1/ws/") {
			token = r.URL.Query().Get("access_token")
		}
		sess, err := s.sessions.Resolve(r.Context(), token)
		if err != nil {
			slog.Debug("session rejected", "path", r.URL.Path, "error", err)
			writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		slog.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController and the websocket upgrade reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
