// Package api exposes the read-only HTTP surface of the crawler: health,
// Prometheus metrics, and session inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	storeTimeout     = 3 * time.Second
)

// Server wires HTTP handlers to the session store.
type Server struct {
	router chi.Router
	store  session.Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store session.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Get("/checkpoint", s.getCheckpoint)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.store.List(ctx, session.ListFilter{Limit: 1}); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listSessions handles GET /v1/sessions?organization=&status=&limit=.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := session.ListFilter{
		Organization: r.URL.Query().Get("organization"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := session.Status(raw)
		switch status {
		case session.StatusInProgress, session.StatusCompleted, session.StatusFailed, session.StatusInterrupted:
			filter.Status = status
		default:
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxListLimit))
			return
		}
		filter.Limit = limit
	} else {
		filter.Limit = defaultListLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	sessions, err := s.store.List(ctx, filter)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if _, err := s.store.Get(ctx, id); errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		s.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch session")
		return
	}

	cp, err := s.store.LatestCheckpoint(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no checkpoint for session")
		return
	}
	if err != nil {
		s.logger.Error("get checkpoint failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch checkpoint")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
