package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/infra/logging"
	"ollama-webchat/internal/usecase"
)

// HealthReporter exposes the backend monitor's last probe result.
type HealthReporter interface {
	Up() bool
}

// Server is the chat-facing HTTP surface. Everything under /api sits
// behind the JWT identity middleware.
type Server struct {
	chat      usecase.ChatUseCase
	jwtSecret string
	health    HealthReporter
	log       *zerolog.Logger
}

func NewServer(chat usecase.ChatUseCase, jwtSecret string, health HealthReporter, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{chat: chat, jwtSecret: jwtSecret, health: health, log: &l}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/models", s.handleListModels)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/history", s.handleHistory)
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Post("/sessions/{sessionID}/switch", s.handleSwitchSession)
			r.Post("/sessions/{sessionID}/clear", s.handleClearSession)
			r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/streams/{streamID}/interrupt", s.handleInterrupt)
		})
	})

	return r
}

// handleHealthz is the process liveness probe. It always answers 200;
// the backend field reflects the monitor's last AI ping so operators
// can tell a dead process from a dead model server.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	backend := "up"
	if s.health != nil && !s.health.Up() {
		backend = "down"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "ai_backend": backend})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

// writeError maps domain errors onto HTTP statuses without leaking
// internal diagnostics to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment before sending another message."
	case errors.Is(err, domain.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "Invalid request."
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "Session not found"
	case errors.Is(err, domain.ErrLastSession):
		status, msg = http.StatusBadRequest, "Cannot delete the last session"
	case errors.Is(err, domain.ErrTooManyStreams):
		status, msg = http.StatusServiceUnavailable, "Too many conversations in flight. Please try again."
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again."
	case errors.Is(err, domain.ErrBackendTimeout), errors.Is(err, domain.ErrBackendUnavailable):
		status, msg = http.StatusBadGateway, "AI service unavailable, try again."
	default:
		status, msg = http.StatusInternalServerError, "Internal error"
	}
	if status >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}
