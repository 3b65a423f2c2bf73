package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain/ports/adapter"
	"ollama-webchat/internal/domain/ports/repository"
	"ollama-webchat/internal/infra/metrics"
)

// AdminServer exposes store statistics, a model smoke test and
// prometheus metrics on a separate port behind a static bearer key.
type AdminServer struct {
	kv     repository.KeyValueStore
	ai     adapter.AIServiceAdapter
	apiKey string
	log    *zerolog.Logger
}

func NewAdminServer(kv repository.KeyValueStore, ai adapter.AIServiceAdapter, apiKey string, logger *zerolog.Logger) *AdminServer {
	l := logger.With().Str("component", "admin").Logger()
	return &AdminServer{kv: kv, ai: ai, apiKey: apiKey, log: &l}
}

func (s *AdminServer) Routes() http.Handler {
	metrics.MustRegister()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/stats", s.authMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/v1/model-test", s.authMiddleware(http.HandlerFunc(s.handleModelTest)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *AdminServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := map[string]int{}
	for _, prefix := range []string{"session", "message", "ai_response", "rate_limit"} {
		keys, err := s.kv.Keys(ctx, prefix+":*")
		if err != nil {
			s.log.Error().Err(err).Str("prefix", prefix).Msg("stats scan failed")
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}
		counts[prefix] = len(keys)
	}
	users, err := s.kv.SMembers(ctx, "chat_users")
	if err != nil {
		s.log.Error().Err(err).Msg("user index read failed")
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}

	response := struct {
		Sessions        int `json:"sessions"`
		Messages        int `json:"messages"`
		Users           int `json:"users"`
		CachedResponses int `json:"cached_responses"`
		RateWindows     int `json:"open_rate_windows"`
	}{
		Sessions:        counts["session"],
		Messages:        counts["message"],
		Users:           len(users),
		CachedResponses: counts["ai_response"],
		RateWindows:     counts["rate_limit"],
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleModelTest sends one non-streamed prompt through the AI adapter
// so an operator can verify the backend end to end without a chat
// session.
func (s *AdminServer) handleModelTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if strings.TrimSpace(req.Prompt) == "" {
		req.Prompt = "Reply with the single word: pong."
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	reply, err := s.ai.Chat(ctx, []adapter.Message{{Role: "user", Content: req.Prompt}}, adapter.Options{})
	if err != nil {
		s.log.Error().Err(err).Msg("model test failed")
		http.Error(w, "Model test failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"reply": reply})
}
