package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/usecase"
)

type sessionDTO struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount *int64 `json:"message_count,omitempty"`
}

type messageDTO struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func toSessionDTO(s *model.ChatSession, count *int64) sessionDTO {
	return sessionDTO{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
		MessageCount: count,
	}
}

func toMessageDTOs(msgs []*model.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339Nano),
		})
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	sess, msgs, err := s.chat.History(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  toSessionDTO(sess, nil),
		"messages": toMessageDTOs(msgs),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	summaries, err := s.chat.ListSessions(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionDTO, 0, len(summaries))
	for _, sm := range summaries {
		count := sm.MessageCount
		out = append(out, toSessionDTO(sm.Session, &count))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means default title
	}
	sess, err := s.chat.NewSession(r.Context(), user.ID, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"session": toSessionDTO(sess, nil)})
}

func (s *Server) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	sess, msgs, err := s.chat.SwitchSession(r.Context(), user.ID, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  toSessionDTO(sess, nil),
		"messages": toMessageDTOs(msgs),
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	if err := s.chat.ClearSession(r.Context(), user.ID, chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	if err := s.chat.DeleteSession(r.Context(), user.ID, chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())
	streamID := chi.URLParam(r, "streamID")
	if !s.chat.Interrupt(streamID, user.ID) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Stream not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.chat.ListModels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// handleSendMessage relays one chat turn as server-sent events using
// the event vocabulary of the browser client: message, typing, stream,
// complete, interrupted, error.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := IdentityFrom(r.Context())

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	sess, err := s.chat.CurrentSession(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.chat.SendMessage(r.Context(), user.ID, sess.ID, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(v interface{}) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// Echo the user's message first so the client can render it.
	send(map[string]string{"type": "message", "role": "user", "content": req.Message})
	if !res.Cached {
		send(map[string]string{"type": "typing", "status": "start", "stream_id": res.StreamID})
	}

	for ev := range res.Events {
		switch ev.Type {
		case usecase.EventChunk:
			if ev.Cached {
				continue // complete carries the full cached text
			}
			send(map[string]string{"type": "stream", "content": ev.Content})
		case usecase.EventCompleted:
			send(map[string]interface{}{
				"type":    "complete",
				"role":    "assistant",
				"content": ev.Content,
				"cached":  ev.Cached,
				"saved":   ev.Err == nil,
			})
		case usecase.EventInterrupted:
			send(map[string]interface{}{
				"type":    "interrupted",
				"role":    "assistant",
				"content": ev.Content,
				"saved":   ev.Err == nil,
			})
		case usecase.EventFailed:
			send(map[string]string{"type": "error", "message": userFacingMessage(ev.Err)})
		}
	}

	if !res.Cached {
		send(map[string]string{"type": "typing", "status": "stop"})
	}
}

func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrBackendTimeout):
		return "AI response timed out. Please try again."
	default:
		// Diagnostics stay in the logs; the client gets a generic line.
		return "Failed to get AI response. Please check if the AI service is running."
	}
}
