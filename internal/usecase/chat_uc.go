// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/adapter"
	"ollama-webchat/internal/domain/ports/repository"
	"ollama-webchat/internal/infra/logging"
	"ollama-webchat/internal/infra/metrics"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

// SessionSummary is a session plus its message count, for listings.
type SessionSummary struct {
	Session      *model.ChatSession
	MessageCount int64
}

// SendResult hands the caller the event stream for one turn. StreamID
// is empty when the answer was served from cache (nothing to interrupt).
type SendResult struct {
	StreamID string
	Cached   bool
	Events   <-chan StreamEvent
}

type ChatUseCase interface {
	// SendMessage sequences rate limit -> validation -> persist user
	// message -> cache lookup -> stream controller.
	SendMessage(ctx context.Context, userID, sessionID, text string) (*SendResult, error)

	// Interrupt stops a running generation; only the owner may do so.
	Interrupt(streamID, userID string) bool

	CurrentSession(ctx context.Context, userID string) (*model.ChatSession, error)
	History(ctx context.Context, userID string) (*model.ChatSession, []*model.Message, error)
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)
	NewSession(ctx context.Context, userID, title string) (*model.ChatSession, error)
	SwitchSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, []*model.Message, error)
	ClearSession(ctx context.Context, userID, sessionID string) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	ListModels(ctx context.Context) ([]string, error)
}

// Limits carries the per-turn knobs the facade enforces.
type Limits struct {
	RateWindow      time.Duration
	RateMax         int
	MaxMessageChars int
	HistoryLimit    int
}

type chatUC struct {
	store      repository.ChatStore
	cache      repository.ResponseCache
	limiter    repository.RateLimiter
	controller *StreamController
	trimmer    *HistoryTrimmer
	ai         adapter.AIServiceAdapter
	limits     Limits
	log        *zerolog.Logger
}

func NewChatUseCase(
	store repository.ChatStore,
	cache repository.ResponseCache,
	limiter repository.RateLimiter,
	controller *StreamController,
	trimmer *HistoryTrimmer,
	ai adapter.AIServiceAdapter,
	limits Limits,
	logger *zerolog.Logger,
) *chatUC {
	l := logger.With().Str("component", "ChatUC").Logger()
	return &chatUC{
		store:      store,
		cache:      cache,
		limiter:    limiter,
		controller: controller,
		trimmer:    trimmer,
		ai:         ai,
		limits:     limits,
		log:        &l,
	}
}

func (c *chatUC) SendMessage(ctx context.Context, userID, sessionID, text string) (*SendResult, error) {
	defer logging.TraceDuration(c.log, "ChatUC.SendMessage")()
	ctx = logging.WithSessID(ctx, sessionID)

	// Pure rejections first: no side effects before the user message is saved.
	ok, err := c.limiter.Allow(ctx, rateKey(userID), c.limits.RateMax, c.limits.RateWindow)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.IncRateLimitReject()
		return nil, domain.ErrRateLimited
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(text) > c.limits.MaxMessageChars {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidArgument, c.limits.MaxMessageChars)
	}

	sess, err := c.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, domain.ErrNotFound
	}

	// The user message is persisted before generation starts so it
	// survives any backend failure.
	userMsg := model.NewMessage(sessionID, userID, model.RoleUser, text)
	if err := c.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	metrics.IncMessagePersisted(string(model.RoleUser))
	c.promoteTitle(ctx, sess, text)

	if completion, hit, err := c.cache.Get(ctx, text); err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("response cache lookup failed, generating live")
	} else if hit {
		metrics.IncCacheRequest("response", "hit")
		return c.serveCached(ctx, userID, sessionID, completion)
	} else {
		metrics.IncCacheRequest("response", "miss")
	}

	history, err := c.store.Messages(ctx, sessionID, c.limits.HistoryLimit)
	if err != nil {
		return nil, err
	}
	// Drop the message we just appended; the controller re-adds the
	// prompt as the final user turn.
	trimmedFrom := history[:0]
	for _, m := range history {
		if m.ID != userMsg.ID {
			trimmedFrom = append(trimmedFrom, m)
		}
	}

	streamID, events, err := c.controller.Generate(ctx, GenerationRequest{
		UserID:    userID,
		SessionID: sessionID,
		Prompt:    text,
		History:   c.trimmer.Trim(trimmedFrom),
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{StreamID: streamID, Events: events}, nil
}

// serveCached persists the cached completion as a fresh assistant
// message and replays it as a single-chunk stream.
func (c *chatUC) serveCached(ctx context.Context, userID, sessionID, completion string) (*SendResult, error) {
	var saveErr error
	msg := model.NewMessage(sessionID, userID, model.RoleAssistant, completion)
	if saveErr = c.store.AppendMessage(ctx, msg); saveErr != nil {
		metrics.IncStoreError("append_assistant")
		logging.With(ctx, c.log).Error().Err(saveErr).Msg("persisting cached answer failed")
	} else {
		metrics.IncMessagePersisted(string(model.RoleAssistant))
	}

	events := make(chan StreamEvent, 2)
	events <- StreamEvent{Type: EventChunk, Content: completion, Cached: true}
	events <- StreamEvent{Type: EventCompleted, Content: completion, Cached: true, Err: saveErr}
	close(events)
	return &SendResult{Cached: true, Events: events}, nil
}

func (c *chatUC) Interrupt(streamID, userID string) bool {
	return c.controller.Interrupt(streamID, userID)
}

func (c *chatUC) CurrentSession(ctx context.Context, userID string) (*model.ChatSession, error) {
	defer logging.TraceDuration(c.log, "ChatUC.CurrentSession")()
	id, err := c.store.GetOrCreateCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.store.FindSession(ctx, id)
}

func (c *chatUC) History(ctx context.Context, userID string) (*model.ChatSession, []*model.Message, error) {
	defer logging.TraceDuration(c.log, "ChatUC.History")()
	sess, err := c.CurrentSession(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := c.store.Messages(ctx, sess.ID, 0)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

func (c *chatUC) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	defer logging.TraceDuration(c.log, "ChatUC.ListSessions")()
	sessions, err := c.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		count, err := c.store.CountMessages(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{Session: s, MessageCount: count})
	}
	return out, nil
}

func (c *chatUC) NewSession(ctx context.Context, userID, title string) (*model.ChatSession, error) {
	defer logging.TraceDuration(c.log, "ChatUC.NewSession")()
	sess, err := c.store.CreateSession(ctx, userID, title)
	if err != nil {
		return nil, err
	}
	if err := c.store.SwitchCurrent(ctx, userID, sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *chatUC) SwitchSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, []*model.Message, error) {
	defer logging.TraceDuration(c.log, "ChatUC.SwitchSession")()
	if err := c.store.SwitchCurrent(ctx, userID, sessionID); err != nil {
		return nil, nil, err
	}
	sess, err := c.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := c.store.Messages(ctx, sessionID, 0)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

func (c *chatUC) ClearSession(ctx context.Context, userID, sessionID string) error {
	defer logging.TraceDuration(c.log, "ChatUC.ClearSession")()
	sess, err := c.store.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return domain.ErrNotFound
	}
	return c.store.ClearSession(ctx, sessionID)
}

func (c *chatUC) DeleteSession(ctx context.Context, userID, sessionID string) error {
	defer logging.TraceDuration(c.log, "ChatUC.DeleteSession")()
	return c.store.DeleteSession(ctx, userID, sessionID)
}

func (c *chatUC) ListModels(ctx context.Context) ([]string, error) {
	return c.ai.ListModels(ctx)
}

// promoteTitle gives a default-titled session its first prompt as a
// title, truncated. Best effort.
func (c *chatUC) promoteTitle(ctx context.Context, sess *model.ChatSession, text string) {
	if !strings.HasPrefix(sess.Title, "Chat ") {
		return
	}
	count, err := c.store.CountMessages(ctx, sess.ID)
	if err != nil || count != 1 {
		return
	}
	title := text
	if utf8.RuneCountInString(title) > 48 {
		title = string([]rune(title)[:48])
	}
	if err := c.store.UpdateTitle(ctx, sess.ID, title); err != nil {
		c.log.Warn().Err(err).Str("session_id", sess.ID).Msg("title promotion failed")
	}
}

func rateKey(userID string) string { return "rate_limit:" + userID }
