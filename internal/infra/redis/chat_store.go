package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/repository"
)

var _ repository.ChatStore = (*ChatStore)(nil)

// ChatStore keeps sessions and message history in the key-value store.
//
// Key layout:
//
//	user_session:{user_id}      current session pointer
//	user_sessions:{user_id}     zset of session ids by creation time
//	session:{session_id}        hash of session fields
//	session_messages:{sid}      zset of message ids by timestamp
//	message:{message_id}        hash of message fields
type ChatStore struct {
	kv          repository.KeyValueStore
	maxSessions int
	log         *zerolog.Logger
}

func NewChatStore(kv repository.KeyValueStore, maxSessions int, logger *zerolog.Logger) *ChatStore {
	l := logger.With().Str("component", "ChatStore").Logger()
	if maxSessions <= 0 {
		maxSessions = 5
	}
	return &ChatStore{kv: kv, maxSessions: maxSessions, log: &l}
}

// usersKey indexes every user id that ever created a session; admin
// stats read it.
const usersKey = "chat_users"

func currentKey(userID string) string        { return "user_session:" + userID }
func userSessionsKey(userID string) string   { return "user_sessions:" + userID }
func sessionKey(sessionID string) string     { return "session:" + sessionID }
func sessionMsgsKey(sessionID string) string { return "session_messages:" + sessionID }
func messageKey(messageID string) string     { return "message:" + messageID }

func (s *ChatStore) GetOrCreateCurrent(ctx context.Context, userID string) (string, error) {
	id, err := s.kv.Get(ctx, currentKey(userID))
	if err == nil {
		// Pointer may be stale when the session was evicted or deleted.
		if _, ferr := s.FindSession(ctx, id); ferr == nil {
			return id, nil
		} else if !errors.Is(ferr, domain.ErrNotFound) {
			return "", ferr
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	sess, err := s.CreateSession(ctx, userID, "")
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, currentKey(userID), sess.ID); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *ChatStore) CreateSession(ctx context.Context, userID, title string) (*model.ChatSession, error) {
	ids, err := s.kv.ZRange(ctx, userSessionsKey(userID), 0, -1)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// Evict the oldest session once the cap is reached, messages included.
	if len(ids) >= s.maxSessions {
		oldest := ids[0]
		if err := s.deleteCascade(ctx, userID, oldest); err != nil {
			return nil, err
		}
		s.log.Debug().Str("user_id", userID).Str("evicted", oldest).Msg("session cap reached, oldest evicted")
	}

	sess := model.NewChatSession(userID, title)
	if err := s.kv.HSet(ctx, sessionKey(sess.ID), sessionFields(sess)); err != nil {
		return nil, err
	}
	if err := s.kv.ZAdd(ctx, userSessionsKey(userID), float64(sess.CreatedAt.UnixMicro()), sess.ID); err != nil {
		return nil, err
	}
	if err := s.kv.SAdd(ctx, usersKey, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to index user")
	}
	return sess, nil
}

func (s *ChatStore) FindSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	fields, err := s.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return sessionFromFields(fields)
}

func (s *ChatStore) ListSessions(ctx context.Context, userID string) ([]*model.ChatSession, error) {
	ids, err := s.kv.ZRevRange(ctx, userSessionsKey(userID), 0, -1)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	sessions := make([]*model.ChatSession, 0, len(ids))
	for _, id := range ids {
		sess, err := s.FindSession(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *ChatStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	if _, err := s.FindSession(ctx, sessionID); err != nil {
		return err
	}
	return s.kv.HSet(ctx, sessionKey(sessionID), map[string]string{
		"title":      title,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *ChatStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	if _, err := model.ParseRole(string(msg.Role)); err != nil {
		return err
	}
	if err := s.kv.HSet(ctx, messageKey(msg.ID), messageFields(msg)); err != nil {
		return err
	}
	if err := s.kv.ZAdd(ctx, sessionMsgsKey(msg.SessionID), float64(msg.Timestamp.UnixMicro()), msg.ID); err != nil {
		return err
	}
	// Bump session activity; the message itself is already durable.
	if err := s.kv.HSet(ctx, sessionKey(msg.SessionID), map[string]string{
		"updated_at": msg.Timestamp.Format(time.RFC3339Nano),
	}); err != nil {
		s.log.Warn().Err(err).Str("session_id", msg.SessionID).Msg("failed to bump session updated_at")
	}
	return nil
}

func (s *ChatStore) Messages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	// Newest first from the index, reversed below to chronological order.
	ids, err := s.kv.ZRevRange(ctx, sessionMsgsKey(sessionID), 0, stop)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	msgs := make([]*model.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		fields, err := s.kv.HGetAll(ctx, messageKey(ids[i]))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		msg, err := messageFromFields(fields)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

func (s *ChatStore) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.kv.ZCard(ctx, sessionMsgsKey(sessionID))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

func (s *ChatStore) ClearSession(ctx context.Context, sessionID string) error {
	ids, err := s.kv.ZRange(ctx, sessionMsgsKey(sessionID), 0, -1)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	for _, id := range ids {
		if err := s.kv.Del(ctx, messageKey(id)); err != nil {
			return err
		}
	}
	return s.kv.Del(ctx, sessionMsgsKey(sessionID))
}

func (s *ChatStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		// Never reveal another user's session.
		return domain.ErrNotFound
	}
	count, err := s.kv.ZCard(ctx, userSessionsKey(userID))
	if err != nil {
		return err
	}
	if count <= 1 {
		return domain.ErrLastSession
	}
	if err := s.deleteCascade(ctx, userID, sessionID); err != nil {
		return err
	}

	// Repair the current pointer when it referenced the deleted session.
	cur, err := s.kv.Get(ctx, currentKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur != sessionID {
		return nil
	}
	remaining, err := s.kv.ZRevRange(ctx, userSessionsKey(userID), 0, 0)
	if err != nil || len(remaining) == 0 {
		return s.kv.Del(ctx, currentKey(userID))
	}
	return s.kv.Set(ctx, currentKey(userID), remaining[0])
}

func (s *ChatStore) SwitchCurrent(ctx context.Context, userID, sessionID string) error {
	sess, err := s.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return domain.ErrNotFound
	}
	return s.kv.Set(ctx, currentKey(userID), sessionID)
}

// deleteCascade removes a session and everything under it without the
// last-session guard; used by both explicit deletion and cap eviction.
func (s *ChatStore) deleteCascade(ctx context.Context, userID, sessionID string) error {
	if err := s.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, sessionKey(sessionID)); err != nil {
		return err
	}
	return s.kv.ZRem(ctx, userSessionsKey(userID), sessionID)
}

// ---- hash (de)serialization; the one place raw maps cross into typed models ----

func sessionFields(s *model.ChatSession) map[string]string {
	return map[string]string{
		"id":         s.ID,
		"user_id":    s.UserID,
		"title":      s.Title,
		"created_at": s.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": s.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func sessionFromFields(f map[string]string) (*model.ChatSession, error) {
	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: session created_at %q", domain.ErrInvalidArgument, f["created_at"])
	}
	updated, err := time.Parse(time.RFC3339Nano, f["updated_at"])
	if err != nil {
		updated = created
	}
	return &model.ChatSession{
		ID:        f["id"],
		UserID:    f["user_id"],
		Title:     f["title"],
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func messageFields(m *model.Message) map[string]string {
	return map[string]string{
		"id":         m.ID,
		"session_id": m.SessionID,
		"user_id":    m.UserID,
		"role":       string(m.Role),
		"content":    m.Content,
		"timestamp":  m.Timestamp.Format(time.RFC3339Nano),
	}
}

func messageFromFields(f map[string]string) (*model.Message, error) {
	role, err := model.ParseRole(f["role"])
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, f["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("%w: message timestamp %q", domain.ErrInvalidArgument, f["timestamp"])
	}
	return &model.Message{
		ID:        f["id"],
		SessionID: f["session_id"],
		UserID:    f["user_id"],
		Role:      role,
		Content:   f["content"],
		Timestamp: ts,
	}, nil
}
