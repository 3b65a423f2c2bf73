package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ollama-webchat/internal/domain"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role string coming from the store boundary.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, s)
}

// ChatSession is one conversation owned by a user. Messages live in a
// separate per-session sorted index, not on the struct.
type ChatSession struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewChatSession(userID, title string) *ChatSession {
	now := time.Now().UTC()
	if title == "" {
		title = "Chat " + now.Format("2006-01-02 15:04")
	}
	return &ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Message is immutable once written. Ordering within a session follows
// the timestamp used as the sorted-index score.
type Message struct {
	ID        string
	SessionID string
	UserID    string
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewMessage assigns an id of the form {session}:{unix_nano}:{suffix}.
// The random suffix keeps ids unique even when two appends land on the
// same nanosecond.
func NewMessage(sessionID, userID string, role Role, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        fmt.Sprintf("%s:%d:%s", sessionID, now.UnixNano(), randomSuffix()),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// the clock rather than panic in the middle of a chat turn.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}
