package repository

import (
	"context"

	"ollama-webchat/internal/domain/model"
)

// ChatStore persists sessions and ordered message history.
type ChatStore interface {
	// GetOrCreateCurrent returns the user's pointer-tracked session id,
	// creating a fresh session when the pointer is missing or stale.
	// Two concurrent calls may both create; last pointer write wins.
	GetOrCreateCurrent(ctx context.Context, userID string) (string, error)

	// CreateSession enforces the per-user session cap by evicting the
	// oldest session (messages included) before inserting.
	CreateSession(ctx context.Context, userID, title string) (*model.ChatSession, error)

	FindSession(ctx context.Context, sessionID string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]*model.ChatSession, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error

	// AppendMessage writes the message hash, adds it to the session's
	// sorted index and bumps the session's updated_at.
	AppendMessage(ctx context.Context, msg *model.Message) error

	// Messages returns the most recent limit messages, oldest first.
	// limit <= 0 means no limit.
	Messages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int64, error)

	// ClearSession drops all messages but keeps the session shell.
	ClearSession(ctx context.Context, sessionID string) error

	// DeleteSession removes the session and its messages. It fails with
	// domain.ErrLastSession when it is the user's only session and with
	// domain.ErrNotFound when the session is not owned by userID.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// SwitchCurrent repoints the per-user current-session pointer after
	// an ownership check.
	SwitchCurrent(ctx context.Context, userID, sessionID string) error
}
