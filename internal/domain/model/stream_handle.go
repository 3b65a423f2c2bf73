package model

import (
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// StreamHandle tracks one in-flight generation. It lives only in
// process memory; a restart drops all handles and the client resubmits.
type StreamHandle struct {
	ID        string
	UserID    string
	SessionID string
	StartedAt time.Time

	active atomic.Bool
}

func NewStreamHandle(userID, sessionID string) *StreamHandle {
	h := &StreamHandle{
		ID:        ulid.Make().String(),
		UserID:    userID,
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
	}
	h.active.Store(true)
	return h
}

func (h *StreamHandle) Active() bool { return h.active.Load() }

// Interrupt flips the handle inactive. Returns false when the handle
// had already reached a terminal state.
func (h *StreamHandle) Interrupt() bool { return h.active.CompareAndSwap(true, false) }
