package usecase

import (
	"sync"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/infra/metrics"
)

// HandleTable is the live table of in-flight stream handles. Insert on
// start, remove on every terminal transition; bounded so abandoned
// handles can never grow without limit.
type HandleTable struct {
	mu      sync.Mutex
	max     int
	handles map[string]*model.StreamHandle
}

func NewHandleTable(max int) *HandleTable {
	if max <= 0 {
		max = 256
	}
	return &HandleTable{
		max:     max,
		handles: make(map[string]*model.StreamHandle),
	}
}

func (t *HandleTable) Register(h *model.StreamHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) >= t.max {
		return domain.ErrTooManyStreams
	}
	t.handles[h.ID] = h
	metrics.SetActiveStreams(len(t.handles))
	return nil
}

func (t *HandleTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, id)
	metrics.SetActiveStreams(len(t.handles))
}

// Interrupt flips the handle inactive when it exists and belongs to
// userID. Unknown ids and foreign owners both report false; callers
// must not learn whether another user's stream exists.
func (t *HandleTable) Interrupt(id, userID string) bool {
	t.mu.Lock()
	h, ok := t.handles[id]
	t.mu.Unlock()
	if !ok || h.UserID != userID {
		return false
	}
	return h.Interrupt()
}

func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
