package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/adapter"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ---- In-memory chat store ----

type memChatStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]*model.Message // sessionID -> append order
	current  map[string]string           // userID -> sessionID
}

func newMemChatStore() *memChatStore {
	return &memChatStore{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]*model.Message),
		current:  make(map[string]string),
	}
}

func (m *memChatStore) GetOrCreateCurrent(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	if id, ok := m.current[userID]; ok {
		if _, exists := m.sessions[id]; exists {
			m.mu.Unlock()
			return id, nil
		}
	}
	m.mu.Unlock()
	sess, err := m.CreateSession(ctx, userID, "")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.current[userID] = sess.ID
	m.mu.Unlock()
	return sess.ID, nil
}

func (m *memChatStore) CreateSession(_ context.Context, userID, title string) (*model.ChatSession, error) {
	sess := model.NewChatSession(userID, title)
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *memChatStore) FindSession(_ context.Context, sessionID string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memChatStore) ListSessions(_ context.Context, userID string) ([]*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memChatStore) UpdateTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	sess.Title = title
	return nil
}

func (m *memChatStore) AppendMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *memChatStore) Messages(_ context.Context, sessionID string, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memChatStore) CountMessages(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages[sessionID])), nil
}

func (m *memChatStore) ClearSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	return nil
}

func (m *memChatStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return domain.ErrNotFound
	}
	owned := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			owned++
		}
	}
	if owned <= 1 {
		return domain.ErrLastSession
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *memChatStore) SwitchCurrent(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return domain.ErrNotFound
	}
	m.current[userID] = sessionID
	return nil
}

// lastMessage returns the newest message appended to a session.
func (m *memChatStore) lastMessage(sessionID string) *model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// ---- In-memory response cache ----

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, prompt string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.entries[prompt]
	return v, ok, nil
}

func (c *memCache) Put(_ context.Context, prompt, completion string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[prompt] = completion
	return nil
}

// ---- In-memory rate limiter ----

type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimiter() *memLimiter {
	return &memLimiter{counts: make(map[string]int)}
}

func (l *memLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

// ---- Scripted streaming AI ----

// fakeStreamAI replays a fixed script of chunks. With infinite set, it
// keeps emitting until the context is canceled, which is what the
// interruption tests need.
type fakeStreamAI struct {
	mu       sync.Mutex
	chunks   []adapter.Chunk
	err      error
	infinite bool
	calls    int
}

func (f *fakeStreamAI) streamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStreamAI) ListModels(context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

func (f *fakeStreamAI) HealthCheck(context.Context) error { return nil }

func (f *fakeStreamAI) Chat(context.Context, []adapter.Message, adapter.Options) (string, error) {
	return "ok", nil
}

func (f *fakeStreamAI) StreamChat(ctx context.Context, _ []adapter.Message, _ adapter.Options) (<-chan adapter.Chunk, <-chan error) {
	f.mu.Lock()
	f.calls++
	script := f.chunks
	streamErr := f.err
	infinite := f.infinite
	f.mu.Unlock()

	chunks := make(chan adapter.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range script {
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if infinite {
			for {
				select {
				case chunks <- adapter.Chunk{Content: "tok "}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
		if streamErr != nil {
			errs <- streamErr
		}
	}()
	return chunks, errs
}
