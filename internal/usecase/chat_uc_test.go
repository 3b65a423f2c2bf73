package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/adapter"
)

type chatFixture struct {
	uc      ChatUseCase
	store   *memChatStore
	cache   *memCache
	limiter *memLimiter
	ai      *fakeStreamAI
}

func newChatFixture(t *testing.T, ai *fakeStreamAI, limits Limits) *chatFixture {
	t.Helper()
	if limits.RateMax == 0 {
		limits.RateMax = 100
	}
	if limits.RateWindow == 0 {
		limits.RateWindow = time.Minute
	}
	if limits.MaxMessageChars == 0 {
		limits.MaxMessageChars = 8000
	}
	if limits.HistoryLimit == 0 {
		limits.HistoryLimit = 10
	}
	store := newMemChatStore()
	cache := newMemCache()
	limiter := newMemLimiter()
	handles := NewHandleTable(8)
	controller := NewStreamController(ai, store, cache, handles, "test-model", adapter.Options{}, time.Minute, testLogger())
	trimmer := NewHistoryTrimmer(limits.HistoryLimit, 2000, 0)
	uc := NewChatUseCase(store, cache, limiter, controller, trimmer, ai, limits, testLogger())
	return &chatFixture{uc: uc, store: store, cache: cache, limiter: limiter, ai: ai}
}

func drainEvents(t *testing.T, events <-chan StreamEvent) StreamEvent {
	t.Helper()
	var terminal StreamEvent
	for ev := range events {
		if ev.Type != EventChunk {
			terminal = ev
		}
	}
	if terminal.Type == "" {
		t.Fatal("stream closed without a terminal event")
	}
	return terminal
}

func TestSendMessageFullTurn(t *testing.T) {
	ai := &fakeStreamAI{chunks: scriptedAnswer("The answer is 42.")}
	f := newChatFixture(t, ai, Limits{})
	ctx := context.Background()

	sess, err := f.uc.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}

	res, err := f.uc.SendMessage(ctx, "u1", sess.ID, "what is the answer?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Cached {
		t.Fatal("first turn must not be served from cache")
	}
	terminal := drainEvents(t, res.Events)
	if terminal.Type != EventCompleted {
		t.Fatalf("terminal = %v", terminal.Type)
	}

	msgs, err := f.store.Messages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Fatalf("order = %v then %v, want user then assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "The answer is 42." {
		t.Fatalf("assistant content = %q", msgs[1].Content)
	}

	// The first prompt becomes the session title.
	sess, _ = f.store.FindSession(ctx, sess.ID)
	if sess.Title != "what is the answer?" {
		t.Fatalf("title = %q, want the first prompt", sess.Title)
	}
}

func TestSendMessageCacheHit(t *testing.T) {
	ai := &fakeStreamAI{infinite: true}
	f := newChatFixture(t, ai, Limits{})
	ctx := context.Background()

	sess, _ := f.uc.CurrentSession(ctx, "u1")
	_ = f.cache.Put(ctx, "hello", "cached answer")

	res, err := f.uc.SendMessage(ctx, "u1", sess.ID, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.Cached {
		t.Fatal("expected a cache hit")
	}
	if res.StreamID != "" {
		t.Fatal("cached turns have nothing to interrupt")
	}
	terminal := drainEvents(t, res.Events)
	if terminal.Type != EventCompleted || terminal.Content != "cached answer" {
		t.Fatalf("terminal = %+v", terminal)
	}
	if ai.streamCalls() != 0 {
		t.Fatalf("backend was called %d times on a cache hit", ai.streamCalls())
	}

	// Both the question and the replayed answer land in history.
	msgs, _ := f.store.Messages(ctx, sess.ID, 0)
	if len(msgs) != 2 || msgs[1].Content != "cached answer" {
		t.Fatalf("history after cache hit: %d messages", len(msgs))
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	ai := &fakeStreamAI{chunks: scriptedAnswer("ok")}
	f := newChatFixture(t, ai, Limits{RateMax: 3})
	ctx := context.Background()
	sess, _ := f.uc.CurrentSession(ctx, "u1")

	for i := 0; i < 3; i++ {
		res, err := f.uc.SendMessage(ctx, "u1", sess.ID, "ping")
		if err != nil {
			t.Fatalf("turn %d rejected: %v", i, err)
		}
		drainEvents(t, res.Events)
	}

	_, err := f.uc.SendMessage(ctx, "u1", sess.ID, "ping")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// The rejected turn must not leave a user message behind.
	n, _ := f.store.CountMessages(ctx, sess.ID)
	if n != 6 {
		t.Fatalf("message count after rejection = %d, want 6", n)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ai := &fakeStreamAI{}
	f := newChatFixture(t, ai, Limits{MaxMessageChars: 10})
	ctx := context.Background()
	sess, _ := f.uc.CurrentSession(ctx, "u1")

	if _, err := f.uc.SendMessage(ctx, "u1", sess.ID, "   "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("blank message err = %v", err)
	}
	if _, err := f.uc.SendMessage(ctx, "u1", sess.ID, strings.Repeat("x", 11)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("oversized message err = %v", err)
	}
	if _, err := f.uc.SendMessage(ctx, "u1", "no-such-session", "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}
}

func TestSendMessageForeignSession(t *testing.T) {
	ai := &fakeStreamAI{}
	f := newChatFixture(t, ai, Limits{})
	ctx := context.Background()

	theirs, _ := f.uc.CurrentSession(ctx, "owner")
	if _, err := f.uc.SendMessage(ctx, "intruder", theirs.ID, "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign session err = %v, want ErrNotFound", err)
	}
}

func TestCacheLookupFailureFallsBackToLive(t *testing.T) {
	ai := &fakeStreamAI{chunks: scriptedAnswer("live answer")}
	f := newChatFixture(t, ai, Limits{})
	ctx := context.Background()
	sess, _ := f.uc.CurrentSession(ctx, "u1")

	f.cache.getErr = errors.New("store down")
	res, err := f.uc.SendMessage(ctx, "u1", sess.ID, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Cached {
		t.Fatal("broken cache must not report a hit")
	}
	terminal := drainEvents(t, res.Events)
	if terminal.Type != EventCompleted || terminal.Content != "live answer" {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ai := &fakeStreamAI{}
	f := newChatFixture(t, ai, Limits{})
	ctx := context.Background()

	first, err := f.uc.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	second, err := f.uc.NewSession(ctx, "u1", "notes")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// NewSession switches the pointer.
	cur, _ := f.uc.CurrentSession(ctx, "u1")
	if cur.ID != second.ID {
		t.Fatalf("current = %s, want %s", cur.ID, second.ID)
	}

	if _, _, err := f.uc.SwitchSession(ctx, "u1", first.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if _, _, err := f.uc.SwitchSession(ctx, "u2", first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign switch err = %v", err)
	}

	summaries, err := f.uc.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(summaries))
	}

	if err := f.uc.DeleteSession(ctx, "u1", second.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := f.uc.DeleteSession(ctx, "u1", first.ID); !errors.Is(err, domain.ErrLastSession) {
		t.Fatalf("last session delete err = %v", err)
	}
}

func TestFacadeMethodsEmitTraceSpans(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ai := &fakeStreamAI{chunks: scriptedAnswer("hi there")}
	store := newMemChatStore()
	handles := NewHandleTable(8)
	controller := NewStreamController(ai, store, newMemCache(), handles, "test-model", adapter.Options{}, time.Minute, testLogger())
	trimmer := NewHistoryTrimmer(10, 2000, 0)
	uc := NewChatUseCase(store, newMemCache(), newMemLimiter(), controller, trimmer, ai, Limits{
		RateWindow:      time.Minute,
		RateMax:         100,
		MaxMessageChars: 8000,
		HistoryLimit:    10,
	}, &logger)

	ctx := context.Background()
	sess, err := uc.CurrentSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	res, err := uc.SendMessage(ctx, "u1", sess.ID, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	drainEvents(t, res.Events)

	out := buf.String()
	for _, span := range []string{"ChatUC.CurrentSession", "ChatUC.SendMessage"} {
		// One start and one finish entry per call.
		if strings.Count(out, `"method":"`+span+`"`) < 2 {
			t.Fatalf("missing trace span for %s in %q", span, out)
		}
	}
}

// scriptedAnswer splits text into word chunks followed by the final
// done marker, mimicking how the backend streams.
func scriptedAnswer(text string) []adapter.Chunk {
	words := strings.SplitAfter(text, " ")
	chunks := make([]adapter.Chunk, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, adapter.Chunk{Content: w})
	}
	return append(chunks, adapter.Chunk{Done: true})
}
