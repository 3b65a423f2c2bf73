package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/adapter"
	"ollama-webchat/internal/domain/ports/repository"
	"ollama-webchat/internal/infra/logging"
	"ollama-webchat/internal/infra/metrics"
)

// InterruptionMarker is appended to a partially generated answer so the
// saved transcript is honest about truncation.
const InterruptionMarker = "[generation interrupted]"

type StreamEventType string

const (
	EventChunk       StreamEventType = "chunk"
	EventCompleted   StreamEventType = "completed"
	EventInterrupted StreamEventType = "interrupted"
	EventFailed      StreamEventType = "failed"
)

// StreamEvent is one item relayed to the caller. Content holds the
// delta for chunk events and the full accumulated text on terminal
// events. Err carries the failure cause on EventFailed, or a
// best-effort persistence error on the other terminal events.
type StreamEvent struct {
	Type     StreamEventType
	StreamID string
	Content  string
	Cached   bool
	Err      error
}

// GenerationRequest carries everything one generation needs. History
// is already trimmed; the prompt is appended as the final user message.
type GenerationRequest struct {
	UserID    string
	SessionID string
	Prompt    string
	History   []adapter.Message
}

// StreamController runs a single inference request as a small state
// machine: Requested -> Streaming -> Completed | Interrupted | Failed.
// The terminal transition is decided exactly once, in one goroutine,
// and the handle leaves the live table on every exit path.
type StreamController struct {
	ai      adapter.AIServiceAdapter
	store   repository.ChatStore
	cache   repository.ResponseCache
	handles *HandleTable
	model   string
	opts    adapter.Options
	timeout time.Duration
	log     *zerolog.Logger
}

func NewStreamController(
	ai adapter.AIServiceAdapter,
	store repository.ChatStore,
	cache repository.ResponseCache,
	handles *HandleTable,
	model string,
	opts adapter.Options,
	timeout time.Duration,
	logger *zerolog.Logger,
) *StreamController {
	l := logger.With().Str("component", "StreamController").Logger()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &StreamController{
		ai:      ai,
		store:   store,
		cache:   cache,
		handles: handles,
		model:   model,
		opts:    opts,
		timeout: timeout,
		log:     &l,
	}
}

// Generate registers a fresh handle and starts streaming. The returned
// channel is unbuffered: a slow consumer backpressures the backend read
// chunk by chunk. The channel closes after the terminal event.
func (c *StreamController) Generate(ctx context.Context, req GenerationRequest) (string, <-chan StreamEvent, error) {
	h := model.NewStreamHandle(req.UserID, req.SessionID)
	if err := c.handles.Register(h); err != nil {
		return "", nil, err
	}
	events := make(chan StreamEvent)
	go c.run(ctx, h, req, events)
	return h.ID, events, nil
}

// Interrupt flips the stream's active flag. Cooperative: observed at
// the next chunk boundary, never mid-write.
func (c *StreamController) Interrupt(streamID, userID string) bool {
	return c.handles.Interrupt(streamID, userID)
}

func (c *StreamController) run(ctx context.Context, h *model.StreamHandle, req GenerationRequest, events chan<- StreamEvent) {
	start := time.Now()
	defer close(events)
	defer c.handles.Remove(h.ID)

	ctx = logging.WithUserID(ctx, req.UserID)
	ctx = logging.WithSessID(ctx, req.SessionID)
	ctx = logging.WithStreamID(ctx, h.ID)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]adapter.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, adapter.Message{Role: string(model.RoleUser), Content: req.Prompt})

	chunks, errs := c.ai.StreamChat(cctx, msgs, c.opts)

	var buf strings.Builder
	var interrupted, abandoned bool
	for chunk := range chunks {
		// Active flag is checked once per chunk, before emission.
		if !h.Active() {
			interrupted = true
			cancel()
			break
		}
		if chunk.Content != "" {
			buf.WriteString(chunk.Content)
			metrics.IncStreamChunk(c.model)
			select {
			case events <- StreamEvent{Type: EventChunk, StreamID: h.ID, Content: chunk.Content}:
			case <-ctx.Done():
				// Consumer is gone; stop reading the backend.
				abandoned = true
				cancel()
			}
			if abandoned {
				break
			}
		}
		if chunk.Done {
			break
		}
	}
	drain(chunks)
	streamErr := <-errs

	switch {
	case interrupted:
		c.finishInterrupted(ctx, h, req, buf.String(), events, start)
	case abandoned:
		// Nothing coherent to save and nobody left to tell.
		logging.With(ctx, c.log).Debug().Msg("client went away mid-stream")
		metrics.ObserveGeneration(c.model, "failed", time.Since(start))
	case streamErr != nil:
		c.finishFailed(ctx, h, streamErr, events, start)
	default:
		c.finishCompleted(ctx, h, req, buf.String(), events, start)
	}
}

func (c *StreamController) finishCompleted(ctx context.Context, h *model.StreamHandle, req GenerationRequest, full string, events chan<- StreamEvent, start time.Time) {
	full = strings.TrimSpace(full)
	log := logging.With(ctx, c.log)
	saveErr := c.persistAssistant(req, full)
	if saveErr != nil {
		metrics.IncStoreError("append_assistant")
		log.Error().Err(saveErr).Msg("generation succeeded but persisting the answer failed")
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := c.cache.Put(cacheCtx, req.Prompt, full); err != nil {
		metrics.IncStoreError("cache_put")
		log.Warn().Err(err).Msg("response cache write failed")
	}
	cancel()
	metrics.ObserveGeneration(c.model, "completed", time.Since(start))
	emit(ctx, events, StreamEvent{Type: EventCompleted, StreamID: h.ID, Content: full, Err: saveErr})
}

func (c *StreamController) finishInterrupted(ctx context.Context, h *model.StreamHandle, req GenerationRequest, partial string, events chan<- StreamEvent, start time.Time) {
	content := partial + "\n\n" + InterruptionMarker
	log := logging.With(ctx, c.log)
	saveErr := c.persistAssistant(req, content)
	if saveErr != nil {
		metrics.IncStoreError("append_assistant")
		log.Error().Err(saveErr).Msg("persisting interrupted answer failed")
	}
	metrics.ObserveGeneration(c.model, "interrupted", time.Since(start))
	log.Info().Msg("generation interrupted")
	emit(ctx, events, StreamEvent{Type: EventInterrupted, StreamID: h.ID, Content: content, Err: saveErr})
}

func (c *StreamController) finishFailed(ctx context.Context, h *model.StreamHandle, cause error, events chan<- StreamEvent, start time.Time) {
	err := classifyBackendError(cause)
	metrics.ObserveGeneration(c.model, "failed", time.Since(start))
	logging.With(ctx, c.log).Error().Err(cause).Msg("generation failed")
	emit(ctx, events, StreamEvent{Type: EventFailed, StreamID: h.ID, Err: err})
}

// persistAssistant writes the assistant message under a context of its
// own: a store write, once started, completes or fails on its own
// terms, never half-applied because a stream context was torn down.
func (c *StreamController) persistAssistant(req GenerationRequest, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := model.NewMessage(req.SessionID, req.UserID, model.RoleAssistant, content)
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	metrics.IncMessagePersisted(string(model.RoleAssistant))
	return nil
}

func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func drain(chunks <-chan adapter.Chunk) {
	for range chunks {
	}
}

func classifyBackendError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrBackendTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrBackendUnavailable
	default:
		return domain.ErrBackendUnavailable
	}
}
