package ai

import (
	"context"
	"time"

	"ollama-webchat/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.AIServiceAdapter for local/dev runs
// without an inference server. It streams a canned reply word by word.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{}
}

const noopReply = "This is a noop AI response."

func (a *NoopAIAdapter) Chat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (string, error) {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return noopReply, nil
}

func (a *NoopAIAdapter) StreamChat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		words := []string{"This ", "is ", "a ", "noop ", "AI ", "response."}
		for _, w := range words {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			select {
			case chunks <- adapter.Chunk{Content: w}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		chunks <- adapter.Chunk{Done: true}
	}()
	return chunks, errs
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-ai-model"}, nil
}

func (a *NoopAIAdapter) HealthCheck(ctx context.Context) error { return nil }
