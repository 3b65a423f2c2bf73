package ai

import (
	"context"

	"ollama-webchat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

// limitedAI bounds the number of generations running against the
// backend at once. The slot is held for the whole life of a stream.
type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedAI) HealthCheck(ctx context.Context) error {
	return l.inner.HealthCheck(ctx)
}

func (l *limitedAI) Chat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Chat(ctx, messages, opts)
}

func (l *limitedAI) StreamChat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (<-chan adapter.Chunk, <-chan error) {
	out := make(chan adapter.Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
		defer func() { <-l.sem }()

		chunks, innerErrs := l.inner.StreamChat(ctx, messages, opts)
		for c := range chunks {
			out <- c
		}
		if err := <-innerErrs; err != nil {
			errs <- err
		}
	}()

	return out, errs
}
