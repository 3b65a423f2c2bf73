package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ollama-webchat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter serves deployments whose local inference server speaks
// the OpenAI Chat Completions dialect instead of Ollama's NDJSON.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// TopK and stop sequences have no equivalent in the Chat Completions
// request shape; everything else passes through.
func (o *OpenAIAdapter) params(messages []adapter.Message, opts adapter.Options) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if opts.Temperature > 0 {
		p.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		p.TopP = openai.Float(opts.TopP)
	}
	if opts.NumPredict > 0 {
		p.MaxTokens = openai.Int(int64(opts.NumPredict))
	}
	return p
}

func (o *OpenAIAdapter) Chat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, o.params(messages, opts))
	if err != nil {
		return "", err
	}
	for _, c := range completion.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("no choice content")
}

func (o *OpenAIAdapter) StreamChat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(messages, opts))
		defer stream.Close()

		for stream.Next() {
			ev := stream.Current()
			if len(ev.Choices) == 0 {
				continue
			}
			select {
			case chunks <- adapter.Chunk{Content: ev.Choices[0].Delta.Content}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- err
			return
		}
		select {
		case chunks <- adapter.Chunk{Done: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{o.model}, nil
}

func (o *OpenAIAdapter) HealthCheck(ctx context.Context) error {
	// Chat Completions has no cheap ping; listing the configured model
	// is all the contract promises.
	_, err := o.ListModels(ctx)
	return err
}
