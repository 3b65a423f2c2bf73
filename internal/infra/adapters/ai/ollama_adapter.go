package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ollama-webchat/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*OllamaAdapter)(nil)

// BackendStatusError captures a non-success HTTP status from the
// inference backend together with its diagnostic body.
type BackendStatusError struct {
	Status int
	Body   string
}

func (e *BackendStatusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Body)
}

// OllamaAdapter talks to an Ollama-compatible server. Streaming replies
// are newline-delimited JSON, one {message:{content}, done} object per
// line until done is true.
type OllamaAdapter struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaAdapter(baseURL, model string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{
		baseURL: baseURL,
		model:   model,
		// No client-level timeout: streamed generations can run for
		// minutes and the caller's context bounds the total time.
		client: &http.Client{},
	}
}

type ollamaChatReq struct {
	Model    string                 `json:"model"`
	Messages []adapter.Message      `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaStreamResp struct {
	Message adapter.Message `json:"message"`
	Done    bool            `json:"done"`
	Error   string          `json:"error,omitempty"`
}

func ollamaOptions(opts adapter.Options) map[string]interface{} {
	o := map[string]interface{}{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
		"num_predict": opts.NumPredict,
	}
	if opts.TopK > 0 {
		o["top_k"] = opts.TopK
	}
	if len(opts.Stop) > 0 {
		o["stop"] = opts.Stop
	}
	return o
}

func (a *OllamaAdapter) newChatRequest(ctx context.Context, messages []adapter.Message, opts adapter.Options, stream bool) (*http.Request, error) {
	body := ollamaChatReq{
		Model:    a.model,
		Messages: messages,
		Stream:   stream,
		Options:  ollamaOptions(opts),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *OllamaAdapter) Chat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (string, error) {
	req, err := a.newChatRequest(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}

	var decoded ollamaStreamResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat opens the streaming connection and relays content deltas
// as they arrive. A line that fails to parse is skipped, never fatal:
// the backend may flush partial lines under load.
func (a *OllamaAdapter) StreamChat(ctx context.Context, messages []adapter.Message, opts adapter.Options) (<-chan adapter.Chunk, <-chan error) {
	chunks := make(chan adapter.Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := a.newChatRequest(ctx, messages, opts, true)
		if err != nil {
			errs <- err
			return
		}
		resp, err := a.client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- statusError(resp)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Long completions can produce long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				continue
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}

			select {
			case chunks <- adapter.Chunk{Content: decoded.Message.Content, Done: decoded.Done}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

type ollamaTagsResp struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var decoded ollamaTagsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (a *OllamaAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.ListModels(ctx)
	return err
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &BackendStatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
