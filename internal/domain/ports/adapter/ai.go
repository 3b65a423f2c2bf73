package adapter

import "context"

// Message represents a chat message on the wire.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Options are opaque generation parameters passed through to the
// backend unmodified.
type Options struct {
	Temperature float64
	TopP        float64
	TopK        int
	NumPredict  int
	Stop        []string
}

// Chunk is one incremental piece of a streamed completion. Done is set
// on the backend's final line.
type Chunk struct {
	Content string
	Done    bool
}

// AIServiceAdapter is the port for the streaming inference backend.
type AIServiceAdapter interface {
	ListModels(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error

	// Chat returns only the assistant text.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)

	// StreamChat relays completion chunks as they arrive. Both channels
	// are closed when the stream ends; at most one error is sent.
	StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, <-chan error)
}
