package repository

import "context"

// ResponseCache maps a normalized prompt to a previously generated
// completion. Purely a latency optimization: a miss is never an error
// and stale hits are acceptable.
type ResponseCache interface {
	Get(ctx context.Context, prompt string) (completion string, ok bool, err error)
	Put(ctx context.Context, prompt, completion string) error
}
