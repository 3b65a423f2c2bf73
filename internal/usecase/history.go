package usecase

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"ollama-webchat/internal/domain/model"
	"ollama-webchat/internal/domain/ports/adapter"
)

// HistoryTrimmer bounds the context sent to the backend: at most limit
// messages, each capped to maxChars runes, and the whole window kept
// under a token budget so a long transcript cannot blow the request.
type HistoryTrimmer struct {
	limit       int
	maxChars    int
	tokenBudget int

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewHistoryTrimmer(limit, maxChars, tokenBudget int) *HistoryTrimmer {
	if limit <= 0 {
		limit = 10
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &HistoryTrimmer{limit: limit, maxChars: maxChars, tokenBudget: tokenBudget}
}

// Trim converts stored history into backend messages, newest-biased.
// The most recent message always survives, budget or not.
func (t *HistoryTrimmer) Trim(history []*model.Message) []adapter.Message {
	if len(history) > t.limit {
		history = history[len(history)-t.limit:]
	}

	msgs := make([]adapter.Message, 0, len(history))
	for _, m := range history {
		content := capRunes(m.Content, t.maxChars)
		if content == "" {
			continue
		}
		msgs = append(msgs, adapter.Message{Role: string(m.Role), Content: content})
	}

	if t.tokenBudget <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += t.tokens(m.Content)
	}
	for len(msgs) > 1 && total > t.tokenBudget {
		total -= t.tokens(msgs[0].Content)
		msgs = msgs[1:]
	}
	return msgs
}

func (t *HistoryTrimmer) tokens(s string) int {
	t.once.Do(func() {
		// Best effort: the encoding may not be fetchable offline.
		if enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(s, nil, nil))
	}
	// Rough fallback: ~4 chars per token for typical English text.
	return utf8.RuneCountInString(s)/4 + 1
}

func capRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
