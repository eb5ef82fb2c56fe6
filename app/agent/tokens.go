package agent

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const budgetEncoding = "cl100k_base"

// TokenBudget cuts text down to a number of model tokens.
type TokenBudget interface {
	Truncate(text string, maxTokens int) string
}

// tiktokenBudget loads the encoding on first use. If it cannot be loaded the
// text is left as it is.
type tiktokenBudget struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func newTiktokenBudget() *tiktokenBudget {
	return &tiktokenBudget{}
}

func (b *tiktokenBudget) encoding() (*tiktoken.Tiktoken, error) {
	b.once.Do(func() {
		b.enc, b.err = tiktoken.GetEncoding(budgetEncoding)
		if b.err != nil {
			slog.Warn("token encoding unavailable, context is not truncated", "encoding", budgetEncoding, "error", b.err)
		}
	})
	return b.enc, b.err
}

func (b *tiktokenBudget) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	enc, err := b.encoding()
	if err != nil {
		return text
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	slog.Debug("context truncated", "tokens", len(tokens), "limit", maxTokens)
	return enc.Decode(tokens[:maxTokens])
}
