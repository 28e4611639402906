package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/types"
)

// TokenCounter counts the tokens of a text span.
type TokenCounter func(text string) int

// Trimmer bounds the dialog history sent with each generation request.
// It drops the oldest entries first and always keeps the newest entry,
// so a single oversized turn still produces a request.
type Trimmer struct {
	counter    TokenCounter
	budget     int
	maxEntries int
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// NewTrimmer creates a trimmer backed by the cl100k_base tokenizer. When
// the tokenizer cannot be initialized (no BPE data available), it falls
// back to a character-count approximation and a hard entry cap.
func NewTrimmer(budget, maxEntries int, logger *zap.Logger) *Trimmer {
	if logger == nil {
		logger = zap.NewNop()
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("tokenizer unavailable, using approximate counting", zap.Error(err))
			return
		}
		encoding = enc
	})

	counter := approximateTokens
	if encoding != nil {
		counter = func(text string) int {
			return len(encoding.Encode(text, nil, nil))
		}
		// The exact token budget alone bounds the history.
		maxEntries = 0
	}

	return NewTrimmerWithCounter(counter, budget, maxEntries)
}

// NewTrimmerWithCounter creates a trimmer with an explicit counter.
func NewTrimmerWithCounter(counter TokenCounter, budget, maxEntries int) *Trimmer {
	return &Trimmer{
		counter:    counter,
		budget:     budget,
		maxEntries: maxEntries,
	}
}

// Trim returns the newest suffix of history that fits the token budget
// and the entry cap. The input is never mutated.
func (t *Trimmer) Trim(history []types.HistoryEntry) []types.HistoryEntry {
	if len(history) == 0 {
		return nil
	}

	entries := history
	if t.maxEntries > 0 && len(entries) > t.maxEntries {
		entries = entries[len(entries)-t.maxEntries:]
	}

	if t.budget <= 0 {
		return entries
	}

	total := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		cost := t.counter(entries[i].Content) + 4 // per-entry framing overhead
		if total+cost > t.budget && start < len(entries) {
			break
		}
		total += cost
		start = i
	}

	return entries[start:]
}

// approximateTokens estimates four characters per token.
func approximateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
