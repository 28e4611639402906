// Package llm provides the streaming language-model contract and the
// Gemini implementation used for reply generation.
package llm

import (
	"context"

	"github.com/erikv05/oversea/types"
)

// Request is one generation request assembled from the agent record and
// the running dialog history.
type Request struct {
	Model       string               `json:"model"`
	System      string               `json:"system"`
	Messages    []types.HistoryEntry `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

// Stream is a lazy, finite, non-restartable sequence of text fragments.
// Fragments is closed when the provider finishes or fails; Err then
// reports a mid-stream failure, which callers treat as a completion of
// whatever was received (llm_partial_failure).
type Stream interface {
	Fragments() <-chan string
	Err() error
	Close() error
}

// StreamProvider issues generation requests. Cancellation is cooperative
// through the context passed to StreamChat.
type StreamProvider interface {
	StreamChat(ctx context.Context, req *Request) (Stream, error)
	Name() string
}
