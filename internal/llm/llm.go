// Package llm provides a chat-completions client for OpenAI-compatible
// backends. The report agent is its only consumer; it needs plain
// completions for keyword generation and selection, and streamed
// completions for section writing.
package llm

import (
	"context"
	"errors"
)

// Client is the completion surface the report agent programs against.
type Client interface {
	// Complete returns the full assistant message.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CompleteStream forwards content deltas to onChunk as they arrive
	// and returns the concatenated message. A non-nil error from onChunk
	// aborts the stream.
	CompleteStream(ctx context.Context, messages []Message, onChunk func(delta string) error) (string, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrBackendUnavailable marks transport-level failures that survived the
// retry envelope. Callers treat it as retryable at the task level.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
