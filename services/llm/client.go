package llm

import (
	"context"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates the normalized stream events.
type StreamEventType int

const (
	// StreamEventToken carries one incremental text delta.
	StreamEventToken StreamEventType = iota

	// StreamEventDone marks normal stream exhaustion.
	StreamEventDone

	// StreamEventError carries a backend-reported stream error.
	StreamEventError
)

// StreamEvent is the normalized form of one raw backend event. Each family
// client translates its own wire schema into this shape; raw events that
// carry no text delta are dropped before reaching the callback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives normalized events in arrival order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// LLMClient is the standard interface for a streaming LLM backend family.
//
// ChatStream issues one streaming generation call and delivers normalized
// events to the callback in arrival order. The stream is finite and
// non-restartable; ChatStream returns after the backend closes the stream,
// the callback aborts, or ctx is done.
type LLMClient interface {
	ChatStream(ctx context.Context, model string, messages []datatypes.ModelMessage,
		params GenerationParams, callback StreamCallback) error
}
