// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newMockAnthropicServer creates a test server that returns SSE events.
//
// # Description
//
// Creates an httptest.Server standing in for the Anthropic Messages API.
// The handler writes the event stream; the helper does not impose any
// framing so tests can produce malformed streams.
func newMockAnthropicServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// newTestAnthropicClient creates an AnthropicClient pointing at a test
// server, bypassing environment configuration.
func newTestAnthropicClient(baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     "test-key",
		baseURL:    baseURL,
	}
}

func userTurn(text string) []datatypes.ModelMessage {
	return []datatypes.ModelMessage{
		{Role: datatypes.RoleUser, Blocks: []datatypes.ContentBlock{datatypes.TextBlock(text)}},
	}
}

// writeSSE writes one event in Messages API framing.
func writeSSE(w http.ResponseWriter, eventType, data string) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// =============================================================================
// ChatStream Tests
// =============================================================================

// TestAnthropicChatStream_DeltaOrder verifies that deltas arrive at the
// callback individually and in emission order, never concatenated.
func TestAnthropicChatStream_DeltaOrder(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("Expected anthropic-version header, got %s", r.Header.Get("anthropic-version"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`)
		writeSSE(w, "content_block_start", `{"type":"content_block_start","index":0}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"!"}}`)
		writeSSE(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeSSE(w, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	var deltas []string
	doneSeen := false
	err := client.ChatStream(context.Background(), "claude-3-5-haiku-20241022",
		userTurn("Hi"), GenerationParams{}, func(event StreamEvent) error {
			switch event.Type {
			case StreamEventToken:
				deltas = append(deltas, event.Content)
			case StreamEventDone:
				doneSeen = true
			}
			return nil
		})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(deltas) != 3 || deltas[0] != "Hel" || deltas[1] != "lo" || deltas[2] != "!" {
		t.Errorf("Expected [Hel lo !], got %v", deltas)
	}
	if !doneSeen {
		t.Error("StreamEventDone was not emitted after exhaustion")
	}
}

// TestAnthropicChatStream_UnknownEventsIgnored verifies that unrecognized
// event types and undecodable payloads are no-ops, not errors.
func TestAnthropicChatStream_UnknownEventsIgnored(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "ping", `{"type":"ping"}`)
		writeSSE(w, "some_future_event", `{"type":"some_future_event","metadata":{"x":1}}`)
		writeSSE(w, "garbage", `{not json at all`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}`)
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`)
		writeSSE(w, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	var deltas []string
	err := client.ChatStream(context.Background(), "m", userTurn("Hi"),
		GenerationParams{}, func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				deltas = append(deltas, event.Content)
			}
			return nil
		})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "ok" {
		t.Errorf("Expected exactly [ok], got %v", deltas)
	}
}

// TestAnthropicChatStream_ErrorEvent verifies that an explicit error event
// emits StreamEventError and fails the stream.
func TestAnthropicChatStream_ErrorEvent(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"part"}}`)
		writeSSE(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	var errorEvent *StreamEvent
	err := client.ChatStream(context.Background(), "m", userTurn("Hi"),
		GenerationParams{}, func(event StreamEvent) error {
			if event.Type == StreamEventError {
				copied := event
				errorEvent = &copied
			}
			return nil
		})

	if err == nil {
		t.Fatal("ChatStream should fail when the stream carries an error event")
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("Error should carry the backend message, got: %v", err)
	}
	if errorEvent == nil {
		t.Fatal("StreamEventError was not emitted before returning")
	}
	if !strings.Contains(errorEvent.Error, "overloaded") {
		t.Errorf("Error event should carry the backend message, got %q", errorEvent.Error)
	}
}

// TestAnthropicChatStream_ServerError verifies non-200 handling.
func TestAnthropicChatStream_ServerError(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprintln(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	err := client.ChatStream(context.Background(), "m", userTurn("Hi"),
		GenerationParams{}, func(event StreamEvent) error { return nil })

	if err == nil {
		t.Fatal("ChatStream should return error for non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("Error should contain status code, got: %v", err)
	}
}

// TestAnthropicChatStream_CallbackAbort verifies that a callback error
// stops the stream.
func TestAnthropicChatStream_CallbackAbort(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 5; i++ {
			writeSSE(w, "content_block_delta",
				fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"t%d"}}`, i))
		}
		writeSSE(w, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	tokenCount := 0
	err := client.ChatStream(context.Background(), "m", userTurn("Hi"),
		GenerationParams{}, func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				tokenCount++
				if tokenCount >= 2 {
					return errors.New("client gone")
				}
			}
			return nil
		})

	if err == nil {
		t.Fatal("ChatStream should return error when callback aborts")
	}
	if !strings.Contains(err.Error(), "callback") {
		t.Errorf("Error should mention callback, got: %v", err)
	}
	if tokenCount != 2 {
		t.Errorf("Expected 2 tokens before abort, got %d", tokenCount)
	}
}

// TestAnthropicChatStream_ContextCancellation verifies ctx propagation.
func TestAnthropicChatStream_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := newMockAnthropicServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"first"}}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(500 * time.Millisecond)
		writeSSE(w, "message_stop", `{"type":"message_stop"}`)
	})
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.ChatStream(ctx, "m", userTurn("Hi"),
		GenerationParams{}, func(event StreamEvent) error { return nil })

	if err == nil {
		t.Fatal("ChatStream should return error on context cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
}

// =============================================================================
// translateAnthropicEvent Tests
// =============================================================================

// TestTranslateAnthropicEvent exercises the raw-payload translation table.
func TestTranslateAnthropicEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		data      string
		wantDelta string
		wantNoop  bool
		wantDone  bool
		wantErr   bool
	}{
		{
			name:      "text delta",
			data:      `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
			wantDelta: "Hi",
		},
		{
			name:     "delta without text",
			data:     `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`,
			wantNoop: true,
		},
		{
			name:     "message stop",
			data:     `{"type":"message_stop"}`,
			wantNoop: true,
			wantDone: true,
		},
		{
			name:     "unknown event type",
			data:     `{"type":"brand_new_event","payload":{}}`,
			wantNoop: true,
		},
		{
			name:     "undecodable payload",
			data:     `{{{`,
			wantNoop: true,
		},
		{
			name:     "error event",
			data:     `{"type":"error","error":{"type":"api_error","message":"boom"}}`,
			wantDone: true,
			wantErr:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			event, done, err := translateAnthropicEvent([]byte(tc.data))

			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if done != tc.wantDone {
				t.Errorf("done = %v, want %v", done, tc.wantDone)
			}
			if tc.wantNoop {
				if event != nil {
					t.Errorf("expected no-op, got event %+v", event)
				}
				return
			}
			if event == nil {
				t.Fatal("expected a token event, got no-op")
			}
			if event.Content != tc.wantDelta {
				t.Errorf("delta = %q, want %q", event.Content, tc.wantDelta)
			}
		})
	}
}

// TestToAnthropicBlocks verifies the content block mapping, including
// base64 encoding of attachment bytes.
func TestToAnthropicBlocks(t *testing.T) {
	t.Parallel()

	blocks := toAnthropicBlocks([]datatypes.ContentBlock{
		datatypes.TextBlock("hello"),
		datatypes.AttachmentBlock("image/png", []byte{0x89, 0x50}),
		datatypes.AttachmentBlock("application/pdf", []byte("%PDF")),
	})

	if len(blocks) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "text" || blocks[0].Text != "hello" {
		t.Errorf("text block mapped wrong: %+v", blocks[0])
	}
	if blocks[1].Type != "image" || blocks[1].Source == nil || blocks[1].Source.MediaType != "image/png" {
		t.Errorf("image block mapped wrong: %+v", blocks[1])
	}
	if blocks[1].Source.Data != "iVA=" {
		t.Errorf("image data not base64 encoded: %q", blocks[1].Source.Data)
	}
	if blocks[2].Type != "document" || blocks[2].Source == nil {
		t.Errorf("document block mapped wrong: %+v", blocks[2])
	}
}
