// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter defines the contract for writing push-protocol frames to an
// HTTP response.
//
// # Description
//
// FrameWriter abstracts frame serialization and SSE wire mechanics so the
// streaming handler can be tested against a recorder. Each frame is
// written as:
//
//	event: {type}
//	data: {json}
//
// with Id (UUID v4) and CreatedAt (Unix millis) assigned per frame, and
// flushed immediately — one model delta, one frame, no batching.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the streaming handler
// emits frames from the delta callback while diagnostics may arrive from
// other code paths.
type FrameWriter interface {
	// WriteMessage writes one model text delta.
	WriteMessage(delta string) error

	// WriteNewChat announces the thread this turn created.
	WriteNewChat(chatID, title string) error

	// WriteInfo writes a non-fatal informational notice.
	WriteInfo(notice string) error

	// WriteWarning writes a diagnostic for a non-terminal failure.
	WriteWarning(message string) error

	// WriteError writes a fatal stream failure. The caller must follow
	// with WriteEnd and close the stream. The message must already be
	// sanitized; internal details never reach the client.
	WriteError(message string) error

	// WriteEnd writes the closing marker. Always the final frame.
	WriteEnd() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseFrameWriter implements FrameWriter over an http.ResponseWriter.
//
// Thread-safe via mutex; cannot be reused across requests.
type sseFrameWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewFrameWriter creates a FrameWriter for the given ResponseWriter.
//
// The caller must set SSE headers first (SetSSEHeaders). Returns an error
// when the ResponseWriter does not support http.Flusher, since unflushed
// frames would defeat streaming.
func NewFrameWriter(w http.ResponseWriter) (FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseFrameWriter{writer: w, flusher: flusher}, nil
}

// writeFrame assigns frame metadata, serializes, writes, and flushes.
func (w *sseFrameWriter) writeFrame(kind string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := datatypes.StreamFrame{
		Id:        uuid.New().String(),
		Type:      kind,
		Data:      data,
		CreatedAt: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", kind, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseFrameWriter) WriteMessage(delta string) error {
	return w.writeFrame(datatypes.FrameMessage, delta)
}

func (w *sseFrameWriter) WriteNewChat(chatID, title string) error {
	return w.writeFrame(datatypes.FrameNewChat, datatypes.NewChatData{ID: chatID, Title: title})
}

func (w *sseFrameWriter) WriteInfo(notice string) error {
	return w.writeFrame(datatypes.FrameInfo, notice)
}

func (w *sseFrameWriter) WriteWarning(message string) error {
	return w.writeFrame(datatypes.FrameWarning, message)
}

func (w *sseFrameWriter) WriteError(message string) error {
	return w.writeFrame(datatypes.FrameError, message)
}

func (w *sseFrameWriter) WriteEnd() error {
	return w.writeFrame(datatypes.FrameEnd, nil)
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for SSE streaming. Must be
// called before the first write. X-Accel-Buffering disables proxy
// buffering so frames reach the client as they are written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameWriter = (*sseFrameWriter)(nil)
