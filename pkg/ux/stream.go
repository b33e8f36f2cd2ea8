// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the client-side pieces of the ChatRelay CLI:
// parsing the orchestrator's SSE stream and rendering it to a terminal.
//
// Parsing and rendering are separated: the parser only converts lines
// into StreamEvent structs, the processor owns I/O and stream state.
package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// StreamEventType is the frame kind carried on the SSE event line.
type StreamEventType string

const (
	StreamEventMessage StreamEventType = "message"
	StreamEventNewChat StreamEventType = "newChat"
	StreamEventInfo    StreamEventType = "info"
	StreamEventWarning StreamEventType = "warning"
	StreamEventError   StreamEventType = "error"
	StreamEventEnd     StreamEventType = "end"
)

// StreamEvent is one parsed frame from the orchestrator stream.
//
// Data holds the raw frame payload: a text delta for message frames, a
// {"id","title"} object for newChat frames, a notice string for
// info/warning/error frames, null for end frames.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
}

// Text decodes Data as a JSON string. Returns "" for non-string payloads.
func (e *StreamEvent) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return ""
	}
	return s
}

// NewChatInfo is the payload of a newChat frame.
type NewChatInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StreamResult contains the complete result of processing one stream.
type StreamResult struct {
	// Answer is the assistant text assembled from message frames.
	Answer string

	// ChatID and Title are set when the server created a new thread.
	ChatID  string
	Title   string
	NewChat bool

	// Notices collects info and warning frame texts in arrival order.
	Notices []string
}

// StreamProcessor consumes a streaming response body.
type StreamProcessor interface {
	// Process reads SSE frames from the reader until an end frame or
	// EOF. Message deltas are rendered to the processor's writer as
	// they arrive; the assembled result is returned at the end. An
	// error frame fails the whole stream.
	Process(reader io.Reader) (*StreamResult, error)
}

// sseStreamProcessor implements StreamProcessor over the orchestrator's
// two-line SSE frames. Not safe for concurrent use; create one per
// stream.
type sseStreamProcessor struct {
	out     io.Writer
	errOut  io.Writer
	answer  strings.Builder
	result  StreamResult
	printed bool
}

// NewStreamProcessor creates a processor rendering to stdout/stderr.
func NewStreamProcessor() StreamProcessor {
	return &sseStreamProcessor{out: os.Stdout, errOut: os.Stderr}
}

// NewStreamProcessorWithWriters creates a processor with custom writers,
// for testing.
func NewStreamProcessorWithWriters(out, errOut io.Writer) StreamProcessor {
	return &sseStreamProcessor{out: out, errOut: errOut}
}

// Process reads and processes a streaming response.
func (p *sseStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	parser := NewSSEParser()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		event, err := parser.ParseLine(scanner.Text())
		if err != nil {
			// A malformed frame is skipped, not fatal: later frames
			// may still carry the answer and the end marker.
			fmt.Fprintf(p.errOut, "\n[stream] skipping malformed frame: %v\n", err)
			continue
		}
		if event == nil {
			continue
		}

		switch event.Type {
		case StreamEventMessage:
			p.handleDelta(event.Text())
		case StreamEventNewChat:
			var info NewChatInfo
			if err := json.Unmarshal(event.Data, &info); err == nil {
				p.result.NewChat = true
				p.result.ChatID = info.ID
				p.result.Title = info.Title
			}
		case StreamEventInfo, StreamEventWarning:
			notice := event.Text()
			p.result.Notices = append(p.result.Notices, notice)
			fmt.Fprintf(p.errOut, "\n[%s] %s\n", event.Type, notice)
		case StreamEventError:
			p.finalize()
			return nil, fmt.Errorf("%s", event.Text())
		case StreamEventEnd:
			p.finalize()
			p.result.Answer = p.answer.String()
			result := p.result
			return &result, nil
		}
	}

	p.finalize()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream closed before end frame")
}

func (p *sseStreamProcessor) handleDelta(delta string) {
	if delta == "" {
		return
	}
	p.answer.WriteString(delta)
	fmt.Fprint(p.out, delta)
	p.printed = true
}

// finalize terminates the rendered line once something was printed.
func (p *sseStreamProcessor) finalize() {
	if p.printed {
		fmt.Fprintln(p.out)
	}
}

var _ StreamProcessor = (*sseStreamProcessor)(nil)
