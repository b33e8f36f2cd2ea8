// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSEParser parses the orchestrator's Server-Sent Events into
// StreamEvent structs.
//
// Each frame arrives as two lines:
//
//	event: message
//	data: {"id":"...","type":"message","data":"Hello","createdAt":1700000000000}
//
// followed by a blank delimiter line. The data payload repeats the frame
// kind, so the parser validates the event line against it. Comment lines
// (":") are ignored per the SSE standard.
//
// The parser is stateful (it remembers the pending event line between
// calls) and therefore not safe for concurrent use. Create one per
// stream.
type SSEParser interface {
	// ParseLine parses a single line of SSE input, without trailing
	// newline. Returns (nil, nil) for lines that do not complete an
	// event: blank delimiters, comments, and the event-name line
	// itself.
	ParseLine(line string) (*StreamEvent, error)
}

type sseParser struct {
	pendingEvent string
}

// NewSSEParser creates a parser for one SSE stream.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	// Blank lines delimit events.
	if line == "" {
		p.pendingEvent = ""
		return nil, nil
	}

	// Comments start with ":".
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	if name, ok := cutPrefixEither(line, "event: ", "event:"); ok {
		p.pendingEvent = strings.TrimSpace(name)
		return nil, nil
	}

	payload, ok := cutPrefixEither(line, "data: ", "data:")
	if !ok {
		// Unknown field (e.g. "id:", "retry:") - ignore.
		return nil, nil
	}

	var event StreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("bad frame payload: %w", err)
	}

	if p.pendingEvent != "" && string(event.Type) != p.pendingEvent {
		return nil, fmt.Errorf("frame kind mismatch: event line %q, payload %q",
			p.pendingEvent, event.Type)
	}

	return &event, nil
}

// cutPrefixEither strips the first matching prefix. Servers differ on
// whether a space follows the field colon.
func cutPrefixEither(s, withSpace, bare string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, withSpace); ok {
		return rest, true
	}
	return strings.CutPrefix(s, bare)
}

var _ SSEParser = (*sseParser)(nil)
