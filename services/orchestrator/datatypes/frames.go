// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Stream Frame Kinds
// =============================================================================

const (
	// FrameMessage carries one model text delta. Data is the delta string.
	FrameMessage = "message"

	// FrameNewChat announces a thread created by this turn. Data is a
	// NewChatData.
	FrameNewChat = "newChat"

	// FrameInfo carries a non-fatal informational notice, such as a
	// mid-request retrieval fallback. Data is the notice string.
	FrameInfo = "info"

	// FrameWarning carries a diagnostic for a non-terminal failure, such
	// as a history write that did not land. Data is the warning string.
	FrameWarning = "warning"

	// FrameError reports a fatal stream failure. The next and final frame
	// is always FrameEnd. Data is the sanitized error string.
	FrameError = "error"

	// FrameEnd is the closing marker. Always the last frame of every
	// request that reached streaming. Data is null.
	FrameEnd = "end"
)

// =============================================================================
// Stream Frame
// =============================================================================

// StreamFrame is one unit of the push protocol.
//
// Frames are written as SSE events: the SSE event name is Type and the
// data line is the JSON serialization of the frame. Id and CreatedAt are
// assigned by the writer.
type StreamFrame struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
	CreatedAt int64  `json:"createdAt"`
}

// NewChatData is the payload of a FrameNewChat frame.
type NewChatData struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
