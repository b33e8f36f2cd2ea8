// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEParser_MessageFrame(t *testing.T) {
	t.Parallel()
	p := NewSSEParser()

	event, err := p.ParseLine("event: message")
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = p.ParseLine(`data: {"id":"f1","type":"message","data":"Hello","createdAt":1700000000000}`)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StreamEventMessage, event.Type)
	assert.Equal(t, "Hello", event.Text())
	assert.Equal(t, "f1", event.Id)
	assert.Equal(t, int64(1700000000000), event.CreatedAt)
}

func TestSSEParser_BlankAndCommentLines(t *testing.T) {
	t.Parallel()
	p := NewSSEParser()

	for _, line := range []string{"", "   ", ": keep-alive", "retry: 1000"} {
		event, err := p.ParseLine(line)
		require.NoError(t, err)
		assert.Nil(t, event, "line %q should not produce an event", line)
	}
}

func TestSSEParser_KindMismatch(t *testing.T) {
	t.Parallel()
	p := NewSSEParser()

	_, err := p.ParseLine("event: message")
	require.NoError(t, err)
	_, err = p.ParseLine(`data: {"id":"f1","type":"end","data":null}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame kind mismatch")
}

func TestSSEParser_MalformedPayload(t *testing.T) {
	t.Parallel()
	p := NewSSEParser()

	_, err := p.ParseLine("data: {not json")
	require.Error(t, err)
}

func TestSSEParser_DataWithoutSpace(t *testing.T) {
	t.Parallel()
	p := NewSSEParser()

	event, err := p.ParseLine(`data:{"id":"f1","type":"end","data":null,"createdAt":1}`)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, StreamEventEnd, event.Type)
}

func TestStreamEvent_TextOnNonString(t *testing.T) {
	t.Parallel()
	e := &StreamEvent{Data: []byte(`{"id":"c1","title":"t"}`)}
	assert.Empty(t, e.Text())
}
