// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

func newTestClient(serverURL string, token string) *relayClient {
	return &relayClient{baseURL: serverURL, token: token, http: &http.Client{}}
}

func writeFrame(w http.ResponseWriter, kind string, data any) {
	payload, _ := json.Marshal(map[string]any{
		"id": "frame-" + kind, "type": kind, "data": data, "createdAt": 1,
	})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload)
}

func TestStreamTurn_NewChat(t *testing.T) {
	var gotReq datatypes.StreamChatRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, "message", "Hello")
		writeFrame(w, "message", " there")
		writeFrame(w, "newChat", map[string]string{"id": gotReq.UserMessageID, "title": "Hi..."})
		writeFrame(w, "end", nil)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "secret-token")
	chat, err := streamTurn(context.Background(), client, "hi", "")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "hi", gotReq.Prompt)
	assert.NotEmpty(t, gotReq.UserMessageID)
	assert.NotEmpty(t, gotReq.AssistantMessageID)
	assert.NotEqual(t, gotReq.UserMessageID, gotReq.AssistantMessageID)

	// The new thread id comes back for the next turn.
	assert.Equal(t, gotReq.UserMessageID, chat)
}

func TestStreamTurn_KeepsExistingChatID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(w, "message", "ok")
		writeFrame(w, "end", nil)
	}))
	defer server.Close()

	chat, err := streamTurn(context.Background(), newTestClient(server.URL, ""), "hi", "chat-7")
	require.NoError(t, err)
	assert.Equal(t, "chat-7", chat)
}

func TestStreamTurn_ServerErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	}))
	defer server.Close()

	_, err := streamTurn(context.Background(), newTestClient(server.URL, ""), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestLoadAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	attachment, err := loadAttachment(path)
	require.NoError(t, err)

	assert.Equal(t, "note.txt", attachment.FileName)
	assert.Equal(t, "text/plain", attachment.MediaType)
	assert.Equal(t, int64(5), attachment.Size)
	assert.Equal(t, "aGVsbG8=", attachment.Data)
	assert.False(t, attachment.Inline)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
