// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the persisted conversation model: messages, threads,
// and the per-subject aggregate. For the streaming request types, see
// stream.go.
package datatypes

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// RoleUser marks a message authored by the caller.
	RoleUser = "user"

	// RoleAssistant marks a message generated by a model backend.
	RoleAssistant = "assistant"

	// MaxTitleRunes is the maximum rune length of a derived thread title
	// before truncation.
	MaxTitleRunes = 30

	// TitleEllipsis is appended to titles that were truncated.
	TitleEllipsis = "..."

	// MaxPromptBytes is the maximum size of a single prompt.
	// Checked in byte length (not rune count) to bound memory use.
	MaxPromptBytes = 32 * 1024 // 32KB

	// MaxAttachmentBytes is the maximum size of inline attachment data
	// after base64 decoding.
	MaxAttachmentBytes = 4 * 1024 * 1024 // 4MB
)

// =============================================================================
// Persisted Conversation Model
// =============================================================================

// Message is one immutable conversation turn.
//
// # Description
//
// Messages carry a caller-supplied id that is unique within a thread. The
// id pair of a turn (user message id plus assistant message id) is the
// idempotency key for persistence: replaying a request with the same ids
// must not duplicate the turn.
//
// # Fields
//
//   - ID: Required. Caller-generated identifier, unique within a thread.
//   - Role: Required. Either "user" or "assistant".
//   - Content: The message text. May be empty for attachment-only user turns
//     only transiently; persistence substitutes a placeholder before saving.
//   - Attachment: Optional. File metadata for user messages. Inline bytes
//     are not persisted; only the metadata and object reference survive.
//   - Mode: Assistant-only provenance tag recording the augmentation mode
//     the turn was generated under.
//   - ModelKey: Assistant-only provenance tag recording the model key used.
//   - Timestamp: Unix milliseconds (UTC) when the message was appended.
type Message struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Mode       string      `json:"mode,omitempty"`
	ModelKey   string      `json:"modelKey,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
}

// Attachment describes a file accompanying a user message.
//
// # Description
//
// An attachment either references an object in external storage (ObjectKey
// set) or carried its bytes inline with the request (Data set, Inline true
// once persisted). Inline bytes are a transport detail: they are dropped at
// persistence time and the Inline flag records that the content is not
// retrievable later.
//
// # Fields
//
//   - FileName: Original file name as supplied by the caller.
//   - MediaType: MIME type, e.g. "image/png" or "application/pdf".
//   - Size: Size in bytes of the original file.
//   - ObjectKey: Object-storage reference, when the file was uploaded
//     out-of-band. Mutually exclusive with Data.
//   - Data: Base64-encoded inline bytes. Never persisted.
//   - Inline: Persisted marker meaning the bytes arrived inline and were
//     discarded; the attachment content cannot be re-fetched.
type Attachment struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	ObjectKey string `json:"objectKey,omitempty"`
	Data      string `json:"data,omitempty"`
	Inline    bool   `json:"inline,omitempty"`
}

// StripInlineData returns a copy of the attachment suitable for
// persistence: inline bytes removed and the Inline marker set.
func (a *Attachment) StripInlineData() *Attachment {
	if a == nil {
		return nil
	}
	stored := *a
	if stored.Data != "" {
		stored.Data = ""
		stored.Inline = true
	}
	return &stored
}

// ChatThread is one ordered conversation.
//
// Messages are append-only; insertion order is conversation order.
type ChatThread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt,omitempty"`
}

// ContainsMessage reports whether a message with the given id is already
// present in the thread. Used for idempotent append.
func (t *ChatThread) ContainsMessage(id string) bool {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// Aggregate holds the entire conversation history of one subject.
//
// # Description
//
// One aggregate exists per subject identifier and every mutation is a full
// read-modify-write of the whole record. Threads are ordered most recently
// created first. Two concurrent writers race at last-writer-wins
// granularity; there is no concurrency token.
type Aggregate struct {
	SubjectID string       `json:"subjectId"`
	Chats     []ChatThread `json:"chats"`
}

// FindThread returns the thread with the given id, or nil.
func (a *Aggregate) FindThread(id string) *ChatThread {
	for i := range a.Chats {
		if a.Chats[i].ID == id {
			return &a.Chats[i]
		}
	}
	return nil
}

// PrependThread inserts a thread at the head of the chat sequence.
func (a *Aggregate) PrependThread(thread ChatThread) {
	a.Chats = append([]ChatThread{thread}, a.Chats...)
}

// DeriveTitle builds a thread title from prompt text: the first
// MaxTitleRunes runes, with TitleEllipsis appended when the prompt was
// longer. Counts runes, not bytes, so multi-byte prompts truncate cleanly.
func DeriveTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) <= MaxTitleRunes {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:MaxTitleRunes]) + TitleEllipsis
}
