// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/base64"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Augmentation Modes
// =============================================================================

const (
	// ModeKnowledgeBase grounds generation in retrieved snippets.
	// This is the default mode.
	ModeKnowledgeBase = "knowledge_base"

	// ModeGeneral generates directly from the conversation with no
	// retrieval. Forced when the request carries an attachment, and the
	// fallback when retrieval fails mid-request.
	ModeGeneral = "general"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// streamValidate is the validator instance for streaming request types.
var streamValidate *validator.Validate

func init() {
	streamValidate = validator.New()
	_ = streamValidate.RegisterValidation("maxbytes", validatePromptBytes)
}

// validatePromptBytes enforces MaxPromptBytes on string fields. Checks byte
// length (not rune count) to bound memory use on hostile payloads.
func validatePromptBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxPromptBytes
}

// =============================================================================
// Streaming Chat Request
// =============================================================================

// StreamChatRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// One request corresponds to one conversation turn. The caller generates
// both turn message ids up front; they double as the idempotency key for
// persistence and, when no ChatID is supplied, the user message id becomes
// the id of the newly created thread.
//
// # Fields
//
//   - Prompt: The user's text. Required unless an attachment is present.
//   - ChatID: Optional. Absent signals a new thread.
//   - Mode: Optional augmentation mode. Default "knowledge_base".
//   - ModelKey: Optional model key from the fixed enumerated set.
//     Default is the lightest backend.
//   - Attachment: Optional file content block plus metadata.
//   - UserMessageID: Required. Caller-generated id for the user turn.
//   - AssistantMessageID: Required. Caller-generated id for the assistant
//     turn.
//
// # Validation
//
// Uses go-playground/validator plus a cross-field check:
//   - UserMessageID, AssistantMessageID: required
//   - Mode: empty or one of knowledge_base, general
//   - Prompt: max 32KB
//   - At least one of Prompt or Attachment must be present
//   - Inline attachment data: max 4MB decoded
//
// The model key is validated separately against the backend table so the
// enumerated set lives in one place.
type StreamChatRequest struct {
	Prompt             string      `json:"prompt" validate:"maxbytes"`
	ChatID             string      `json:"chatId"`
	Mode               string      `json:"mode" validate:"omitempty,oneof=knowledge_base general"`
	ModelKey           string      `json:"model"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	UserMessageID      string      `json:"userMessageId" validate:"required"`
	AssistantMessageID string      `json:"assistantMessageId" validate:"required"`
}

// Validate checks the request fields.
//
// Returns a non-nil error naming the failing field. Callers map any error
// to a 400 before the stream starts.
func (r *StreamChatRequest) Validate() error {
	if err := streamValidate.Struct(r); err != nil {
		return err
	}
	if r.Prompt == "" && r.Attachment == nil {
		return fmt.Errorf("request must carry prompt text or an attachment")
	}
	if r.Attachment != nil && r.Attachment.Data != "" {
		// Bound on the decoded size, computed from the encoded length so
		// nothing is decoded before the check.
		if base64.StdEncoding.DecodedLen(len(r.Attachment.Data)) > MaxAttachmentBytes {
			return fmt.Errorf("inline attachment exceeds %d bytes", MaxAttachmentBytes)
		}
	}
	return nil
}

// EnsureDefaults populates optional fields the caller omitted.
func (r *StreamChatRequest) EnsureDefaults(defaultModelKey string) {
	if r.Mode == "" {
		r.Mode = ModeKnowledgeBase
	}
	if r.ModelKey == "" {
		r.ModelKey = defaultModelKey
	}
}
