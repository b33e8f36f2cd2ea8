// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"context"
	"encoding/base64"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("chatrelay.history")

// WindowSize is the number of trailing thread messages sent to the model
// as context. The window may grow to WindowSize+1 when the cut would
// otherwise start on an assistant message (see Assemble).
const WindowSize = 10

// Assembler builds the bounded conversation context for a request.
type Assembler struct {
	store  Store
	logger *slog.Logger
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(store Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: store, logger: logger}
}

// Assemble returns the windowed context of the given thread as model
// content blocks, oldest first.
//
// # Description
//
// Reads the subject's aggregate and applies the history window rule: the
// last WindowSize messages, never starting on an assistant message whose
// immediately preceding user message was cut — that one user message is
// restored, making the window up to WindowSize+1 long.
//
// A missing thread id, an unknown thread id, and a storage read failure
// all yield an empty context. The read failure is logged and the request
// proceeds without history rather than aborting.
func (a *Assembler) Assemble(ctx context.Context, subjectID, chatID string) []datatypes.ModelMessage {
	ctx, span := tracer.Start(ctx, "Assembler.Assemble")
	defer span.End()

	if chatID == "" {
		return nil
	}

	aggregate, err := a.store.Get(ctx, subjectID)
	if err != nil {
		a.logger.Warn("History read failed, proceeding without context",
			"subject_id", subjectID, "chat_id", chatID, "error", err)
		span.RecordError(err)
		return nil
	}

	thread := aggregate.FindThread(chatID)
	if thread == nil {
		// A thread id for a not-yet-created thread is not an error; the
		// thread materializes at persistence time.
		return nil
	}

	windowed := ApplyWindow(thread.Messages)
	span.SetAttributes(
		attribute.Int("history.thread_len", len(thread.Messages)),
		attribute.Int("history.window_len", len(windowed)),
	)

	out := make([]datatypes.ModelMessage, 0, len(windowed))
	for _, msg := range windowed {
		blocks := toBlocks(msg)
		if len(blocks) == 0 {
			continue
		}
		out = append(out, datatypes.ModelMessage{Role: msg.Role, Blocks: blocks})
	}
	return out
}

// ApplyWindow returns the trailing WindowSize messages, restoring the
// single preceding user message when the cut would start on an assistant
// message.
func ApplyWindow(messages []datatypes.Message) []datatypes.Message {
	if len(messages) <= WindowSize {
		return messages
	}
	start := len(messages) - WindowSize
	if messages[start].Role == datatypes.RoleAssistant {
		start--
	}
	return messages[start:]
}

// toBlocks converts one stored message into model content blocks: a text
// block when content is non-empty, plus, for user messages, an attachment
// block when the stored attachment still carries decodable inline data.
func toBlocks(msg datatypes.Message) []datatypes.ContentBlock {
	var blocks []datatypes.ContentBlock

	if msg.Role == datatypes.RoleUser && msg.Attachment != nil && msg.Attachment.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.Attachment.Data)
		if err == nil {
			blocks = append(blocks, datatypes.AttachmentBlock(msg.Attachment.MediaType, decoded))
		} else {
			slog.Debug("Skipping undecodable stored attachment",
				"message_id", msg.ID, "error", err)
		}
	}
	if msg.Content != "" {
		blocks = append(blocks, datatypes.TextBlock(msg.Content))
	}
	return blocks
}
