// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
	"github.com/chatrelay/chatrelay/services/orchestrator/history"
)

// PersistResult reports what persistence did with the completed turn.
//
// NewChat is true when this turn created the thread; ChatID and Title are
// then the values the client needs to render the new conversation entry.
type PersistResult struct {
	NewChat bool
	ChatID  string
	Title   string
}

// ChatPersistence appends completed turns to the per-subject aggregate.
//
// Every save re-reads the aggregate fresh so the append lands on the
// latest stored state, and the pair append is idempotent by message id:
// replaying a request whose ids already landed is a no-op.
type ChatPersistence struct {
	store  history.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewChatPersistence creates a persistence service over the given store.
func NewChatPersistence(store history.Store, logger *slog.Logger) *ChatPersistence {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatPersistence{store: store, logger: logger, now: time.Now}
}

// SaveTurn appends the user/assistant message pair for one completed turn.
//
// # Description
//
// The aggregate is read fresh, the target thread is located or created,
// and the message pair is appended only if neither message id is already
// present in the thread. When the request carried no chat id, a new thread is
// created whose id is the user message id. A supplied chat id that does
// not match any stored thread also creates a new thread under that id,
// so clients may mint thread ids ahead of the first turn. In both create
// cases the result reports NewChat with the derived title.
//
// The prompt stored for an attachment-only request is the same default
// instruction the model saw. Inline attachment bytes are stripped before
// storage.
func (p *ChatPersistence) SaveTurn(ctx context.Context, subjectID string, req *datatypes.StreamChatRequest, answer, mode string) (*PersistResult, error) {
	ctx, span := servicesTracer.Start(ctx, "ChatPersistence.SaveTurn")
	defer span.End()

	aggregate, err := p.store.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = req.UserMessageID
	}
	span.SetAttributes(attribute.String("chat.id", chatID))

	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultAttachmentPrompt
	}

	result := &PersistResult{ChatID: chatID}
	thread := aggregate.FindThread(chatID)
	if thread == nil {
		aggregate.PrependThread(datatypes.ChatThread{
			ID:        chatID,
			Title:     datatypes.DeriveTitle(prompt),
			CreatedAt: p.now().UnixMilli(),
		})
		thread = aggregate.FindThread(chatID)
		result.NewChat = true
		result.Title = thread.Title
	}

	var attachment *datatypes.Attachment
	if req.Attachment != nil {
		attachment = req.Attachment.StripInlineData()
	}

	// The pair is appended only when neither id is present. A partial
	// collision (one id stored, the other not) is also a no-op: appending
	// the fresh half alone would store a lone message and break the
	// user/assistant alternation the history window relies on.
	if !thread.ContainsMessage(req.UserMessageID) && !thread.ContainsMessage(req.AssistantMessageID) {
		thread.Messages = append(thread.Messages, datatypes.Message{
			ID:         req.UserMessageID,
			Role:       datatypes.RoleUser,
			Content:    prompt,
			Attachment: attachment,
			Timestamp:  p.now().UnixMilli(),
		}, datatypes.Message{
			ID:        req.AssistantMessageID,
			Role:      datatypes.RoleAssistant,
			Content:   answer,
			Mode:      mode,
			ModelKey:  req.ModelKey,
			Timestamp: p.now().UnixMilli(),
		})
	}

	if err := p.store.Put(ctx, subjectID, aggregate); err != nil {
		return nil, fmt.Errorf("writing chat history: %w", err)
	}
	return result, nil
}
