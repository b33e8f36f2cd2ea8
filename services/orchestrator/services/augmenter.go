// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the request-scoped orchestration services:
// retrieval augmentation and turn persistence.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
	"github.com/chatrelay/chatrelay/services/orchestrator/retrieval"
)

var servicesTracer = otel.Tracer("chatrelay.orchestrator.services")

// DefaultAttachmentPrompt substitutes for missing prompt text when the
// request carries only an attachment, so a turn is never content-less.
const DefaultAttachmentPrompt = "describe the attached file"

// DegradationNotice is the informational frame text sent when retrieval
// fails and the request falls back to general mode.
const DegradationNotice = "Knowledge base is temporarily unavailable; answering without retrieved context."

// groundingDirective instructs the model to answer only from the supplied
// snippets and to admit when they don't contain the answer.
const groundingDirective = "Answer the question strictly using the numbered reference snippets below. " +
	"If the snippets do not contain the answer, state that it was not found in the knowledge base."

// AugmentResult is the explicit outcome of building the new user turn.
//
// Degraded marks a mid-request fallback from knowledge_base to general
// mode; Notice carries the informational frame text for the client in
// that case. Mode is the mode the turn was actually built under and is
// what persistence records on the assistant message.
type AugmentResult struct {
	Mode     string
	Turn     datatypes.ModelMessage
	Degraded bool
	Notice   string
}

// Augmenter builds the new user turn, grounded in retrieved snippets when
// possible.
type Augmenter struct {
	retriever retrieval.Retriever
	logger    *slog.Logger
}

// NewAugmenter creates an augmenter over the given retriever.
func NewAugmenter(retriever retrieval.Retriever, logger *slog.Logger) *Augmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Augmenter{retriever: retriever, logger: logger}
}

// BuildTurn runs the augmentation state machine for one request.
//
// # Description
//
// An attachment forces general mode before retrieval is attempted: the
// retrieval path has no binary grounding. In knowledge_base mode the
// retriever is queried once with the raw prompt; non-empty results yield
// a grounded prompt (directive, numbered whitespace-normalized snippets,
// then the literal question). A retrieval failure demotes the request to
// general mode mid-flight — recorded in the result, never raised as an
// error. Empty results keep knowledge_base mode but leave the prompt
// unaugmented.
func (a *Augmenter) BuildTurn(ctx context.Context, req *datatypes.StreamChatRequest) AugmentResult {
	ctx, span := servicesTracer.Start(ctx, "Augmenter.BuildTurn")
	defer span.End()

	mode := req.Mode
	if req.Attachment != nil && mode == datatypes.ModeKnowledgeBase {
		mode = datatypes.ModeGeneral
	}
	span.SetAttributes(attribute.String("augment.mode", mode))

	if mode == datatypes.ModeKnowledgeBase {
		snippets, err := a.retriever.Search(ctx, req.Prompt)
		if err != nil {
			a.logger.Warn("Retrieval failed, demoting to general mode",
				"chat_id", req.ChatID, "error", err)
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("augment.degraded", true))
			return AugmentResult{
				Mode:     datatypes.ModeGeneral,
				Turn:     a.generalTurn(req),
				Degraded: true,
				Notice:   DegradationNotice,
			}
		}
		if len(snippets) > 0 {
			return AugmentResult{
				Mode: mode,
				Turn: datatypes.ModelMessage{
					Role:   datatypes.RoleUser,
					Blocks: []datatypes.ContentBlock{datatypes.TextBlock(groundedPrompt(snippets, req.Prompt))},
				},
			}
		}
		a.logger.Debug("Retrieval returned no snippets, proceeding unaugmented",
			"chat_id", req.ChatID)
	}

	return AugmentResult{Mode: mode, Turn: a.generalTurn(req)}
}

// generalTurn builds the unaugmented user turn: attachment block first,
// then the text prompt, substituting the default instruction when only an
// attachment was supplied.
func (a *Augmenter) generalTurn(req *datatypes.StreamChatRequest) datatypes.ModelMessage {
	var blocks []datatypes.ContentBlock

	if req.Attachment != nil && req.Attachment.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Attachment.Data)
		if err == nil {
			blocks = append(blocks, datatypes.AttachmentBlock(req.Attachment.MediaType, decoded))
		} else {
			a.logger.Warn("Attachment data is not valid base64, sending text only",
				"file_name", req.Attachment.FileName, "error", err)
		}
	}

	text := req.Prompt
	if text == "" {
		text = DefaultAttachmentPrompt
	}
	blocks = append(blocks, datatypes.TextBlock(text))

	return datatypes.ModelMessage{Role: datatypes.RoleUser, Blocks: blocks}
}

// groundedPrompt assembles the instruction-bearing prompt from snippets.
func groundedPrompt(snippets []retrieval.Snippet, question string) string {
	var b strings.Builder
	b.WriteString(groundingDirective)
	b.WriteString("\n\n")
	for i, snippet := range snippets {
		fmt.Fprintf(&b, "%d. %s\n", i+1, normalizeWhitespace(snippet.Content))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// normalizeWhitespace collapses consecutive tabs, newlines, and spaces to
// single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
