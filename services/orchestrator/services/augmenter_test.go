// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
	"github.com/chatrelay/chatrelay/services/orchestrator/retrieval"
)

// fakeRetriever returns canned snippets or a canned error.
type fakeRetriever struct {
	snippets []retrieval.Snippet
	err      error
	queries  []string
}

func (f *fakeRetriever) Search(_ context.Context, query string) ([]retrieval.Snippet, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

func TestBuildTurn_GroundedPrompt(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{snippets: []retrieval.Snippet{
		{Content: "Orcas   hunt\nin pods.", Source: "marine.md"},
		{Content: "Kelp forests\tshelter otters.", Source: "kelp.md"},
	}}
	augmenter := NewAugmenter(fake, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Prompt: "What do orcas eat?",
		Mode:   datatypes.ModeKnowledgeBase,
	})

	assert.Equal(t, datatypes.ModeKnowledgeBase, result.Mode)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Notice)
	require.Len(t, result.Turn.Blocks, 1)

	text := result.Turn.Blocks[0].Text
	assert.Contains(t, text, "1. Orcas hunt in pods.")
	assert.Contains(t, text, "2. Kelp forests shelter otters.")
	assert.Contains(t, text, "Question: What do orcas eat?")
	// Whitespace inside snippets is collapsed.
	assert.NotContains(t, text, "\t")
	assert.NotContains(t, text, "Orcas   hunt")

	require.Len(t, fake.queries, 1)
	assert.Equal(t, "What do orcas eat?", fake.queries[0])
}

func TestBuildTurn_EmptyResultsStayKnowledgeBase(t *testing.T) {
	t.Parallel()

	augmenter := NewAugmenter(&fakeRetriever{}, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Prompt: "anything indexed?",
		Mode:   datatypes.ModeKnowledgeBase,
	})

	assert.Equal(t, datatypes.ModeKnowledgeBase, result.Mode)
	assert.False(t, result.Degraded)
	require.Len(t, result.Turn.Blocks, 1)
	assert.Equal(t, "anything indexed?", result.Turn.Blocks[0].Text)
}

func TestBuildTurn_RetrievalFailureDemotes(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{err: &retrieval.RetrievalError{Message: "hybrid search failed"}}
	augmenter := NewAugmenter(fake, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Prompt: "still answer me",
		Mode:   datatypes.ModeKnowledgeBase,
	})

	assert.Equal(t, datatypes.ModeGeneral, result.Mode)
	assert.True(t, result.Degraded)
	assert.Equal(t, DegradationNotice, result.Notice)
	require.Len(t, result.Turn.Blocks, 1)
	assert.Equal(t, "still answer me", result.Turn.Blocks[0].Text)
	assert.NotContains(t, result.Turn.Blocks[0].Text, "snippets")
}

func TestBuildTurn_AttachmentForcesGeneral(t *testing.T) {
	t.Parallel()

	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	fake := &fakeRetriever{snippets: []retrieval.Snippet{{Content: "never used"}}}
	augmenter := NewAugmenter(fake, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Prompt: "what is in this image?",
		Mode:   datatypes.ModeKnowledgeBase,
		Attachment: &datatypes.Attachment{
			FileName:  "shot.png",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(raw),
		},
	})

	assert.Equal(t, datatypes.ModeGeneral, result.Mode)
	assert.False(t, result.Degraded, "attachment routing is not a degradation")
	assert.Empty(t, fake.queries, "retrieval must not run for attachment requests")

	require.Len(t, result.Turn.Blocks, 2)
	assert.Equal(t, datatypes.BlockImage, result.Turn.Blocks[0].Type)
	assert.Equal(t, raw, result.Turn.Blocks[0].Data)
	assert.Equal(t, "what is in this image?", result.Turn.Blocks[1].Text)
}

func TestBuildTurn_AttachmentOnlyUsesDefaultPrompt(t *testing.T) {
	t.Parallel()

	augmenter := NewAugmenter(&fakeRetriever{}, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Mode: datatypes.ModeKnowledgeBase,
		Attachment: &datatypes.Attachment{
			FileName:  "notes.pdf",
			MediaType: "application/pdf",
			Data:      base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")),
		},
	})

	require.Len(t, result.Turn.Blocks, 2)
	assert.Equal(t, datatypes.BlockDocument, result.Turn.Blocks[0].Type)
	assert.Equal(t, DefaultAttachmentPrompt, result.Turn.Blocks[1].Text)
}

func TestBuildTurn_GeneralModeSkipsRetrieval(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{snippets: []retrieval.Snippet{{Content: "never used"}}}
	augmenter := NewAugmenter(fake, nil)

	result := augmenter.BuildTurn(context.Background(), &datatypes.StreamChatRequest{
		Prompt: "just chat",
		Mode:   datatypes.ModeGeneral,
	})

	assert.Equal(t, datatypes.ModeGeneral, result.Mode)
	assert.Empty(t, fake.queries)
	require.Len(t, result.Turn.Blocks, 1)
	assert.Equal(t, "just chat", result.Turn.Blocks[0].Text)
}

func TestNormalizeWhitespace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", normalizeWhitespace("  a\t\tb\n\nc  "))
	assert.Equal(t, "", normalizeWhitespace("   \n\t "))
}

func TestGroundedPromptOrdering(t *testing.T) {
	t.Parallel()

	snippets := []retrieval.Snippet{
		{Content: "first"}, {Content: "second"}, {Content: "third"},
	}
	text := groundedPrompt(snippets, "q?")

	iFirst := strings.Index(text, "1. first")
	iSecond := strings.Index(text, "2. second")
	iThird := strings.Index(text, "3. third")
	iQuestion := strings.Index(text, "Question: q?")
	require.NotEqual(t, -1, iFirst)
	assert.Less(t, iFirst, iSecond)
	assert.Less(t, iSecond, iThird)
	assert.Less(t, iThird, iQuestion)
}
