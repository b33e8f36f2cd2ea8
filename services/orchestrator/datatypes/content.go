// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "strings"

// Content block kinds understood by the model backends.
const (
	BlockText     = "text"
	BlockImage    = "image"
	BlockDocument = "document"
)

// ContentBlock is one unit of model input: a text fragment or decoded
// attachment bytes. Blocks are backend-neutral; each backend client maps
// them to its own wire schema.
type ContentBlock struct {
	Type      string
	Text      string
	MediaType string
	Data      []byte
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// AttachmentBlock builds an image or document block from decoded bytes.
// Media types under image/ become image blocks; everything else is a
// document block.
func AttachmentBlock(mediaType string, data []byte) ContentBlock {
	kind := BlockDocument
	if strings.HasPrefix(mediaType, "image/") {
		kind = BlockImage
	}
	return ContentBlock{Type: kind, MediaType: mediaType, Data: data}
}

// ModelMessage is one turn of model input: a role plus an ordered content
// block list.
type ModelMessage struct {
	Role   string
	Blocks []ContentBlock
}

// Text returns the concatenated text of all text blocks in the message.
func (m *ModelMessage) Text() string {
	var b strings.Builder
	for _, block := range m.Blocks {
		if block.Type == BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
