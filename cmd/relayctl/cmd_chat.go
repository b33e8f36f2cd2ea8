// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/ux"
	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	client := newRelayClient()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	currentChat := chatID

	// One-shot: question on the command line.
	if len(args) > 0 {
		question := strings.Join(args, " ")
		if _, err := streamTurn(ctx, client, question, currentChat); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	// Interactive session.
	fmt.Println("ChatRelay interactive session. /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		chat, err := streamTurn(ctx, client, line, currentChat)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		currentChat = chat
		// Attachments apply to the first turn only.
		attachPath = ""
	}
}

// streamTurn sends one turn and renders the streamed answer. Returns
// the chat id to use for the next turn.
func streamTurn(ctx context.Context, client *relayClient, prompt, chat string) (string, error) {
	req := datatypes.StreamChatRequest{
		Prompt:             prompt,
		ChatID:             chat,
		Mode:               firstNonEmpty(chatMode, config.Mode),
		ModelKey:           firstNonEmpty(modelKey, config.Model),
		UserMessageID:      uuid.New().String(),
		AssistantMessageID: uuid.New().String(),
	}

	if attachPath != "" {
		attachment, err := loadAttachment(attachPath)
		if err != nil {
			return chat, err
		}
		req.Attachment = attachment
	}

	resp, err := client.stream(ctx, "/v1/chat/stream", &req)
	if err != nil {
		return chat, err
	}
	defer resp.Body.Close()

	result, err := ux.NewStreamProcessor().Process(resp.Body)
	if err != nil {
		return chat, err
	}

	if result.NewChat {
		fmt.Fprintf(os.Stderr, "[chat %s] %s\n", result.ChatID, result.Title)
		return result.ChatID, nil
	}
	return chat, nil
}

// loadAttachment reads a local file into an inline attachment.
func loadAttachment(path string) (*datatypes.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}

	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	// Strip parameters like "; charset=utf-8".
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	return &datatypes.Attachment{
		FileName:  filepath.Base(path),
		MediaType: mediaType,
		Size:      int64(len(data)),
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}
