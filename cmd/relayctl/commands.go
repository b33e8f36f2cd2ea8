// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL  string
	authToken  string
	modelKey   string
	chatMode   string
	chatID     string
	attachPath string

	rootCmd = &cobra.Command{
		Use:   "relayctl",
		Short: "A cli for the ChatRelay streaming chat service",
		Long: `relayctl talks to a running chatrelay orchestrator: it streams
chat turns over SSE and manages the chat sidebar.`,
	}

	chatCmd = &cobra.Command{
		Use:   "chat [question]",
		Short: "Stream one chat turn, or start an interactive session when no question is given",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	chatsCmd = &cobra.Command{
		Use:   "chats",
		Short: "Manage the chat sidebar",
	}
	chatsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List chat threads, newest first",
		Run:   runChatsList, // Defined in cmd_chats.go
	}
	chatsShowCmd = &cobra.Command{
		Use:   "show [chat-id]",
		Short: "Print the full transcript of one chat thread",
		Args:  cobra.ExactArgs(1),
		Run:   runChatsShow, // Defined in cmd_chats.go
	}
	chatsDeleteCmd = &cobra.Command{
		Use:   "delete [chat-id]",
		Short: "Delete one chat thread",
		Args:  cobra.ExactArgs(1),
		Run:   runChatsDelete, // Defined in cmd_chats.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Orchestrator base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "",
		"Bearer token for /v1 requests")

	chatCmd.Flags().StringVar(&chatID, "chat", "",
		"Continue an existing chat thread")
	chatCmd.Flags().StringVar(&modelKey, "model", "",
		"Model key: claude-haiku, claude-sonnet, nova-lite, nova-pro")
	chatCmd.Flags().StringVar(&chatMode, "mode", "",
		"Augmentation mode: knowledge_base or general")
	chatCmd.Flags().StringVar(&attachPath, "attach", "",
		"Attach a file to the turn (forces general mode)")

	rootCmd.AddCommand(chatCmd)
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	rootCmd.AddCommand(chatsCmd)
}
