// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

type chatSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func runChatsList(cmd *cobra.Command, args []string) {
	client := newRelayClient()

	var chats []chatSummary
	if err := client.getJSON(cmd.Context(), "/v1/chats", &chats); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(chats) == 0 {
		fmt.Println("No chats yet.")
		return
	}
	for _, chat := range chats {
		fmt.Printf("%-36s  %s\n", chat.ID, chat.Title)
	}
}

func runChatsShow(cmd *cobra.Command, args []string) {
	client := newRelayClient()

	var thread datatypes.ChatThread
	if err := client.getJSON(cmd.Context(), "/v1/chats/"+args[0], &thread); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("# %s\n\n", thread.Title)
	for _, msg := range thread.Messages {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		if msg.Attachment != nil {
			fmt.Printf("  (attachment: %s, %s, %d bytes)\n",
				msg.Attachment.FileName, msg.Attachment.MediaType, msg.Attachment.Size)
		}
		fmt.Println()
	}
}

func runChatsDelete(cmd *cobra.Command, args []string) {
	client := newRelayClient()

	if err := client.delete(cmd.Context(), "/v1/chats/"+args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Deleted chat %s\n", args[0])
}
