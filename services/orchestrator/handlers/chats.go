// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/services/orchestrator/history"
	"github.com/chatrelay/chatrelay/services/orchestrator/middleware"
)

// chatSummary is the sidebar projection of a thread.
type chatSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListChats returns GET /v1/chats: id and title for every thread of the
// authenticated subject, in aggregate order (newest thread first).
func ListChats(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		aggregate, err := store.Get(c.Request.Context(), authInfo.SubjectID)
		if err != nil {
			slog.Error("Failed to load chat history", "subject_id", authInfo.SubjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
			return
		}

		summaries := make([]chatSummary, 0, len(aggregate.Chats))
		for _, thread := range aggregate.Chats {
			summaries = append(summaries, chatSummary{ID: thread.ID, Title: thread.Title})
		}
		c.JSON(http.StatusOK, summaries)
	}
}

// GetChat returns GET /v1/chats/:chatId: the full message list of one
// thread. Attachments surface with their stored metadata; inline bytes
// were dropped at save time and stay dropped here.
func GetChat(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chatID := c.Param("chatId")

		aggregate, err := store.Get(c.Request.Context(), authInfo.SubjectID)
		if err != nil {
			slog.Error("Failed to load chat history", "subject_id", authInfo.SubjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		thread := aggregate.FindThread(chatID)
		if thread == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusOK, thread)
	}
}

// DeleteChat handles DELETE /v1/chats/:chatId: removes one thread from
// the subject's aggregate with a read-modify-write. Deletion granularity
// is the thread; messages inside a thread are immutable.
func DeleteChat(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chatID := c.Param("chatId")
		slog.Info("Received request to delete chat", "subject_id", authInfo.SubjectID, "chat_id", chatID)

		aggregate, err := store.Get(c.Request.Context(), authInfo.SubjectID)
		if err != nil {
			slog.Error("Failed to load chat history", "subject_id", authInfo.SubjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
			return
		}

		found := false
		for i := range aggregate.Chats {
			if aggregate.Chats[i].ID == chatID {
				aggregate.Chats = append(aggregate.Chats[:i], aggregate.Chats[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}

		if err := store.Put(c.Request.Context(), authInfo.SubjectID, aggregate); err != nil {
			slog.Error("Failed to write chat history", "subject_id", authInfo.SubjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_chat_id": chatID})
	}
}
