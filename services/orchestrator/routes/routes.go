// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay/chatrelay/pkg/extensions"
	"github.com/chatrelay/chatrelay/services/orchestrator/handlers"
	"github.com/chatrelay/chatrelay/services/orchestrator/history"
	"github.com/chatrelay/chatrelay/services/orchestrator/middleware"
)

// SetupRoutes registers all HTTP routes. Health and metrics are open;
// everything under /v1 requires a bearer credential.
func SetupRoutes(router *gin.Engine, provider extensions.AuthProvider,
	store history.Store, chatStream handlers.ChatStreamHandler) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", middleware.AuthMiddleware(provider))
	{
		v1.POST("/chat/stream", chatStream.HandleChatStream)
		// Sidebar administration routes
		chats := v1.Group("/chats")
		{
			chats.GET("", handlers.ListChats(store))
			chats.GET("/:chatId", handlers.GetChat(store))
			chats.DELETE("/:chatId", handlers.DeleteChat(store))
		}
	}
}
