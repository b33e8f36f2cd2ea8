// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the chat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it with the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// Any validation failure aborts the request with 401 before a response
// body or stream has started. A missing header presents as an empty token,
// which the bearer provider rejects on the same path.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/pkg/extensions"
)

// authInfoKey is the context key for storing AuthInfo. A dedicated key
// prevents collisions with other context values.
const authInfoKey = "chatrelay_auth_info"

// SetAuthInfo stores the authenticated subject's info in the Gin context.
//
// Called by AuthMiddleware after successful validation; handlers retrieve
// it via GetAuthInfo. Request-scoped, so overwriting is harmless.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated subject's info from the Gin
// context. Returns nil when the request was not authenticated or the
// stored value has the wrong type.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header and validates
// it with the provided AuthProvider. Every failure mode — missing header,
// malformed token, expired claims, provider error — collapses to a single
// 401 response so callers learn nothing about which check failed.
//
// # Inputs
//
//   - provider: AuthProvider used to validate tokens. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use on a route group.
//
// Validation runs on every request; results are not cached.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken parses the Authorization header, expecting
// "Bearer <token>". Returns empty string when the header is missing or
// malformed. The scheme is matched case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
