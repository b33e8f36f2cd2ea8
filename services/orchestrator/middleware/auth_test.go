// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/chatrelay/chatrelay/pkg/extensions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider records the token it was handed and returns canned results.
type stubProvider struct {
	gotToken string
	info     *extensions.AuthInfo
	err      error
}

func (s *stubProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	s.gotToken = token
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func newAuthRouter(provider extensions.AuthProvider) *gin.Engine {
	router := gin.New()
	router.GET("/whoami", AuthMiddleware(provider), func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no auth info"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": info.SubjectID})
	})
	return router
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{info: &extensions.AuthInfo{SubjectID: "user-7"}}
	router := newAuthRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", provider.gotToken)
	assert.Contains(t, rec.Body.String(), "user-7")
}

func TestAuthMiddleware_MissingHeaderIs401(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: extensions.ErrUnauthorized}
	router := newAuthRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, provider.gotToken)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestAuthMiddleware_ProviderErrorIs401(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: assert.AnError}
	router := newAuthRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_BearerClaimsEndToEnd(t *testing.T) {
	t.Parallel()

	router := newAuthRouter(extensions.NewBearerClaimsProvider())

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"subject-42"}`))
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	token := header + "." + payload + ".sig"

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subject-42")
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"no token", "Bearer", ""},
		{"padded token", "Bearer   abc123  ", "abc123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, extractBearerToken(c))
		})
	}
}
