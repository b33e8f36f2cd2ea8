// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// makeToken builds an unsigned JWT-shaped token with the given claims.
// The header and signature segments carry arbitrary content; only the
// payload segment matters to BearerClaimsProvider.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshaling claims: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".sig"
}

func TestBearerClaimsProvider_ValidToken(t *testing.T) {
	t.Parallel()

	provider := NewBearerClaimsProvider()
	token := makeToken(t, map[string]any{
		"sub":   "user-123",
		"email": "user@example.com",
	})

	info, err := provider.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if info.SubjectID != "user-123" {
		t.Errorf("SubjectID = %q, want user-123", info.SubjectID)
	}
	if info.Email != "user@example.com" {
		t.Errorf("Email = %q, want user@example.com", info.Email)
	}
}

func TestBearerClaimsProvider_NoExpiryNeverExpires(t *testing.T) {
	t.Parallel()

	provider := &BearerClaimsProvider{
		now: func() time.Time { return time.Unix(1<<40, 0) },
	}
	token := makeToken(t, map[string]any{"sub": "user-123"})

	if _, err := provider.Validate(context.Background(), token); err != nil {
		t.Fatalf("token without exp claim rejected: %v", err)
	}
}

func TestBearerClaimsProvider_ExpiredToken(t *testing.T) {
	t.Parallel()

	provider := NewBearerClaimsProvider()
	token := makeToken(t, map[string]any{
		"sub": "user-123",
		"exp": float64(time.Now().Add(-time.Hour).Unix()),
	})

	_, err := provider.Validate(context.Background(), token)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expired token: err = %v, want ErrUnauthorized", err)
	}
}

func TestBearerClaimsProvider_FutureExpiryAccepted(t *testing.T) {
	t.Parallel()

	provider := NewBearerClaimsProvider()
	token := makeToken(t, map[string]any{
		"sub": "user-123",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	})

	if _, err := provider.Validate(context.Background(), token); err != nil {
		t.Fatalf("unexpired token rejected: %v", err)
	}
}

// TestBearerClaimsProvider_MalformedTokens verifies that every flavor of
// broken token maps to ErrUnauthorized rather than a distinct error class.
func TestBearerClaimsProvider_MalformedTokens(t *testing.T) {
	t.Parallel()

	provider := NewBearerClaimsProvider()
	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not a JWT", "just-an-opaque-string"},
		{"two segments", "aaaa.bbbb"},
		{"four segments", "a.b.c.d"},
		{"payload not base64", "head.!!!.sig"},
		{"payload not JSON", "head." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".sig"},
		{"missing sub", makeToken(t, map[string]any{"email": "x@y.z"})},
		{"empty sub", makeToken(t, map[string]any{"sub": ""})},
		{"non-string sub", makeToken(t, map[string]any{"sub": 42})},
		{"non-numeric exp", makeToken(t, map[string]any{"sub": "u", "exp": "tomorrow"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := provider.Validate(context.Background(), tc.token)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestBearerClaimsProvider_PaddedPayload(t *testing.T) {
	t.Parallel()

	provider := NewBearerClaimsProvider()
	payload, _ := json.Marshal(map[string]any{"sub": "padded-user"})
	token := "head." + base64.URLEncoding.EncodeToString(payload) + ".sig"

	info, err := provider.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("padded payload rejected: %v", err)
	}
	if info.SubjectID != "padded-user" {
		t.Errorf("SubjectID = %q, want padded-user", info.SubjectID)
	}
}

func TestNopAuthProvider(t *testing.T) {
	t.Parallel()

	provider := &NopAuthProvider{}
	info, err := provider.Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if info.SubjectID != "local-user" {
		t.Errorf("SubjectID = %q, want local-user", info.SubjectID)
	}
}
