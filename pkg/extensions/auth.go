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
	"fmt"
	"strings"
	"time"
)

// ErrUnauthorized is returned when authentication fails.
// Implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
//
// Required fields (always populated):
//   - SubjectID: Unique identifier for the caller
//
// Optional fields (may be empty):
//   - Email: Caller's email address
//   - Claims: Raw claims from the token payload
type AuthInfo struct {
	// SubjectID is the unique identifier for the authenticated caller.
	// This is the only required field and must never be empty.
	SubjectID string

	// Email is the caller's email address.
	// May be empty if not provided by the token.
	Email string

	// Claims holds the remaining claims from the token payload.
	// Downstream code can consult provider-specific claims here
	// without requiring changes to this struct.
	Claims map[string]any
}

// AuthProvider resolves authentication tokens to a caller identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Behavior
//
// A missing, malformed, or expired token is an authentication failure:
// implementations return an error wrapping ErrUnauthorized and the caller
// maps it to a 401 before any response body is produced.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The bearer token with the "Bearer " prefix stripped
	//
	// Returns:
	//   - *AuthInfo: Caller identity if the token yields a subject
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// BearerClaimsProvider extracts identity from the payload segment of a
// JWT-shaped bearer token.
//
// The token's signature is NOT verified. This provider runs behind a
// gateway that has already authenticated the caller; its job is identity
// resolution, not proof. The claims set must contain a non-empty "sub".
//
// An "exp" claim, when present, is honored: a token past its expiry is
// treated exactly like a missing token. Tokens without "exp" never expire
// here.
//
// Thread-safe: This implementation has no mutable state beyond the clock.
type BearerClaimsProvider struct {
	// now allows the clock to be stubbed in tests. Nil means time.Now.
	now func() time.Time
}

// NewBearerClaimsProvider returns a provider using the system clock.
func NewBearerClaimsProvider() *BearerClaimsProvider {
	return &BearerClaimsProvider{now: time.Now}
}

// Validate decodes the payload segment of the token and extracts the
// subject. Malformed tokens, undecodable payloads, missing subjects, and
// expired tokens all return ErrUnauthorized.
func (p *BearerClaimsProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token: %w", ErrUnauthorized)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token is not a three-segment JWT: %w", ErrUnauthorized)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some issuers pad the payload segment. Retry with padding
		// before rejecting.
		payload, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("payload segment is not base64url: %w", ErrUnauthorized)
		}
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token has no subject claim: %w", ErrUnauthorized)
	}

	if expiry, ok := claims["exp"]; ok {
		exp, ok := expiry.(float64)
		if !ok {
			return nil, fmt.Errorf("exp claim is not numeric: %w", ErrUnauthorized)
		}
		clock := p.now
		if clock == nil {
			clock = time.Now
		}
		if clock().After(time.Unix(int64(exp), 0)) {
			return nil, fmt.Errorf("token expired: %w", ErrUnauthorized)
		}
	}

	email, _ := claims["email"].(string)
	return &AuthInfo{
		SubjectID: sub,
		Email:     email,
		Claims:    claims,
	}, nil
}

// NopAuthProvider is the default authentication provider for local
// single-user deployments.
//
// It always returns a valid local user, enabling the service to function
// without any authentication infrastructure.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	provider := &NopAuthProvider{}
//	info, err := provider.Validate(ctx, "any-token")
//	// info.SubjectID == "local-user"
//	// err == nil
type NopAuthProvider struct{}

// Validate always returns a valid local user.
//
// The token parameter is ignored - any value (including empty string)
// results in successful authentication. This is intentional for local
// single-user deployments.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		SubjectID: "local-user",
	}, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*BearerClaimsProvider)(nil)
	_ AuthProvider = (*NopAuthProvider)(nil)
)
