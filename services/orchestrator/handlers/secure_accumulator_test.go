// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAccumulator prefers the insecure implementation so tests don't
// depend on the host's mlock limits.
func newAccumulator(t *testing.T) DeltaAccumulator {
	t.Helper()
	acc := newInsecureDeltaAccumulator()
	t.Cleanup(acc.Destroy)
	return acc
}

func TestAccumulator_AppendAndFinalize(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	require.NoError(t, acc.Append("Hel"))
	require.NoError(t, acc.Append("lo"))
	require.NoError(t, acc.Append("!"))

	answer, hashStr, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", answer)

	want := sha256.Sum256([]byte("Hello!"))
	assert.Equal(t, hex.EncodeToString(want[:]), hashStr)
}

func TestAccumulator_FinalizeTwiceFails(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	require.NoError(t, acc.Append("once"))
	_, _, err := acc.Finalize()
	require.NoError(t, err)

	_, _, err = acc.Finalize()
	assert.ErrorContains(t, err, "destroyed")
}

func TestAccumulator_AppendAfterDestroyFails(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	acc.Destroy()
	assert.ErrorContains(t, acc.Append("late"), "destroyed")
}

func TestAccumulator_DestroyIsIdempotent(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	acc.Destroy()
	acc.Destroy()
}

func TestAccumulator_Overflow(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	big := strings.Repeat("x", SecureBufferSize+1)
	err := acc.Append(big)
	require.ErrorContains(t, err, "overflow")

	// The stream is poisoned: no further writes, no finalize.
	assert.Error(t, acc.Append("more"))
	_, _, err = acc.Finalize()
	assert.Error(t, err)
}

func TestAccumulator_EmptyAnswer(t *testing.T) {
	t.Parallel()

	acc := newAccumulator(t)
	answer, hashStr, err := acc.Finalize()
	require.NoError(t, err)
	assert.Empty(t, answer)

	want := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(want[:]), hashStr)
}

func TestAccumulator_HasIdentity(t *testing.T) {
	t.Parallel()

	a := newAccumulator(t)
	b := newAccumulator(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
