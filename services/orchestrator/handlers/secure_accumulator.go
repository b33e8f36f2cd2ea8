// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the chat service.
//
// This file implements secure delta accumulation for streaming responses.
// Deltas are stored in mlocked memory so the full answer never swaps to
// disk, and are incrementally hashed for integrity logging.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the capacity of the mlocked buffer. 512 KB holds
	// roughly 131k tokens at 4 bytes per token, well past any single answer.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK required, in kilobytes.
	MinMlockLimitKB = 512

	// insecureMemoryEnv acknowledges running without mlocked memory.
	insecureMemoryEnv = "CHATRELAY_INSECURE_MEMORY"
)

var (
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization.
	mlockSufficient bool

	currentMlockLimitKB int64
)

// DeltaAccumulator collects streamed answer deltas for persistence.
//
// # Description
//
// Deltas are appended in arrival order and hashed incrementally. Finalize
// hands back the complete answer plus its SHA-256 and wipes the buffer;
// Destroy wipes without returning data, for error paths. Neither can be
// called twice.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type DeltaAccumulator interface {
	// Append adds one delta to the accumulator.
	Append(delta string) error

	// Finalize returns the accumulated answer and its hex SHA-256, then
	// wipes the buffer. Single use.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes memory without returning data. Idempotent.
	Destroy()

	// ID returns the accumulator's instance id for logging.
	ID() string
}

// secureDeltaAccumulator stores deltas in a memguard LockedBuffer: mlocked
// against swap, guard-paged, wiped on destroy.
type secureDeltaAccumulator struct {
	id        string
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// insecureDeltaAccumulator is the fallback for systems without sufficient
// mlock limits, enabled only with CHATRELAY_INSECURE_MEMORY=true. Same
// behavior on plain Go memory; wiping is best-effort under the GC.
type insecureDeltaAccumulator struct {
	id        string
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// NewDeltaAccumulator creates an accumulator for one stream.
//
// Allocates a mlocked buffer when RLIMIT_MEMLOCK permits. Otherwise the
// insecure fallback is used when CHATRELAY_INSECURE_MEMORY=true, and an
// error is returned when it is not.
func NewDeltaAccumulator() (DeltaAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			slog.Warn("Using insecure delta accumulator, mlock limit insufficient",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newInsecureDeltaAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB. Raise the limit or set %s=true",
			currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
		)
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	return &secureDeltaAccumulator{
		id:     uuid.New().String(),
		buffer: buf,
		hasher: sha256.New(),
	}, nil
}

func newInsecureDeltaAccumulator() DeltaAccumulator {
	return &insecureDeltaAccumulator{
		id:     uuid.New().String(),
		data:   make([]byte, 0, SecureBufferSize),
		hasher: sha256.New(),
	}
}

// =============================================================================
// secureDeltaAccumulator
// =============================================================================

func (a *secureDeltaAccumulator) Append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow, response too large")
	}

	deltaBytes := []byte(delta)
	if a.offset+len(deltaBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(deltaBytes), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], deltaBytes)
	a.offset += len(deltaBytes)
	a.hasher.Write(deltaBytes)
	return nil
}

func (a *secureDeltaAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized delta accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, hashStr, nil
}

func (a *secureDeltaAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *secureDeltaAccumulator) ID() string { return a.id }

func (a *secureDeltaAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// insecureDeltaAccumulator
// =============================================================================

func (a *insecureDeltaAccumulator) Append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow, response too large")
	}

	deltaBytes := []byte(delta)
	if len(a.data)+len(deltaBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(deltaBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, deltaBytes...)
	a.hasher.Write(deltaBytes)
	return nil
}

func (a *insecureDeltaAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureDeltaAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *insecureDeltaAccumulator) ID() string { return a.id }

func (a *insecureDeltaAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Initialization
// =============================================================================

// initMemguard performs one-time memguard setup and records whether the
// mlock limit can hold a secure buffer.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"override", insecureMemoryEnv+"=true",
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK. Returns sufficiency plus the
// current limit in KB (-1 when unlimited or unknown).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes all memguard allocations. Called during
// graceful shutdown; existing LockedBuffers are invalid afterwards.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

var (
	_ DeltaAccumulator = (*secureDeltaAccumulator)(nil)
	_ DeltaAccumulator = (*insecureDeltaAccumulator)(nil)
)
