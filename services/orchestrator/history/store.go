// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history provides the conversation aggregate store and the
// bounded context assembler.
//
// The store is deliberately narrow: one whole-aggregate read and one
// whole-aggregate write per subject. There is no per-thread update path;
// every mutation is a full read-modify-write of the subject's record, and
// concurrent writers race at last-writer-wins granularity.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

// aggregateKeyPrefix namespaces aggregate records so the database can
// host other record kinds later without key collisions.
const aggregateKeyPrefix = "history/"

// Store is the key-value collaborator holding conversation aggregates.
//
// Implementations must be safe for concurrent use; a single store instance
// is shared across all requests for the process lifetime.
type Store interface {
	// Get returns the subject's aggregate. A subject with no stored
	// record gets a fresh empty aggregate, not an error.
	Get(ctx context.Context, subjectID string) (*datatypes.Aggregate, error)

	// Put writes the subject's entire aggregate back.
	Put(ctx context.Context, subjectID string, aggregate *datatypes.Aggregate) error
}

// Config holds configuration for the BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists one JSON-encoded aggregate per subject under the
// key "history/<subjectID>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the store with the given configuration, creating
// the database directory if needed.
//
// The returned store must be closed with Close() to release the database.
func OpenBadgerStore(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get implements Store. A missing key yields an empty aggregate.
func (s *BadgerStore) Get(ctx context.Context, subjectID string) (*datatypes.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	aggregate := &datatypes.Aggregate{SubjectID: subjectID}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(aggregateKeyPrefix + subjectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, aggregate)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading aggregate for subject: %w", err)
	}
	// Stored records predating the SubjectID field decode without one.
	aggregate.SubjectID = subjectID
	return aggregate, nil
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, subjectID string, aggregate *datatypes.Aggregate) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	encoded, err := json.Marshal(aggregate)
	if err != nil {
		return fmt.Errorf("encoding aggregate: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(aggregateKeyPrefix+subjectID), encoded)
	})
	if err != nil {
		return fmt.Errorf("writing aggregate for subject: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
