// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage provides the durable record store for activity and
// physiology history, backed by BadgerDB.
//
// BadgerDB gives us low-latency embedded storage with transactional
// reads: each query runs inside a single read transaction, so the
// analytics engine always observes a consistent snapshot of the stored
// history even while a sync is appending.
//
// Keys are derived from record identity, which makes appends idempotent:
//
//	act:{RFC3339 timestamp}:{type}    -> ActivityRecord JSON
//	phy:{YYYY-MM-DD}                  -> PhysiologyRecord JSON
//
// Re-syncing the same records (concurrent daily and catch-up syncs
// included) rewrites the same keys and never double-counts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
)

const (
	activityPrefix   = "act:"
	physiologyPrefix = "phy:"
	dayFormat        = "2006-01-02"
)

// Config holds configuration for the record store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults (durable writes).
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests (no disk I/O).
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

// Store is the activity/physiology record store.
//
// Thread Safety: safe for concurrent use; BadgerDB serializes writes
// and read transactions see a stable snapshot.
type Store struct {
	db *badger.DB
}

// Open creates and opens a record store with the given configuration.
//
// Inputs:
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//   - *Store: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
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
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendActivities stores activity records, idempotent on
// (timestamp, type). Re-appending an already-stored record is a no-op
// in effect, which keeps overlapping daily and catch-up syncs safe.
func (s *Store) AppendActivities(records []analytics.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		key := activityKey(r)
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal activity %s: %w", key, err)
		}
		if err := wb.Set([]byte(key), value); err != nil {
			return fmt.Errorf("append activity %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush activities: %w", err)
	}
	return nil
}

// AppendPhysiology stores physiology records, at most one per day.
func (s *Store) AppendPhysiology(records []analytics.PhysiologyRecord) error {
	if len(records) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		key := physiologyKey(r)
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal physiology %s: %w", key, err)
		}
		if err := wb.Set([]byte(key), value); err != nil {
			return fmt.Errorf("append physiology %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush physiology: %w", err)
	}
	return nil
}

// Activities returns all stored activities with timestamps at or before
// until, ascending by timestamp. The read runs in one transaction so
// the result is a consistent snapshot.
func (s *Store) Activities(until time.Time) ([]analytics.ActivityRecord, error) {
	var records []analytics.ActivityRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(activityPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record analytics.ActivityRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if record.Timestamp.After(until) {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort lexicographically by RFC3339 timestamp, which is
	// chronological within one UTC offset; sort anyway so mixed-offset
	// histories still come out ascending.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// Physiology returns the most recent limit physiology records with
// days at or before until, ascending by day.
func (s *Store) Physiology(until time.Time, limit int) ([]analytics.PhysiologyRecord, error) {
	var records []analytics.PhysiologyRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(physiologyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record analytics.PhysiologyRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if record.Day().After(until) {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func activityKey(r analytics.ActivityRecord) string {
	return activityPrefix + r.Timestamp.UTC().Format(time.RFC3339) + ":" + r.Type
}

func physiologyKey(r analytics.PhysiologyRecord) string {
	return physiologyPrefix + r.Day().Format(dayFormat)
}
