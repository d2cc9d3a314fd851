// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package cache persists the merged trace dataset between sync cycles.
//
// The entire dataset for a user is one versioned snapshot under a single
// BadgerDB key. A cycle either commits a complete new snapshot or leaves the
// previous one untouched; there is no partial state to recover from.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/velohome/velosync/internal/geovelo"
	"github.com/velohome/velosync/internal/logging"
)

// CurrentSchemaVersion is written on every save. Version 1 snapshots stored
// geometry, elevations and speeds as gzip-then-base64 strings; version 2
// stores them as raw JSON.
const CurrentSchemaVersion = 2

const traceKeyPrefix = "traces:"

// Snapshot is the persisted form of a user's merged trace dataset.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	UserID        int64           `json:"user_id"`
	SavedAt       time.Time       `json:"saved_at"`
	Traces        []geovelo.Trace `json:"traces"`
}

// Store reads and writes trace snapshots in BadgerDB.
type Store struct {
	db *badger.DB
}

// NewStore creates a snapshot store over an already-open BadgerDB handle.
// The caller owns the handle's lifecycle.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens the BadgerDB at path with the options the snapshot store needs.
// Callers pass the returned handle to NewStore and close it on shutdown.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logger is too chatty at default levels
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %s: %w", path, err)
	}
	return db, nil
}

func traceKey(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%d", traceKeyPrefix, userID))
}

// Load retrieves the snapshot for a user.
//
// A missing key is the normal first-run case and returns (nil, nil). A
// decode failure returns the error; the caller decides whether to proceed
// from an empty baseline.
func (s *Store) Load(ctx context.Context, userID int64) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return badger.ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			raw = append(raw, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot for user %d: %w", userID, err)
	}

	if snapshot.SchemaVersion < CurrentSchemaVersion {
		normalizeLegacySnapshot(&snapshot)
	}

	return &snapshot, nil
}

// Save writes the snapshot, stamping the current schema version and save
// time. The Badger transaction commit makes the replacement atomic.
func (s *Store) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot.SchemaVersion = CurrentSchemaVersion
	snapshot.SavedAt = time.Now().UTC()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for user %d: %w", snapshot.UserID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(traceKey(snapshot.UserID), data)
	})
	if err != nil {
		return fmt.Errorf("write snapshot for user %d: %w", snapshot.UserID, err)
	}

	logging.Debug().Int64("user_id", snapshot.UserID).Int("traces", len(snapshot.Traces)).Msg("Saved trace snapshot")
	return nil
}

// Remove deletes the snapshot for a user. Deleting an absent key is not an
// error.
func (s *Store) Remove(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(traceKey(userID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove snapshot for user %d: %w", userID, err)
	}
	return nil
}

// RunGC runs Badger's value log garbage collection periodically until the
// context ends. Badger returns an error when there was nothing to collect;
// that is the common case and not logged.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err == nil {
				logging.Debug().Msg("Badger value log GC reclaimed space")
			}
		}
	}
}
