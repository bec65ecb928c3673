// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package conflict records divergences between a queued local change and the
// current remote state of the same entity.
//
// A conflict is created by the sync engine when it fetches the remote record
// immediately before sending a queued UPDATE and finds a version marker that
// no longer matches the one the local change was derived from. The queued
// change stays pending until the user (or a policy) resolves the conflict;
// nothing is overwritten silently.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/models"
)

const prefixConflict = "conflict:"

// Errors returned by the registry.
var (
	// ErrConflictNotFound is returned when no conflict exists for an entity.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrInvalidAction is returned for an unknown resolution action.
	ErrInvalidAction = errors.New("invalid resolution action")
)

// Action is a user-chosen resolution for a recorded conflict.
type Action string

// Resolution actions.
const (
	// KeepLocal re-issues the queued update, overriding remote changes.
	KeepLocal Action = "keep-local"

	// KeepRemote discards the queued change and adopts remote state.
	KeepRemote Action = "keep-remote"

	// Merge replaces the queued change with a caller-supplied merged
	// payload.
	Merge Action = "merge"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case KeepLocal, KeepRemote, Merge:
		return true
	}
	return false
}

// Record captures both sides of one divergence.
type Record struct {
	EntityID string            `json:"entityId"`
	Entity   models.EntityType `json:"entity"`

	// LocalVersion is the queued local payload; RemoteVersion is the
	// remote record fetched at detection time.
	LocalVersion  json.RawMessage `json:"localVersion"`
	RemoteVersion json.RawMessage `json:"remoteVersion"`

	// QueueKey points at the pending queue entry held back by this
	// conflict.
	QueueKey string `json:"queueKey"`

	DetectedAt time.Time `json:"detectedAt"`
}

// Registry is the BadgerDB-backed conflict table.
type Registry struct {
	db *badger.DB
}

// New creates a registry over an open BadgerDB, typically shared with the
// record store.
func New(db *badger.DB) *Registry {
	return &Registry{db: db}
}

// Record upserts a conflict. At most one live conflict exists per entity ID;
// re-detecting a conflict for the same entity refreshes the remote side.
func (r *Registry) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixConflict+rec.EntityID), data)
	})
}

// Get reads the live conflict for an entity.
func (r *Registry) Get(ctx context.Context, entityID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixConflict + entityID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrConflictNotFound
		}
		if err != nil {
			return fmt.Errorf("get conflict: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every live conflict.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefixConflict)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshal conflict: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan conflicts: %w", err)
	}
	return out, nil
}

// Count returns the number of live conflicts.
func (r *Registry) Count(ctx context.Context) (int, error) {
	recs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Clear removes a conflict once its resolution has been applied.
func (r *Registry) Clear(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixConflict + entityID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrConflictNotFound
		} else if err != nil {
			return fmt.Errorf("get conflict: %w", err)
		}
		return txn.Delete(key)
	})
}
