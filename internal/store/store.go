// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package store provides the durable local record store backing Daykeep.
//
// Records are kept in BadgerDB under per-entity key prefixes, with a
// secondary index mapping calendar IDs to the events they contain. The store
// is the single source of truth across restarts; the optimistic mutation
// layer's in-memory mirror is a cache over it.
//
// Writes are single-record. The store never enforces RemoteID uniqueness;
// that invariant belongs to the duplicate resolver.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
)

// Key prefixes for BadgerDB storage. The calendar index maps
// idx:event_calendar:<calendarID>:<eventID> -> eventID for range scans.
const (
	prefixEvent       = "event:"
	prefixTask        = "task:"
	prefixGoal        = "goal:"
	prefixNote        = "note:"
	prefixCalendarIdx = "idx:event_calendar:"
)

// Errors returned by store operations.
var (
	// ErrExists is returned by Add* when the identifier is already present.
	ErrExists = errors.New("record already exists")

	// ErrNotFound is returned by Get* when no record has the identifier.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// ChangeKind distinguishes write notifications from delete notifications.
type ChangeKind string

// Change kinds.
const (
	ChangePut    ChangeKind = "put"
	ChangeDelete ChangeKind = "delete"
)

// Change is the typed payload delivered to store subscribers after a
// committed write. It replaces ambient event dispatch with explicit
// observer registration.
type Change struct {
	Entity models.EntityType
	ID     string
	Kind   ChangeKind
}

// Store is the BadgerDB-backed durable record store.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

// Open creates or opens the store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", path).Msg("store opened")
	return New(db), nil
}

// New wraps an already-open BadgerDB. The caller keeps ownership of db's
// lifetime unless Close is used.
func New(db *badger.DB) *Store {
	return &Store{
		db:   db,
		subs: make(map[int]func(Change)),
	}
}

// DB exposes the underlying BadgerDB so the change queue and conflict
// registry can share one database file. Close it via Store.Close only.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close shuts the store down. Further calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	return nil
}

// Subscribe registers fn to receive change notifications. The returned
// function removes the subscription. Callbacks run synchronously after the
// committing write; they must not call back into the store's write methods.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(c)
	}
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// addRecord writes a record, failing if the key already exists.
func addRecord[T any](s *Store, ctx context.Context, key string, rec *T) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

// putRecord upserts a record.
func putRecord[T any](s *Store, ctx context.Context, key string, rec *T) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// getRecord reads a record by key.
func getRecord[T any](s *Store, ctx context.Context, key string) (*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec T
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
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

// deleteRecord removes a record. Deleting a missing key is a no-op.
func deleteRecord(s *Store, ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// listRecords scans all records under a prefix into a slice.
func listRecords[T any](s *Store, ctx context.Context, prefix string) ([]T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("store: skipping unreadable record")
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return out, nil
}
