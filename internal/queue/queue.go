// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package queue provides the durable outbound change queue.
//
// Every optimistic mutation appends a change entry here before the sync
// engine confirms it against the remote calendar service. Entries are stored
// in BadgerDB under per-entity monotonic sequence keys, so iteration order is
// enqueue order and the FIFO-per-entity dispatch guarantee falls out of the
// key layout. An entry leaves the queue only on confirmed remote success or
// explicit abandonment after exhausting retries; failures increment the
// attempt count and record the last error, never drop the entry.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
)

const (
	prefixEntry = "cq:"
	prefixSeq   = "cqseq:"

	// seqBandwidth is how many sequence numbers badger leases at a time.
	seqBandwidth = 64
)

// Errors returned by queue operations.
var (
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrEntryNotFound is returned when a queue key does not exist.
	ErrEntryNotFound = errors.New("queue entry not found")
)

// Entry is one durable pending change.
type Entry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`

	// Key is the badger key the entry lives under. Derived from the
	// per-entity sequence at enqueue time; not part of the stored value.
	Key string `json:"-"`

	// Entity and EntityID name the record the change applies to.
	Entity   models.EntityType `json:"entity"`
	EntityID string            `json:"entityId"`

	// Op is the queued operation.
	Op models.Operation `json:"op"`

	// Payload is the serialized record as of mutation time.
	Payload json.RawMessage `json:"payload,omitempty"`

	// BaseVersion is the remote version marker (etag) the change was
	// derived from. The dispatcher compares it against the current remote
	// version before sending an UPDATE.
	BaseVersion string `json:"baseVersion,omitempty"`

	// EnqueuedAt is when the change was queued.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// Attempts counts failed dispatch attempts.
	Attempts int `json:"attempts"`

	// LastAttemptAt is the time of the last dispatch attempt.
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`

	// LastError is the message from the last failed attempt.
	LastError string `json:"lastError,omitempty"`

	// Abandoned marks an entry retained after exhausting retries. It is
	// excluded from dispatch but stays visible until the user discards it.
	Abandoned bool `json:"abandoned,omitempty"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats summarizes queue state for the sync-status surface.
type Stats struct {
	Pending   int `json:"pending"`
	Abandoned int `json:"abandoned"`
}

// Queue is the BadgerDB-backed change queue.
type Queue struct {
	db *badger.DB

	mu     sync.Mutex
	seqs   map[models.EntityType]*badger.Sequence
	closed bool
}

// New creates a queue over an open BadgerDB, typically shared with the
// record store.
func New(db *badger.DB) *Queue {
	return &Queue{
		db:   db,
		seqs: make(map[models.EntityType]*badger.Sequence),
	}
}

// Close releases the sequence leases. The underlying DB is not closed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var firstErr error
	for entity, seq := range q.seqs {
		if err := seq.Release(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release sequence %s: %w", entity, err)
		}
	}
	return firstErr
}

func entryPrefix(entity models.EntityType) string {
	return prefixEntry + string(entity) + ":"
}

// nextKey reserves the next FIFO key for an entity type.
func (q *Queue) nextKey(entity models.EntityType) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	seq, ok := q.seqs[entity]
	if !ok {
		var err error
		seq, err = q.db.GetSequence([]byte(prefixSeq+string(entity)), seqBandwidth)
		if err != nil {
			return "", fmt.Errorf("get sequence: %w", err)
		}
		q.seqs[entity] = seq
	}

	n, err := seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	// Fixed-width hex keeps lexicographic order aligned with numeric order.
	return fmt.Sprintf("%s%016x", entryPrefix(entity), n), nil
}

// Enqueue appends a change entry and returns its badger key.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !e.Entity.Valid() {
		return "", fmt.Errorf("invalid entity type %q", e.Entity)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}

	key, err := q.nextKey(e.Entity)
	if err != nil {
		return "", err
	}
	e.Key = key

	data, err := json.Marshal(&e)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}

	logging.Debug().
		Str("key", key).
		Str("entity", string(e.Entity)).
		Str("entity_id", e.EntityID).
		Str("op", string(e.Op)).
		Msg("change enqueued")
	return key, nil
}

// Pending returns the non-abandoned entries for one entity type in enqueue
// order.
func (q *Queue) Pending(ctx context.Context, entity models.EntityType) ([]Entry, error) {
	return q.scan(ctx, entryPrefix(entity), func(e *Entry) bool { return !e.Abandoned })
}

// Abandoned returns every retained entry that exhausted its retries.
func (q *Queue) Abandoned(ctx context.Context) ([]Entry, error) {
	return q.scan(ctx, prefixEntry, func(e *Entry) bool { return e.Abandoned })
}

func (q *Queue) scan(ctx context.Context, prefix string, keep func(*Entry) bool) ([]Entry, error) {
	var out []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("queue: skipping unreadable entry")
				continue
			}
			e.Key = string(it.Item().KeyCopy(nil))
			if keep(&e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	return out, nil
}

// Get reads one entry by key.
func (q *Queue) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var e Entry
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return nil, err
	}
	e.Key = key
	return &e, nil
}

// MarkAttempt records a failed dispatch attempt on an entry.
func (q *Queue) MarkAttempt(ctx context.Context, key, lastError string) error {
	return q.mutate(ctx, key, func(e *Entry) {
		e.Attempts++
		e.LastAttemptAt = time.Now().UTC()
		e.LastError = lastError
	})
}

// MarkAbandoned flags an entry as abandoned. The entry is retained and
// surfaced through Abandoned until explicitly discarded.
func (q *Queue) MarkAbandoned(ctx context.Context, key string) error {
	return q.mutate(ctx, key, func(e *Entry) {
		e.Abandoned = true
	})
}

// Rebase replaces an entry's base version. Used when an earlier change to
// the same record confirms and advances the remote version the entry was
// derived from.
func (q *Queue) Rebase(ctx context.Context, key, baseVersion string) error {
	return q.mutate(ctx, key, func(e *Entry) {
		e.BaseVersion = baseVersion
	})
}

func (q *Queue) mutate(ctx context.Context, key string, fn func(*Entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var e Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		fn(&e)

		data, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

// Remove deletes an entry. Called on confirmed remote success or when the
// user discards an abandoned entry.
func (q *Queue) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return q.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return txn.Delete([]byte(key))
	})
}

// Stats counts pending and abandoned entries across all entity types.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	entries, err := q.scan(ctx, prefixEntry, func(*Entry) bool { return true })
	if err != nil {
		return stats, err
	}
	for i := range entries {
		if entries[i].Abandoned {
			stats.Abandoned++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}
