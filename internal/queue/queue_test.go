// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/daykeep/daykeep/internal/models"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open() error: %v", err)
	}
	q := New(db)
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("queue Close() error: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Errorf("db Close() error: %v", err)
		}
	})
	return q
}

func TestEnqueuePendingFIFO(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	ids := []string{"t1", "t2", "t3"}
	for _, id := range ids {
		_, err := q.Enqueue(ctx, Entry{
			Entity:   models.EntityTask,
			EntityID: id,
			Op:       models.OpCreate,
		})
		if err != nil {
			t.Fatalf("Enqueue(%s) error: %v", id, err)
		}
	}

	pending, err := q.Pending(ctx, models.EntityTask)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	for i, e := range pending {
		if e.EntityID != ids[i] {
			t.Errorf("pending[%d].EntityID = %s, want %s (FIFO order)", i, e.EntityID, ids[i])
		}
	}
}

func TestPendingIsolatedPerEntity(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, Entry{Entity: models.EntityTask, EntityID: "t1", Op: models.OpCreate}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if _, err := q.Enqueue(ctx, Entry{Entity: models.EntityEvent, EntityID: "e1", Op: models.OpCreate}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	events, err := q.Pending(ctx, models.EntityEvent)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != "e1" {
		t.Errorf("event pending = %+v, want only e1", events)
	}
}

func TestEnqueueInvalidEntity(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)

	_, err := q.Enqueue(context.Background(), Entry{Entity: "widget", EntityID: "w1", Op: models.OpCreate})
	if err == nil {
		t.Error("Enqueue() with invalid entity type succeeded, want error")
	}
}

func TestMarkAttempt(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	key, err := q.Enqueue(ctx, Entry{Entity: models.EntityEvent, EntityID: "e1", Op: models.OpUpdate})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if err := q.MarkAttempt(ctx, key, "rate limited"); err != nil {
		t.Fatalf("MarkAttempt() error: %v", err)
	}
	if err := q.MarkAttempt(ctx, key, "network unreachable"); err != nil {
		t.Fatalf("MarkAttempt() error: %v", err)
	}

	e, err := q.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if e.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", e.Attempts)
	}
	if e.LastError != "network unreachable" {
		t.Errorf("LastError = %q, want latest error", e.LastError)
	}
	if e.LastAttemptAt.IsZero() {
		t.Error("LastAttemptAt not set")
	}
}

func TestAbandonedExcludedFromPending(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	key, err := q.Enqueue(ctx, Entry{Entity: models.EntityNote, EntityID: "n1", Op: models.OpDelete})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.MarkAbandoned(ctx, key); err != nil {
		t.Fatalf("MarkAbandoned() error: %v", err)
	}

	pending, err := q.Pending(ctx, models.EntityNote)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("abandoned entry still pending: %+v", pending)
	}

	abandoned, err := q.Abandoned(ctx)
	if err != nil {
		t.Fatalf("Abandoned() error: %v", err)
	}
	if len(abandoned) != 1 || abandoned[0].EntityID != "n1" {
		t.Errorf("abandoned = %+v, want retained n1", abandoned)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	key, err := q.Enqueue(ctx, Entry{Entity: models.EntityGoal, EntityID: "g1", Op: models.OpCreate})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if err := q.Remove(ctx, key); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := q.Remove(ctx, key); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second Remove() = %v, want ErrEntryNotFound", err)
	}
	if _, err := q.Get(ctx, key); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Get() after remove = %v, want ErrEntryNotFound", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	k1, err := q.Enqueue(ctx, Entry{Entity: models.EntityTask, EntityID: "t1", Op: models.OpCreate})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if _, err := q.Enqueue(ctx, Entry{Entity: models.EntityEvent, EntityID: "e1", Op: models.OpCreate}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.MarkAbandoned(ctx, k1); err != nil {
		t.Fatalf("MarkAbandoned() error: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Pending != 1 || stats.Abandoned != 1 {
		t.Errorf("Stats = %+v, want {Pending:1 Abandoned:1}", stats)
	}
}

func TestFIFOSurvivesRemoval(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	k1, err := q.Enqueue(ctx, Entry{Entity: models.EntityTask, EntityID: "t1", Op: models.OpUpdate})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if _, err := q.Enqueue(ctx, Entry{Entity: models.EntityTask, EntityID: "t1", Op: models.OpDelete}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	// Confirm the first entry; the DELETE must still follow the UPDATE's
	// position, never having been reordered ahead of it.
	if err := q.Remove(ctx, k1); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	pending, err := q.Pending(ctx, models.EntityTask)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 1 || pending[0].Op != models.OpDelete {
		t.Errorf("pending = %+v, want the DELETE entry", pending)
	}
}
