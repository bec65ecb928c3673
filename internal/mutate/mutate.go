// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package mutate is the optimistic mutation layer. Every local write goes
// through a Mutator: the in-memory mirror is updated immediately so the UI
// renders without waiting, the record is persisted with a pending sync
// status, and a change entry is enqueued for the dispatcher. If persistence
// or enqueueing fails the mirror is rolled back to its pre-mutation snapshot,
// so the mirror never shows state that will not eventually reach the store.
package mutate

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/queue"
	"github.com/daykeep/daykeep/internal/store"
)

// Mutator owns the in-memory mirror of all entity records. The mirror is
// mutated only through Mutator methods; a mutex serializes interleaved calls
// so overlapping mutations cannot corrupt state. Store write order matches
// call order.
type Mutator struct {
	mu sync.Mutex

	store *store.Store
	queue *queue.Queue

	events map[string]models.Event
	tasks  map[string]models.Task
	goals  map[string]models.Goal
	notes  map[string]models.Note
}

// New builds a Mutator and warms the mirror from the store, so reads are
// served from memory immediately after startup.
func New(ctx context.Context, st *store.Store, q *queue.Queue) (*Mutator, error) {
	m := &Mutator{
		store:  st,
		queue:  q,
		events: make(map[string]models.Event),
		tasks:  make(map[string]models.Task),
		goals:  make(map[string]models.Goal),
		notes:  make(map[string]models.Note),
	}
	if err := m.Reload(ctx); err != nil {
		return nil, fmt.Errorf("warming mirror: %w", err)
	}
	return m, nil
}

// Reload replaces the entire mirror with the store's current contents. The
// engine calls this after reconciliation so remote-driven changes become
// visible without individual mirror bookkeeping.
func (m *Mutator) Reload(ctx context.Context) error {
	events, err := m.store.Events(ctx)
	if err != nil {
		return err
	}
	tasks, err := m.store.Tasks(ctx)
	if err != nil {
		return err
	}
	goals, err := m.store.Goals(ctx)
	if err != nil {
		return err
	}
	notes, err := m.store.Notes(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]models.Event, len(events))
	for _, ev := range events {
		m.events[ev.ID] = ev
	}
	m.tasks = make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	m.goals = make(map[string]models.Goal, len(goals))
	for _, g := range goals {
		m.goals[g.ID] = g
	}
	m.notes = make(map[string]models.Note, len(notes))
	for _, n := range notes {
		m.notes[n.ID] = n
	}
	return nil
}

// enqueueChange marshals the payload and appends a change entry for the
// dispatcher. BaseVersion carries the remote version marker the change was
// derived from (empty for entities without one).
func (m *Mutator) enqueueChange(ctx context.Context, entity models.EntityType, entityID string, op models.Operation, payload any, baseVersion string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", entity, err)
	}
	_, err = m.queue.Enqueue(ctx, queue.Entry{
		Entity:      entity,
		EntityID:    entityID,
		Op:          op,
		Payload:     raw,
		BaseVersion: baseVersion,
	})
	return err
}

// compensate undoes a store write after a later step in the mutation failed.
// Failure here is logged, not returned: the caller is already propagating the
// original error and the store record will be overwritten by the next
// successful mutation or reconciliation pass.
func compensate(what, id string, err error) {
	if err != nil {
		logging.Warn().Err(err).Str("record", what).Str("id", id).
			Msg("rollback of persisted record failed")
	}
}

// --- Events ---

// CreateEvent applies ev optimistically, persists it pending, and enqueues a
// CREATE change. The returned record is the canonical persisted copy.
func (m *Mutator) CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := *ev
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SyncStatus = models.StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	prev, had := m.events[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.events[rec.ID] = optimistic

	if err := m.store.AddEvent(ctx, &rec); err != nil {
		m.restoreEvent(rec.ID, prev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityEvent, rec.ID, models.OpCreate, &rec, rec.Etag); err != nil {
		m.restoreEvent(rec.ID, prev, had)
		compensate("event", rec.ID, m.store.DeleteEvent(ctx, rec.ID))
		return nil, err
	}
	return m.reloadEvent(ctx, rec.ID)
}

// UpdateEvent persists a changed event and enqueues an UPDATE change carrying
// the version marker the edit was derived from.
func (m *Mutator) UpdateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	rec := *ev
	rec.RemoteID = prev.RemoteID
	rec.CreatedAt = prev.CreatedAt
	rec.SyncStatus = models.StatusPending
	rec.UpdatedAt = time.Now().UTC()

	mirrorPrev, had := m.events[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.events[rec.ID] = optimistic

	if err := m.store.PutEvent(ctx, &rec); err != nil {
		m.restoreEvent(rec.ID, mirrorPrev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityEvent, rec.ID, models.OpUpdate, &rec, prev.Etag); err != nil {
		m.restoreEvent(rec.ID, mirrorPrev, had)
		compensate("event", rec.ID, m.store.PutEvent(ctx, prev))
		return nil, err
	}
	return m.reloadEvent(ctx, rec.ID)
}

// DeleteEvent removes the event locally and enqueues a DELETE change. The
// deleted record travels in the payload because the dispatcher needs its
// RemoteID and CalendarID after the store row is gone.
func (m *Mutator) DeleteEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}

	mirrorPrev, had := m.events[id]
	delete(m.events, id)

	if err := m.store.DeleteEvent(ctx, id); err != nil {
		m.restoreEvent(id, mirrorPrev, had)
		return err
	}
	if err := m.enqueueChange(ctx, models.EntityEvent, id, models.OpDelete, prev, prev.Etag); err != nil {
		m.restoreEvent(id, mirrorPrev, had)
		compensate("event", id, m.store.AddEvent(ctx, prev))
		return err
	}
	return nil
}

func (m *Mutator) restoreEvent(id string, prev models.Event, had bool) {
	if had {
		m.events[id] = prev
		return
	}
	delete(m.events, id)
}

// reloadEvent swaps the canonical persisted record into the mirror, clearing
// the transient optimistic flag. Caller holds m.mu.
func (m *Mutator) reloadEvent(ctx context.Context, id string) (*models.Event, error) {
	rec, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	m.events[id] = *rec
	out := *rec
	return &out, nil
}

// Event reads a single event from the mirror.
func (m *Mutator) Event(id string) (models.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	return ev, ok
}

// Events snapshots the mirror's events. Order is unspecified.
func (m *Mutator) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out
}
