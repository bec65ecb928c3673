// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package mutate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/daykeep/daykeep/internal/models"
)

// Tasks, goals, and notes follow the same optimistic shape as events but
// carry no remote version marker, so their change entries enqueue with an
// empty base version.

// CreateTask applies t optimistically, persists it pending, and enqueues a
// CREATE change.
func (m *Mutator) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := *t
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SyncStatus = models.StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	prev, had := m.tasks[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.tasks[rec.ID] = optimistic

	if err := m.store.AddTask(ctx, &rec); err != nil {
		m.restoreTask(rec.ID, prev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityTask, rec.ID, models.OpCreate, &rec, ""); err != nil {
		m.restoreTask(rec.ID, prev, had)
		compensate("task", rec.ID, m.store.DeleteTask(ctx, rec.ID))
		return nil, err
	}
	return m.reloadTask(ctx, rec.ID)
}

// UpdateTask persists a changed task and enqueues an UPDATE change.
func (m *Mutator) UpdateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTaskLocked(ctx, t)
}

func (m *Mutator) updateTaskLocked(ctx context.Context, t *models.Task) (*models.Task, error) {
	prev, err := m.store.GetTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	rec := *t
	rec.CreatedAt = prev.CreatedAt
	rec.SyncStatus = models.StatusPending
	rec.UpdatedAt = time.Now().UTC()

	mirrorPrev, had := m.tasks[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.tasks[rec.ID] = optimistic

	if err := m.store.PutTask(ctx, &rec); err != nil {
		m.restoreTask(rec.ID, mirrorPrev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityTask, rec.ID, models.OpUpdate, &rec, ""); err != nil {
		m.restoreTask(rec.ID, mirrorPrev, had)
		compensate("task", rec.ID, m.store.PutTask(ctx, prev))
		return nil, err
	}
	return m.reloadTask(ctx, rec.ID)
}

// DeleteTask removes the task locally and enqueues a DELETE change.
func (m *Mutator) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	mirrorPrev, had := m.tasks[id]
	delete(m.tasks, id)

	if err := m.store.DeleteTask(ctx, id); err != nil {
		m.restoreTask(id, mirrorPrev, had)
		return err
	}
	if err := m.enqueueChange(ctx, models.EntityTask, id, models.OpDelete, prev, ""); err != nil {
		m.restoreTask(id, mirrorPrev, had)
		compensate("task", id, m.store.AddTask(ctx, prev))
		return err
	}
	return nil
}

// ToggleTaskCompletion flips the task's completed state, stamping or
// clearing CompletedAt, and runs the standard update path.
func (m *Mutator) ToggleTaskCompletion(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Completed = !t.Completed
	if t.Completed {
		now := time.Now().UTC()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	return m.updateTaskLocked(ctx, t)
}

func (m *Mutator) restoreTask(id string, prev models.Task, had bool) {
	if had {
		m.tasks[id] = prev
		return
	}
	delete(m.tasks, id)
}

func (m *Mutator) reloadTask(ctx context.Context, id string) (*models.Task, error) {
	rec, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	m.tasks[id] = *rec
	out := *rec
	return &out, nil
}

// Task reads a single task from the mirror.
func (m *Mutator) Task(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Tasks snapshots the mirror's tasks. Order is unspecified.
func (m *Mutator) Tasks() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// CreateGoal applies g optimistically, persists it pending, and enqueues a
// CREATE change.
func (m *Mutator) CreateGoal(ctx context.Context, g *models.Goal) (*models.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := *g
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SyncStatus = models.StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	prev, had := m.goals[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.goals[rec.ID] = optimistic

	if err := m.store.AddGoal(ctx, &rec); err != nil {
		m.restoreGoal(rec.ID, prev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityGoal, rec.ID, models.OpCreate, &rec, ""); err != nil {
		m.restoreGoal(rec.ID, prev, had)
		compensate("goal", rec.ID, m.store.DeleteGoal(ctx, rec.ID))
		return nil, err
	}
	return m.reloadGoal(ctx, rec.ID)
}

// UpdateGoal persists a changed goal and enqueues an UPDATE change.
func (m *Mutator) UpdateGoal(ctx context.Context, g *models.Goal) (*models.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetGoal(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	rec := *g
	rec.CreatedAt = prev.CreatedAt
	rec.SyncStatus = models.StatusPending
	rec.UpdatedAt = time.Now().UTC()

	mirrorPrev, had := m.goals[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.goals[rec.ID] = optimistic

	if err := m.store.PutGoal(ctx, &rec); err != nil {
		m.restoreGoal(rec.ID, mirrorPrev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityGoal, rec.ID, models.OpUpdate, &rec, ""); err != nil {
		m.restoreGoal(rec.ID, mirrorPrev, had)
		compensate("goal", rec.ID, m.store.PutGoal(ctx, prev))
		return nil, err
	}
	return m.reloadGoal(ctx, rec.ID)
}

// DeleteGoal removes the goal locally and enqueues a DELETE change.
func (m *Mutator) DeleteGoal(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetGoal(ctx, id)
	if err != nil {
		return err
	}

	mirrorPrev, had := m.goals[id]
	delete(m.goals, id)

	if err := m.store.DeleteGoal(ctx, id); err != nil {
		m.restoreGoal(id, mirrorPrev, had)
		return err
	}
	if err := m.enqueueChange(ctx, models.EntityGoal, id, models.OpDelete, prev, ""); err != nil {
		m.restoreGoal(id, mirrorPrev, had)
		compensate("goal", id, m.store.AddGoal(ctx, prev))
		return err
	}
	return nil
}

func (m *Mutator) restoreGoal(id string, prev models.Goal, had bool) {
	if had {
		m.goals[id] = prev
		return
	}
	delete(m.goals, id)
}

func (m *Mutator) reloadGoal(ctx context.Context, id string) (*models.Goal, error) {
	rec, err := m.store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	m.goals[id] = *rec
	out := *rec
	return &out, nil
}

// Goal reads a single goal from the mirror.
func (m *Mutator) Goal(id string) (models.Goal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	return g, ok
}

// Goals snapshots the mirror's goals. Order is unspecified.
func (m *Mutator) Goals() []models.Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Goal, 0, len(m.goals))
	for _, g := range m.goals {
		out = append(out, g)
	}
	return out
}

// CreateNote applies n optimistically, persists it pending, and enqueues a
// CREATE change.
func (m *Mutator) CreateNote(ctx context.Context, n *models.Note) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := *n
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SyncStatus = models.StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	prev, had := m.notes[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.notes[rec.ID] = optimistic

	if err := m.store.AddNote(ctx, &rec); err != nil {
		m.restoreNote(rec.ID, prev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityNote, rec.ID, models.OpCreate, &rec, ""); err != nil {
		m.restoreNote(rec.ID, prev, had)
		compensate("note", rec.ID, m.store.DeleteNote(ctx, rec.ID))
		return nil, err
	}
	return m.reloadNote(ctx, rec.ID)
}

// UpdateNote persists a changed note and enqueues an UPDATE change.
func (m *Mutator) UpdateNote(ctx context.Context, n *models.Note) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetNote(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	rec := *n
	rec.CreatedAt = prev.CreatedAt
	rec.SyncStatus = models.StatusPending
	rec.UpdatedAt = time.Now().UTC()

	mirrorPrev, had := m.notes[rec.ID]
	optimistic := rec
	optimistic.Optimistic = true
	m.notes[rec.ID] = optimistic

	if err := m.store.PutNote(ctx, &rec); err != nil {
		m.restoreNote(rec.ID, mirrorPrev, had)
		return nil, err
	}
	if err := m.enqueueChange(ctx, models.EntityNote, rec.ID, models.OpUpdate, &rec, ""); err != nil {
		m.restoreNote(rec.ID, mirrorPrev, had)
		compensate("note", rec.ID, m.store.PutNote(ctx, prev))
		return nil, err
	}
	return m.reloadNote(ctx, rec.ID)
}

// DeleteNote removes the note locally and enqueues a DELETE change.
func (m *Mutator) DeleteNote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.GetNote(ctx, id)
	if err != nil {
		return err
	}

	mirrorPrev, had := m.notes[id]
	delete(m.notes, id)

	if err := m.store.DeleteNote(ctx, id); err != nil {
		m.restoreNote(id, mirrorPrev, had)
		return err
	}
	if err := m.enqueueChange(ctx, models.EntityNote, id, models.OpDelete, prev, ""); err != nil {
		m.restoreNote(id, mirrorPrev, had)
		compensate("note", id, m.store.AddNote(ctx, prev))
		return err
	}
	return nil
}

func (m *Mutator) restoreNote(id string, prev models.Note, had bool) {
	if had {
		m.notes[id] = prev
		return
	}
	delete(m.notes, id)
}

func (m *Mutator) reloadNote(ctx context.Context, id string) (*models.Note, error) {
	rec, err := m.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	m.notes[id] = *rec
	out := *rec
	return &out, nil
}

// Note reads a single note from the mirror.
func (m *Mutator) Note(id string) (models.Note, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	return n, ok
}

// Notes snapshots the mirror's notes. Order is unspecified.
func (m *Mutator) Notes() []models.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Note, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n)
	}
	return out
}
