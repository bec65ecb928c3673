// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package store

import (
	"context"

	"github.com/daykeep/daykeep/internal/models"
)

// Tasks, goals, and notes share the plain keyed-table surface. Only events
// need the calendar index treatment in events.go.

// AddTask writes a new task, failing with ErrExists if the ID is taken.
func (s *Store) AddTask(ctx context.Context, t *models.Task) error {
	if err := addRecord(s, ctx, prefixTask+t.ID, t); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityTask, ID: t.ID, Kind: ChangePut})
	return nil
}

// PutTask upserts a task.
func (s *Store) PutTask(ctx context.Context, t *models.Task) error {
	if err := putRecord(s, ctx, prefixTask+t.ID, t); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityTask, ID: t.ID, Kind: ChangePut})
	return nil
}

// GetTask reads a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getRecord[models.Task](s, ctx, prefixTask+id)
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := deleteRecord(s, ctx, prefixTask+id); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityTask, ID: id, Kind: ChangeDelete})
	return nil
}

// Tasks returns every stored task.
func (s *Store) Tasks(ctx context.Context) ([]models.Task, error) {
	return listRecords[models.Task](s, ctx, prefixTask)
}

// AddGoal writes a new goal, failing with ErrExists if the ID is taken.
func (s *Store) AddGoal(ctx context.Context, g *models.Goal) error {
	if err := addRecord(s, ctx, prefixGoal+g.ID, g); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityGoal, ID: g.ID, Kind: ChangePut})
	return nil
}

// PutGoal upserts a goal.
func (s *Store) PutGoal(ctx context.Context, g *models.Goal) error {
	if err := putRecord(s, ctx, prefixGoal+g.ID, g); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityGoal, ID: g.ID, Kind: ChangePut})
	return nil
}

// GetGoal reads a goal by ID.
func (s *Store) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	return getRecord[models.Goal](s, ctx, prefixGoal+id)
}

// DeleteGoal removes a goal.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	if err := deleteRecord(s, ctx, prefixGoal+id); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityGoal, ID: id, Kind: ChangeDelete})
	return nil
}

// Goals returns every stored goal.
func (s *Store) Goals(ctx context.Context) ([]models.Goal, error) {
	return listRecords[models.Goal](s, ctx, prefixGoal)
}

// AddNote writes a new note, failing with ErrExists if the ID is taken.
func (s *Store) AddNote(ctx context.Context, n *models.Note) error {
	if err := addRecord(s, ctx, prefixNote+n.ID, n); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityNote, ID: n.ID, Kind: ChangePut})
	return nil
}

// PutNote upserts a note.
func (s *Store) PutNote(ctx context.Context, n *models.Note) error {
	if err := putRecord(s, ctx, prefixNote+n.ID, n); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityNote, ID: n.ID, Kind: ChangePut})
	return nil
}

// GetNote reads a note by ID.
func (s *Store) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return getRecord[models.Note](s, ctx, prefixNote+id)
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if err := deleteRecord(s, ctx, prefixNote+id); err != nil {
		return err
	}
	s.notify(Change{Entity: models.EntityNote, ID: id, Kind: ChangeDelete})
	return nil
}

// Notes returns every stored note.
func (s *Store) Notes(ctx context.Context) ([]models.Note, error) {
	return listRecords[models.Note](s, ctx, prefixNote)
}
