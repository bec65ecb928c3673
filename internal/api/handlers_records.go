// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/store"
)

// Record CRUD handlers. Every write goes through the optimistic mutation
// layer: the in-memory mirror is updated first, the change is persisted and
// queued, and a failure on either step rolls the mirror back before the
// error reaches the client.

func respondRecordError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrExists):
		respondError(w, http.StatusConflict, "CONFLICT_ERROR", what+" already exists", err)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", what+" not found", err)
	default:
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to write "+what, err)
	}
}

// ListEvents returns all locally known events.
//
// Method: GET
// Path: /api/v1/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events := h.mutator.Events()
	respondData(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

// GetEvent returns a single event by local ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.mutator.Event(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "event not found", nil)
		return
	}
	respondData(w, http.StatusOK, ev)
}

// CreateEvent creates an event and queues it for remote sync.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if !decodeBody(w, r, &ev) {
		return
	}

	created, err := h.mutator.CreateEvent(r.Context(), &ev)
	if err != nil {
		respondRecordError(w, err, "event")
		return
	}
	respondData(w, http.StatusCreated, created)
}

// UpdateEvent applies changed fields to an existing event.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	ev.ID = chi.URLParam(r, "id")

	updated, err := h.mutator.UpdateEvent(r.Context(), &ev)
	if err != nil {
		respondRecordError(w, err, "event")
		return
	}
	respondData(w, http.StatusOK, updated)
}

// DeleteEvent removes an event locally and queues the remote delete.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mutator.DeleteEvent(r.Context(), id); err != nil {
		respondRecordError(w, err, "event")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"deleted": id})
}

// ListTasks returns all tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.mutator.Tasks()
	respondData(w, http.StatusOK, map[string]any{"tasks": tasks, "total": len(tasks)})
}

// GetTask returns a single task by ID.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.mutator.Task(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found", nil)
		return
	}
	respondData(w, http.StatusOK, t)
}

// CreateTask creates a task.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if !decodeBody(w, r, &t) {
		return
	}

	created, err := h.mutator.CreateTask(r.Context(), &t)
	if err != nil {
		respondRecordError(w, err, "task")
		return
	}
	respondData(w, http.StatusCreated, created)
}

// UpdateTask applies changed fields to an existing task.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if !decodeBody(w, r, &t) {
		return
	}
	t.ID = chi.URLParam(r, "id")

	updated, err := h.mutator.UpdateTask(r.Context(), &t)
	if err != nil {
		respondRecordError(w, err, "task")
		return
	}
	respondData(w, http.StatusOK, updated)
}

// ToggleTask flips a task's completion state.
//
// Method: POST
// Path: /api/v1/tasks/{id}/toggle
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	toggled, err := h.mutator.ToggleTaskCompletion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondRecordError(w, err, "task")
		return
	}
	respondData(w, http.StatusOK, toggled)
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mutator.DeleteTask(r.Context(), id); err != nil {
		respondRecordError(w, err, "task")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"deleted": id})
}

// ListGoals returns all goals.
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals := h.mutator.Goals()
	respondData(w, http.StatusOK, map[string]any{"goals": goals, "total": len(goals)})
}

// GetGoal returns a single goal by ID.
func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	g, ok := h.mutator.Goal(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "goal not found", nil)
		return
	}
	respondData(w, http.StatusOK, g)
}

// CreateGoal creates a goal.
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var g models.Goal
	if !decodeBody(w, r, &g) {
		return
	}

	created, err := h.mutator.CreateGoal(r.Context(), &g)
	if err != nil {
		respondRecordError(w, err, "goal")
		return
	}
	respondData(w, http.StatusCreated, created)
}

// UpdateGoal applies changed fields to an existing goal.
func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	var g models.Goal
	if !decodeBody(w, r, &g) {
		return
	}
	g.ID = chi.URLParam(r, "id")

	updated, err := h.mutator.UpdateGoal(r.Context(), &g)
	if err != nil {
		respondRecordError(w, err, "goal")
		return
	}
	respondData(w, http.StatusOK, updated)
}

// DeleteGoal removes a goal.
func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mutator.DeleteGoal(r.Context(), id); err != nil {
		respondRecordError(w, err, "goal")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"deleted": id})
}

// ListNotes returns all notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.mutator.Notes()
	respondData(w, http.StatusOK, map[string]any{"notes": notes, "total": len(notes)})
}

// GetNote returns a single note by ID.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, ok := h.mutator.Note(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "note not found", nil)
		return
	}
	respondData(w, http.StatusOK, n)
}

// CreateNote creates a note.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var n models.Note
	if !decodeBody(w, r, &n) {
		return
	}

	created, err := h.mutator.CreateNote(r.Context(), &n)
	if err != nil {
		respondRecordError(w, err, "note")
		return
	}
	respondData(w, http.StatusCreated, created)
}

// UpdateNote applies changed fields to an existing note.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var n models.Note
	if !decodeBody(w, r, &n) {
		return
	}
	n.ID = chi.URLParam(r, "id")

	updated, err := h.mutator.UpdateNote(r.Context(), &n)
	if err != nil {
		respondRecordError(w, err, "note")
		return
	}
	respondData(w, http.StatusOK, updated)
}

// DeleteNote removes a note.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mutator.DeleteNote(r.Context(), id); err != nil {
		respondRecordError(w, err, "note")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"deleted": id})
}
