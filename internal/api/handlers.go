// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package api provides the local HTTP surface: sync control, conflict
// resolution, record CRUD, and health/metrics endpoints. The router is chi
// with the standard middleware stack (request ID, real IP, recoverer, CORS,
// rate limiting, Prometheus instrumentation).
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/conflict"
	"github.com/daykeep/daykeep/internal/engine"
	"github.com/daykeep/daykeep/internal/mutate"
	"github.com/daykeep/daykeep/internal/queue"
)

// Handler bundles the sync engine and the mutation layer behind the HTTP
// handlers.
type Handler struct {
	engine    *engine.Engine
	mutator   *mutate.Mutator
	conflicts *conflict.Registry
	queue     *queue.Queue
}

// NewHandler creates a Handler over the given collaborators.
func NewHandler(e *engine.Engine, m *mutate.Mutator, reg *conflict.Registry, q *queue.Queue) *Handler {
	return &Handler{engine: e, mutator: m, conflicts: reg, queue: q}
}

// Health reports liveness.
//
// Method: GET
// Path: /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncStatus returns the sync health snapshot: pending, conflict, and
// abandoned counts plus connectivity and auth state.
//
// Method: GET
// Path: /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_ERROR", "Failed to read sync status", err)
		return
	}
	respondData(w, http.StatusOK, status)
}

// SyncProcess triggers one drain pass over the change queue.
//
// Method: POST
// Path: /api/v1/sync/process
func (h *Handler) SyncProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.engine.ProcessSyncQueue(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_ERROR", "Drain pass failed", err)
		return
	}

	respondJSON(w, http.StatusOK, successEnvelope(result, time.Since(start)))
}

// SyncConflicts lists all open conflicts with both versions attached.
//
// Method: GET
// Path: /api/v1/sync/conflicts
func (h *Handler) SyncConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := h.conflicts.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CONFLICT_ERROR", "Failed to list conflicts", err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"conflicts": records,
		"total":     len(records),
	})
}

// resolveRequest is the body of a conflict resolution call.
type resolveRequest struct {
	Action conflict.Action `json:"action"`
	Merged json.RawMessage `json:"merged,omitempty"`
}

// SyncResolve applies a resolution action to the conflict recorded for the
// entity named in the path.
//
// Method: POST
// Path: /api/v1/sync/conflicts/{id}/resolve
func (h *Handler) SyncResolve(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.engine.ResolveConflict(r.Context(), entityID, req.Action, req.Merged)
	switch {
	case err == nil:
		respondData(w, http.StatusOK, map[string]string{
			"entityId": entityID,
			"action":   string(req.Action),
		})
	case errors.Is(err, conflict.ErrInvalidAction):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown resolution action", err)
	case errors.Is(err, conflict.ErrConflictNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No open conflict for entity", err)
	default:
		respondError(w, http.StatusInternalServerError, "CONFLICT_ERROR", "Resolution failed", err)
	}
}

// SyncAbandoned lists queue entries retired after exhausting retries.
//
// Method: GET
// Path: /api/v1/sync/abandoned
func (h *Handler) SyncAbandoned(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.Abandoned(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUEUE_ERROR", "Failed to list abandoned entries", err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"abandoned": entries,
		"total":     len(entries),
	})
}

// SyncDiscard permanently removes an abandoned queue entry.
//
// Method: POST
// Path: /api/v1/sync/abandoned/{id}/discard
func (h *Handler) SyncDiscard(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	err := h.engine.DiscardAbandoned(r.Context(), entryID)
	switch {
	case err == nil:
		respondData(w, http.StatusOK, map[string]string{"discarded": entryID})
	case errors.Is(err, queue.ErrEntryNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No abandoned entry with that ID", err)
	default:
		respondError(w, http.StatusInternalServerError, "QUEUE_ERROR", "Discard failed", err)
	}
}

// CalendarReconcile pulls the named calendar's remote events and reconciles
// them into the local store.
//
// Method: POST
// Path: /api/v1/calendars/{id}/reconcile
func (h *Handler) CalendarReconcile(w http.ResponseWriter, r *http.Request) {
	calendarID := chi.URLParam(r, "id")

	start := time.Now()
	result, err := h.engine.Reconcile(r.Context(), calendarID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "SYNC_ERROR", "Reconciliation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, successEnvelope(result, time.Since(start)))
}

// CalendarDisable removes all locally mirrored events for a calendar.
//
// Method: DELETE
// Path: /api/v1/calendars/{id}
func (h *Handler) CalendarDisable(w http.ResponseWriter, r *http.Request) {
	calendarID := chi.URLParam(r, "id")

	removed, err := h.engine.DisableCalendar(r.Context(), calendarID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_ERROR", "Failed to disable calendar", err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"calendarId": calendarID,
		"removed":    removed,
	})
}
