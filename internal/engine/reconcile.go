// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daykeep/daykeep/internal/dedupe"
	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/remote"
)

// ReconcileResult summarizes one reconciliation pass over a calendar.
type ReconcileResult struct {
	Fetched    int `json:"fetched"`
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Deleted    int `json:"deleted"`
}

// Reconcile pulls the remote calendar's events and folds them into the local
// store. The remote copy is authoritative for any record bearing a RemoteID,
// except records with a local change still in flight (pending or conflict),
// which keep their local state until the queue settles.
func (e *Engine) Reconcile(ctx context.Context, calendarID string) (ReconcileResult, error) {
	var res ReconcileResult

	incoming, nextSyncToken, err := e.fetchAll(ctx, calendarID)
	if err != nil {
		e.setOnline(false)
		return res, fmt.Errorf("fetching calendar %s: %w", calendarID, err)
	}
	e.setOnline(true)
	res.Fetched = len(incoming)

	existing, err := e.store.EventsByCalendar(ctx, calendarID)
	if err != nil {
		return res, err
	}

	// Fetched events carry no local identifier. Match them onto existing
	// records by RemoteID so local IDs stay stable across reconciliations.
	byRemote := make(map[string]*models.Event, len(existing))
	for i := range existing {
		if existing[i].RemoteID != "" {
			byRemote[existing[i].RemoteID] = &existing[i]
		}
	}
	now := time.Now().UTC()
	for i := range incoming {
		ev := &incoming[i]
		ev.SyncStatus = models.StatusSynced
		if local, ok := byRemote[ev.RemoteID]; ok {
			ev.ID = local.ID
			ev.CreatedAt = local.CreatedAt
		} else {
			ev.ID = uuid.NewString()
			ev.CreatedAt = now
		}
	}

	result := dedupe.Resolve(existing, incoming)
	res.Duplicates = result.DuplicatesFound

	for i := range result.EventsToDelete {
		if err := e.store.DeleteEvent(ctx, result.EventsToDelete[i].ID); err != nil {
			return res, fmt.Errorf("removing duplicate %s: %w", result.EventsToDelete[i].ID, err)
		}
		res.Deleted++
	}
	for i := range result.EventsToKeep {
		ev := &result.EventsToKeep[i]
		if local, ok := byRemote[ev.RemoteID]; ok {
			switch local.SyncStatus {
			case models.StatusPending, models.StatusConflict:
				// A local edit is still in the queue; overwriting
				// it here would lose the user's change.
				continue
			}
		}
		if err := e.store.PutEvent(ctx, ev); err != nil {
			return res, fmt.Errorf("applying remote event %s: %w", ev.RemoteID, err)
		}
		res.Applied++
	}

	e.mu.Lock()
	if nextSyncToken != "" {
		e.syncTokens[calendarID] = nextSyncToken
	}
	e.mu.Unlock()

	if e.mirror != nil {
		if err := e.mirror.Reload(ctx); err != nil {
			return res, err
		}
	}

	logging.Info().
		Str("calendar_id", calendarID).
		Int("fetched", res.Fetched).
		Int("applied", res.Applied).
		Int("duplicates", res.Duplicates).
		Msg("calendar reconciled")
	return res, nil
}

// fetchAll walks the remote listing page by page. An incremental sync token
// from the previous pass narrows the fetch when the service honors it.
func (e *Engine) fetchAll(ctx context.Context, calendarID string) ([]models.Event, string, error) {
	e.mu.Lock()
	syncToken := e.syncTokens[calendarID]
	e.mu.Unlock()

	var (
		events    []models.Event
		pageToken string
		nextSync  string
	)
	for {
		page, err := e.remote.FetchEvents(ctx, calendarID, remote.ListOptions{
			PageToken: pageToken,
			SyncToken: syncToken,
		})
		if err != nil {
			return nil, "", err
		}
		events = append(events, page.Events...)
		if page.NextSyncToken != "" {
			nextSync = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			return events, nextSync, nil
		}
		pageToken = page.NextPageToken
	}
}

// DisableCalendar drops every local event belonging to a calendar, used when
// the user unlinks a remote calendar from the planner.
func (e *Engine) DisableCalendar(ctx context.Context, calendarID string) (int, error) {
	n, err := e.store.DeleteEventsByCalendar(ctx, calendarID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	delete(e.syncTokens, calendarID)
	e.mu.Unlock()
	if e.mirror != nil {
		if err := e.mirror.Reload(ctx); err != nil {
			return n, err
		}
	}
	logging.Info().Str("calendar_id", calendarID).Int("removed", n).Msg("calendar disabled")
	return n, nil
}
