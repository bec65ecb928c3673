// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package dedupe reconciles a batch of remote calendar events against the
// local events sharing a remote identity.
//
// The remote service is authoritative: every incoming record is kept, and a
// local record is marked for deletion only when a different local record
// already carries the same RemoteID. Local-only events (no RemoteID) are
// never touched.
package dedupe

import "github.com/daykeep/daykeep/internal/models"

// Pair records one keep/remove decision for auditing.
type Pair struct {
	// Keep is the incoming remote record.
	Keep models.Event

	// Remove is the existing local record carrying the same RemoteID.
	Remove models.Event
}

// Result is the outcome of one reconciliation pass. It is not persisted;
// the caller applies it to the store immediately.
type Result struct {
	// EventsToKeep is always the entire incoming set.
	EventsToKeep []models.Event

	// EventsToDelete lists local records superseded by an incoming record
	// with the same RemoteID. Each local record appears at most once.
	EventsToDelete []models.Event

	// Duplicates lists the keep/remove pairs behind EventsToDelete.
	Duplicates []Pair

	// DuplicatesFound is the number of duplicate matches observed. It can
	// exceed len(EventsToDelete) when a malformed remote batch repeats a
	// RemoteID.
	DuplicatesFound int
}

// Resolve compares existing local events against an incoming remote batch.
//
// Existing events are indexed by RemoteID; events without one are local-only
// and excluded. Several existing records can share one RemoteID (an
// interrupted earlier sync leaves such pairs behind), so the index holds
// every record per key. For each incoming record, every same-keyed existing
// record with a different local ID is a duplicate: each is queued for
// deletion exactly once, even if several incoming records match it. When the
// remote batch itself repeats a RemoteID (malformed upstream data), all
// incoming copies are kept; this mirrors upstream behavior and is tolerated,
// not guaranteed.
//
// Resolve is pure: no I/O, no mutation of its inputs, O(len(existing) +
// len(incoming)).
func Resolve(existing, incoming []models.Event) Result {
	byRemoteID := make(map[string][]models.Event, len(existing))
	for _, ev := range existing {
		if ev.RemoteID == "" {
			continue
		}
		byRemoteID[ev.RemoteID] = append(byRemoteID[ev.RemoteID], ev)
	}

	result := Result{
		EventsToKeep: make([]models.Event, len(incoming)),
	}
	copy(result.EventsToKeep, incoming)

	deleted := make(map[string]bool, len(existing))
	for _, in := range incoming {
		if in.RemoteID == "" {
			continue
		}
		for _, local := range byRemoteID[in.RemoteID] {
			if local.ID == in.ID {
				continue
			}

			result.DuplicatesFound++
			if deleted[local.ID] {
				continue
			}
			deleted[local.ID] = true
			result.EventsToDelete = append(result.EventsToDelete, local)
			result.Duplicates = append(result.Duplicates, Pair{Keep: in, Remove: local})
		}
	}

	return result
}
