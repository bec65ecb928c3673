// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package models defines the entity records shared across the store, the
// optimistic mutation layer, and the sync engine.
//
// The four entity types (Event, Task, Goal, Note) are structurally distinct
// but follow the same lifecycle: a record is created locally with a stable
// local ID, persisted with SyncStatus pending, and eventually confirmed
// against the remote calendar service. Only Event carries a RemoteID, the
// external service's identifier; once assigned it never changes.
package models

import "time"

// EntityType identifies which entity table a record or change belongs to.
type EntityType string

// Entity types.
const (
	EntityEvent EntityType = "event"
	EntityTask  EntityType = "task"
	EntityGoal  EntityType = "goal"
	EntityNote  EntityType = "note"
)

// EntityTypes lists all entity types in a stable order. The dispatcher
// iterates this when draining the change queue.
var EntityTypes = []EntityType{EntityEvent, EntityTask, EntityGoal, EntityNote}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityEvent, EntityTask, EntityGoal, EntityNote:
		return true
	}
	return false
}

// SyncStatus tags a record's position in the sync lifecycle.
type SyncStatus string

// Sync statuses.
const (
	// StatusPending marks a record with a local change awaiting remote
	// confirmation.
	StatusPending SyncStatus = "pending"

	// StatusSynced marks a record confirmed against the remote service.
	StatusSynced SyncStatus = "synced"

	// StatusConflict marks a record whose queued change collided with a
	// remote change; resolution is required before sync proceeds.
	StatusConflict SyncStatus = "conflict"

	// StatusError marks a record whose change was abandoned after
	// exhausting retries.
	StatusError SyncStatus = "error"
)

// Operation is a change-queue operation kind.
type Operation string

// Queue operations.
const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Event is a calendar event. Events are the only entity type reconciled
// against the remote calendar; RemoteID links a local record to its remote
// counterpart and Etag is the remote version marker used for conflict
// detection.
type Event struct {
	ID          string     `json:"id" validate:"required"`
	RemoteID    string     `json:"remoteId,omitempty"`
	CalendarID  string     `json:"calendarId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     time.Time  `json:"endTime"`
	AllDay      bool       `json:"allDay,omitempty"`
	Etag        string     `json:"etag,omitempty"`
	SyncStatus  SyncStatus `json:"syncStatus"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	// Optimistic marks an in-memory copy applied ahead of persistence.
	// Never stored; cleared when the canonical record is reloaded.
	Optimistic bool `json:"-"`
}

// Task is a to-do item, optionally linked to a goal.
type Task struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	GoalID      string     `json:"goalId,omitempty"`
	SyncStatus  SyncStatus `json:"syncStatus"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Optimistic bool `json:"-"`
}

// Goal is a longer-horizon objective that tasks roll up to.
type Goal struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TargetDate  *time.Time `json:"targetDate,omitempty"`
	Progress    int        `json:"progress"`
	SyncStatus  SyncStatus `json:"syncStatus"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Optimistic bool `json:"-"`
}

// Note is a free-form text record.
type Note struct {
	ID         string     `json:"id" validate:"required"`
	Title      string     `json:"title"`
	Body       string     `json:"body,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	Optimistic bool `json:"-"`
}
