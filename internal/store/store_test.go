// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/daykeep/daykeep/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func testEvent(id, calendarID string) *models.Event {
	now := time.Now().UTC()
	return &models.Event{
		ID:         id,
		CalendarID: calendarID,
		Title:      "standup",
		StartTime:  now,
		EndTime:    now.Add(30 * time.Minute),
		SyncStatus: models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestAddEvent_DuplicateID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddEvent(ctx, testEvent("e1", "cal-1")); err != nil {
		t.Fatalf("AddEvent() error: %v", err)
	}
	err := s.AddEvent(ctx, testEvent("e1", "cal-1"))
	if !errors.Is(err, ErrExists) {
		t.Errorf("AddEvent() duplicate = %v, want ErrExists", err)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.GetEvent(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEvent() = %v, want ErrNotFound", err)
	}
}

func TestPutEvent_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("e1", "cal-1")
	ev.RemoteID = "g-123"
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("PutEvent() error: %v", err)
	}

	got, err := s.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent() error: %v", err)
	}
	if got.RemoteID != "g-123" {
		t.Errorf("RemoteID = %q, want g-123", got.RemoteID)
	}
	if got.SyncStatus != models.StatusPending {
		t.Errorf("SyncStatus = %q, want pending", got.SyncStatus)
	}
	if got.Optimistic {
		t.Error("Optimistic flag must not survive persistence")
	}
}

func TestEventsByCalendar(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, ev := range []*models.Event{
		testEvent("e1", "cal-a"),
		testEvent("e2", "cal-a"),
		testEvent("e3", "cal-b"),
	} {
		if err := s.AddEvent(ctx, ev); err != nil {
			t.Fatalf("AddEvent(%s) error: %v", ev.ID, err)
		}
	}

	got, err := s.EventsByCalendar(ctx, "cal-a")
	if err != nil {
		t.Fatalf("EventsByCalendar() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("EventsByCalendar(cal-a) returned %d events, want 2", len(got))
	}
}

func TestPutEvent_CalendarMoveUpdatesIndex(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("e1", "cal-a")
	if err := s.AddEvent(ctx, ev); err != nil {
		t.Fatalf("AddEvent() error: %v", err)
	}

	ev.CalendarID = "cal-b"
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("PutEvent() error: %v", err)
	}

	inA, err := s.EventsByCalendar(ctx, "cal-a")
	if err != nil {
		t.Fatalf("EventsByCalendar(cal-a) error: %v", err)
	}
	if len(inA) != 0 {
		t.Errorf("cal-a still lists %d events after move, want 0", len(inA))
	}
	inB, err := s.EventsByCalendar(ctx, "cal-b")
	if err != nil {
		t.Fatalf("EventsByCalendar(cal-b) error: %v", err)
	}
	if len(inB) != 1 {
		t.Errorf("cal-b lists %d events after move, want 1", len(inB))
	}
}

func TestDeleteEventsByCalendar(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, ev := range []*models.Event{
		testEvent("e1", "cal-a"),
		testEvent("e2", "cal-a"),
		testEvent("e3", "cal-b"),
	} {
		if err := s.AddEvent(ctx, ev); err != nil {
			t.Fatalf("AddEvent(%s) error: %v", ev.ID, err)
		}
	}

	removed, err := s.DeleteEventsByCalendar(ctx, "cal-a")
	if err != nil {
		t.Fatalf("DeleteEventsByCalendar() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e3" {
		t.Errorf("surviving events = %+v, want only e3", events)
	}
}

func TestDeleteEvent_MissingIsNoop(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.DeleteEvent(context.Background(), "missing"); err != nil {
		t.Errorf("DeleteEvent(missing) = %v, want nil", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	task := &models.Task{ID: "t1", Title: "water plants", SyncStatus: models.StatusPending}
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask() error: %v", err)
	}
	if err := s.AddTask(ctx, task); !errors.Is(err, ErrExists) {
		t.Errorf("AddTask() duplicate = %v, want ErrExists", err)
	}

	task.Completed = true
	if err := s.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask() error: %v", err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if !got.Completed {
		t.Error("Completed = false after PutTask, want true")
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask() after delete = %v, want ErrNotFound", err)
	}
}

func TestSubscribeNotifications(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) {
		changes = append(changes, c)
	})

	if err := s.AddNote(ctx, &models.Note{ID: "n1", Title: "idea"}); err != nil {
		t.Fatalf("AddNote() error: %v", err)
	}
	if err := s.DeleteNote(ctx, "n1"); err != nil {
		t.Fatalf("DeleteNote() error: %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d notifications, want 2", len(changes))
	}
	if changes[0].Kind != ChangePut || changes[0].Entity != models.EntityNote || changes[0].ID != "n1" {
		t.Errorf("first change = %+v", changes[0])
	}
	if changes[1].Kind != ChangeDelete {
		t.Errorf("second change kind = %q, want delete", changes[1].Kind)
	}

	unsubscribe()
	if err := s.AddNote(ctx, &models.Note{ID: "n2"}); err != nil {
		t.Fatalf("AddNote() error: %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("notification delivered after unsubscribe, got %d", len(changes))
	}
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if err := s.AddEvent(context.Background(), testEvent("e1", "")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("AddEvent() on closed store = %v, want ErrStoreClosed", err)
	}
}
