// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/models"
)

func eventKey(id string) string {
	return prefixEvent + id
}

func calendarIdxKey(calendarID, eventID string) string {
	return prefixCalendarIdx + calendarID + ":" + eventID
}

// AddEvent writes a new event, failing with ErrExists if the ID is taken.
// The calendar index entry is written in the same transaction.
func (s *Store) AddEvent(ctx context.Context, ev *models.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(eventKey(ev.ID))
		if _, err := txn.Get(key); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		return s.writeCalendarIdx(txn, ev)
	})
	if err != nil {
		return err
	}

	s.notify(Change{Entity: models.EntityEvent, ID: ev.ID, Kind: ChangePut})
	return nil
}

// PutEvent upserts an event, keeping the calendar index in step. If the
// event moved between calendars the stale index entry is removed.
func (s *Store) PutEvent(ctx context.Context, ev *models.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(eventKey(ev.ID))

		// Drop a stale index entry when the calendar changed.
		if prev, err := readEvent(txn, ev.ID); err == nil {
			if prev.CalendarID != "" && prev.CalendarID != ev.CalendarID {
				if err := txn.Delete([]byte(calendarIdxKey(prev.CalendarID, ev.ID))); err != nil {
					return fmt.Errorf("delete stale index: %w", err)
				}
			}
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		return s.writeCalendarIdx(txn, ev)
	})
	if err != nil {
		return err
	}

	s.notify(Change{Entity: models.EntityEvent, ID: ev.ID, Kind: ChangePut})
	return nil
}

// GetEvent reads an event by local ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return getRecord[models.Event](s, ctx, eventKey(id))
}

// DeleteEvent removes an event and its calendar index entry. Removing a
// missing event is a no-op.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		prev, err := readEvent(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if prev.CalendarID != "" {
			if err := txn.Delete([]byte(calendarIdxKey(prev.CalendarID, id))); err != nil {
				return fmt.Errorf("delete index: %w", err)
			}
		}
		return txn.Delete([]byte(eventKey(id)))
	})
	if err != nil {
		return err
	}

	s.notify(Change{Entity: models.EntityEvent, ID: id, Kind: ChangeDelete})
	return nil
}

// Events returns every stored event.
func (s *Store) Events(ctx context.Context) ([]models.Event, error) {
	return listRecords[models.Event](s, ctx, prefixEvent)
}

// EventsByCalendar returns the events belonging to one source calendar via
// the secondary index.
func (s *Store) EventsByCalendar(ctx context.Context, calendarID string) ([]models.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixCalendarIdx + calendarID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return fmt.Errorf("read index value: %w", err)
			}
			ev, err := readEvent(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan calendar %s: %w", calendarID, err)
	}
	return out, nil
}

// DeleteEventsByCalendar bulk-removes all events tied to a calendar. Used
// when a source calendar is disabled. Returns the number removed.
func (s *Store) DeleteEventsByCalendar(ctx context.Context, calendarID string) (int, error) {
	events, err := s.EventsByCalendar(ctx, calendarID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range events {
		if err := s.DeleteEvent(ctx, events[i].ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// writeCalendarIdx maintains the calendar index for an event inside txn.
func (s *Store) writeCalendarIdx(txn *badger.Txn, ev *models.Event) error {
	if ev.CalendarID == "" {
		return nil
	}
	key := []byte(calendarIdxKey(ev.CalendarID, ev.ID))
	if err := txn.Set(key, []byte(ev.ID)); err != nil {
		return fmt.Errorf("set index: %w", err)
	}
	return nil
}

// readEvent reads an event inside an open transaction.
func readEvent(txn *badger.Txn, id string) (*models.Event, error) {
	item, err := txn.Get([]byte(eventKey(id)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	var ev models.Event
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ev)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &ev, nil
}
