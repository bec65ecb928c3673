// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/conflict"
	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/queue"
	"github.com/daykeep/daykeep/internal/store"
)

// ResolveConflict applies a user-chosen resolution to a recorded conflict.
//
//   - keep-local re-issues the queued change against the remote version the
//     user saw, so the next drain sends it without tripping the same check.
//   - keep-remote discards the queued change and adopts the remote copy.
//   - merge accepts a caller-supplied merged payload and queues it as a
//     fresh update; the field-level merge itself happens outside the core.
//
// The conflict record is destroyed once the resolution is applied.
func (e *Engine) ResolveConflict(ctx context.Context, entityID string, action conflict.Action, merged json.RawMessage) error {
	if !action.Valid() {
		return conflict.ErrInvalidAction
	}
	rec, err := e.conflicts.Get(ctx, entityID)
	if err != nil {
		return err
	}

	switch action {
	case conflict.KeepLocal:
		err = e.resolveKeepLocal(ctx, rec)
	case conflict.KeepRemote:
		err = e.resolveKeepRemote(ctx, rec)
	case conflict.Merge:
		if len(merged) == 0 {
			return fmt.Errorf("%w: merge requires a payload", conflict.ErrInvalidAction)
		}
		err = e.resolveMerge(ctx, rec, merged)
	}
	if err != nil {
		return err
	}

	if err := e.conflicts.Clear(ctx, entityID); err != nil {
		return fmt.Errorf("clearing conflict %s: %w", entityID, err)
	}
	if e.mirror != nil {
		if err := e.mirror.Reload(ctx); err != nil {
			return err
		}
	}
	logging.Info().
		Str("entity_id", entityID).
		Str("action", string(action)).
		Msg("conflict resolved")
	return nil
}

// resolveKeepLocal rebases the queued change onto the remote version recorded
// at detection time. The original entry is retired and the local version is
// re-queued, so the drain's version check passes on the next attempt.
func (e *Engine) resolveKeepLocal(ctx context.Context, rec *conflict.Record) error {
	var remoteEtag string
	if len(rec.RemoteVersion) > 0 {
		var remoteRec models.Event
		if err := json.Unmarshal(rec.RemoteVersion, &remoteRec); err != nil {
			return fmt.Errorf("decoding remote version: %w", err)
		}
		remoteEtag = remoteRec.Etag
	}

	if err := e.retireEntry(ctx, rec.QueueKey); err != nil {
		return err
	}
	_, err := e.queue.Enqueue(ctx, queue.Entry{
		Entity:      rec.Entity,
		EntityID:    rec.EntityID,
		Op:          models.OpUpdate,
		Payload:     rec.LocalVersion,
		BaseVersion: remoteEtag,
	})
	if err != nil {
		return fmt.Errorf("re-queueing local version: %w", err)
	}
	e.markRecordStatus(ctx, rec.Entity, rec.EntityID, models.StatusPending)
	return nil
}

// resolveKeepRemote discards the queued change and adopts the remote copy as
// the local record. An empty remote version means the remote side deleted
// the event, so the local record goes too.
func (e *Engine) resolveKeepRemote(ctx context.Context, rec *conflict.Record) error {
	if err := e.retireEntry(ctx, rec.QueueKey); err != nil {
		return err
	}

	if len(rec.RemoteVersion) == 0 {
		err := e.store.DeleteEvent(ctx, rec.EntityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}

	var remoteRec models.Event
	if err := json.Unmarshal(rec.RemoteVersion, &remoteRec); err != nil {
		return fmt.Errorf("decoding remote version: %w", err)
	}
	remoteRec.ID = rec.EntityID
	remoteRec.SyncStatus = models.StatusSynced
	remoteRec.UpdatedAt = time.Now().UTC()
	return e.store.PutEvent(ctx, &remoteRec)
}

// resolveMerge persists the merged record pending and queues it as a fresh
// update based on the remote version, replacing the conflicted entry.
func (e *Engine) resolveMerge(ctx context.Context, rec *conflict.Record, merged json.RawMessage) error {
	var mergedRec models.Event
	if err := json.Unmarshal(merged, &mergedRec); err != nil {
		return fmt.Errorf("decoding merged payload: %w", err)
	}
	mergedRec.ID = rec.EntityID
	mergedRec.SyncStatus = models.StatusPending
	mergedRec.UpdatedAt = time.Now().UTC()

	var remoteEtag string
	if len(rec.RemoteVersion) > 0 {
		var remoteRec models.Event
		if err := json.Unmarshal(rec.RemoteVersion, &remoteRec); err != nil {
			return fmt.Errorf("decoding remote version: %w", err)
		}
		remoteEtag = remoteRec.Etag
		mergedRec.RemoteID = remoteRec.RemoteID
	}

	if err := e.retireEntry(ctx, rec.QueueKey); err != nil {
		return err
	}
	if err := e.store.PutEvent(ctx, &mergedRec); err != nil {
		return err
	}
	raw, err := json.Marshal(&mergedRec)
	if err != nil {
		return fmt.Errorf("marshaling merged record: %w", err)
	}
	_, err = e.queue.Enqueue(ctx, queue.Entry{
		Entity:      rec.Entity,
		EntityID:    rec.EntityID,
		Op:          models.OpUpdate,
		Payload:     raw,
		BaseVersion: remoteEtag,
	})
	if err != nil {
		return fmt.Errorf("queueing merged update: %w", err)
	}
	return nil
}

// retireEntry removes the conflicted queue entry. The entry may already be
// gone if the record was deleted while the conflict sat unresolved.
func (e *Engine) retireEntry(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := e.queue.Remove(ctx, key)
	if err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
		return fmt.Errorf("retiring entry %s: %w", key, err)
	}
	return nil
}
