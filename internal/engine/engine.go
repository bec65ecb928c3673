// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package engine drains the change queue against the remote calendar service
// and reconciles remote state back into the local store.
//
// Each queue entry moves through a small state machine: pending, in-flight,
// then either removed on confirmed success, rescheduled with an incremented
// attempt count, or abandoned once the retry ceiling is hit. Abandoned
// entries stay visible until the user discards them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/conflict"
	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/metrics"
	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/mutate"
	"github.com/daykeep/daykeep/internal/queue"
	"github.com/daykeep/daykeep/internal/remote"
	"github.com/daykeep/daykeep/internal/store"
)

// errAuthRequired halts a drain pass; retrying cannot help until the caller
// supplies fresh credentials.
var errAuthRequired = errors.New("remote authentication required")

// errConflictRecorded marks a dispatch that parked its entry behind a
// recorded conflict instead of sending it.
var errConflictRecorded = errors.New("conflict recorded, entry parked")

// Config holds the dispatcher's retry and scheduling knobs.
type Config struct {
	// BaseDelay seeds the exponential backoff: an entry with N failed
	// attempts is eligible again after BaseDelay * 2^N.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// MaxAttempts is the abandonment ceiling. An entry that has failed
	// this many times is retained as abandoned, never retried.
	MaxAttempts int

	// SyncInterval is the Runner's drain cadence.
	SyncInterval time.Duration

	// ReconcileInterval is the Runner's remote reconciliation cadence.
	ReconcileInterval time.Duration

	// CalendarIDs lists the remote calendars to reconcile.
	CalendarIDs []string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseDelay <= 0 {
		out.BaseDelay = 2 * time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 5 * time.Minute
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 8
	}
	if out.SyncInterval <= 0 {
		out.SyncInterval = 30 * time.Second
	}
	if out.ReconcileInterval <= 0 {
		out.ReconcileInterval = 5 * time.Minute
	}
	return out
}

// Result summarizes one drain pass.
type Result struct {
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Message   string `json:"message,omitempty"`
}

// SyncStatus is the user-facing health snapshot.
type SyncStatus struct {
	PendingCount   int       `json:"pendingCount"`
	ConflictCount  int       `json:"conflictCount"`
	AbandonedCount int       `json:"abandonedCount"`
	IsOnline       bool      `json:"isOnline"`
	AuthRequired   bool      `json:"authRequired"`
	LastSync       time.Time `json:"lastSync"`
}

// Engine owns the drain and reconcile passes. All exported methods are safe
// for concurrent use.
type Engine struct {
	cfg       Config
	store     *store.Store
	queue     *queue.Queue
	conflicts *conflict.Registry
	remote    remote.Client
	mirror    *mutate.Mutator

	mu           sync.Mutex
	draining     map[models.EntityType]bool
	authRequired bool
	online       bool
	lastSync     time.Time
	syncTokens   map[string]string
}

// New wires an Engine. mirror may be nil when no in-memory mirror needs
// refreshing after reconciliation (tests, headless tools).
func New(cfg Config, st *store.Store, q *queue.Queue, reg *conflict.Registry, rc remote.Client, mirror *mutate.Mutator) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		store:      st,
		queue:      q,
		conflicts:  reg,
		remote:     rc,
		mirror:     mirror,
		draining:   make(map[models.EntityType]bool),
		online:     true,
		syncTokens: make(map[string]string),
	}
}

// ClearAuthRequired re-enables dispatch after credentials were refreshed.
func (e *Engine) ClearAuthRequired() {
	e.mu.Lock()
	e.authRequired = false
	e.mu.Unlock()
}

// ProcessSyncQueue drains every entity type's pending entries. Distinct
// entity types drain concurrently; a drain for a type already in flight is
// coalesced into the running one and contributes nothing to the result.
func (e *Engine) ProcessSyncQueue(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.authRequired {
		e.mu.Unlock()
		return Result{Message: "authentication required"}, nil
	}
	e.mu.Unlock()

	start := time.Now()

	var (
		wg     sync.WaitGroup
		resMu  sync.Mutex
		total  Result
		halted bool
	)
	for _, entity := range models.EntityTypes {
		if !e.tryAcquire(entity) {
			continue
		}
		wg.Add(1)
		go func(entity models.EntityType) {
			defer wg.Done()
			defer e.release(entity)

			processed, failed, err := e.drainEntity(ctx, entity)
			resMu.Lock()
			total.Processed += processed
			total.Failed += failed
			if errors.Is(err, errAuthRequired) {
				halted = true
			}
			resMu.Unlock()
			if err != nil && !errors.Is(err, errAuthRequired) {
				logging.Error().Err(err).Str("entity", string(entity)).
					Msg("drain pass failed")
			}
		}(entity)
	}
	wg.Wait()

	metrics.ObserveDrain(time.Since(start).Seconds())
	e.refreshGauges(ctx)

	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	e.mu.Unlock()

	if halted {
		total.Message = "authentication required"
	}
	return total, nil
}

func (e *Engine) tryAcquire(entity models.EntityType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining[entity] {
		return false
	}
	e.draining[entity] = true
	return true
}

func (e *Engine) release(entity models.EntityType) {
	e.mu.Lock()
	delete(e.draining, entity)
	e.mu.Unlock()
}

// backoffDelay returns how long an entry with the given attempt count must
// wait after its last attempt before it is eligible again.
func (e *Engine) backoffDelay(attempts int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	return d
}

// drainEntity walks one entity type's queue in enqueue order. Once a record's
// entry fails or is gated by backoff, later entries for the same record are
// skipped so per-record ordering is never violated.
func (e *Engine) drainEntity(ctx context.Context, entity models.EntityType) (processed, failed int, err error) {
	entries, err := e.queue.Pending(ctx, entity)
	if err != nil {
		return 0, 0, fmt.Errorf("listing pending %s entries: %w", entity, err)
	}

	blocked := make(map[string]bool)
	for i := range entries {
		entry := &entries[i]
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}
		if blocked[entry.EntityID] {
			continue
		}
		if _, cErr := e.conflicts.Get(ctx, entry.EntityID); cErr == nil {
			// An unresolved conflict parks every queued change for
			// this record.
			blocked[entry.EntityID] = true
			continue
		} else if !errors.Is(cErr, conflict.ErrConflictNotFound) {
			return processed, failed, cErr
		}

		if entry.Attempts >= e.cfg.MaxAttempts {
			if err := e.abandon(ctx, entry); err != nil {
				return processed, failed, err
			}
			failed++
			continue
		}
		if entry.Attempts > 0 && time.Since(entry.LastAttemptAt) < e.backoffDelay(entry.Attempts) {
			blocked[entry.EntityID] = true
			continue
		}

		switch dispatchErr := e.dispatch(ctx, entry); {
		case dispatchErr == nil:
			e.setOnline(true)
			metrics.RecordDispatch(string(entity), "success")
			processed++

		case errors.Is(dispatchErr, errConflictRecorded):
			metrics.RecordDispatch(string(entity), "conflict")
			blocked[entry.EntityID] = true
			failed++

		case remote.Classify(dispatchErr) == remote.KindAuth:
			e.mu.Lock()
			e.authRequired = true
			e.mu.Unlock()
			metrics.RecordDispatch(string(entity), "auth")
			logging.Warn().Str("key", entry.Key).Msg("dispatch halted: credentials rejected")
			return processed, failed + 1, errAuthRequired

		case remote.Classify(dispatchErr) == remote.KindValidation:
			// A payload the service rejects as malformed will never
			// succeed on retry.
			if err := e.abandon(ctx, entry); err != nil {
				return processed, failed, err
			}
			metrics.RecordDispatch(string(entity), "abandoned")
			failed++

		default:
			if remote.Classify(dispatchErr) == remote.KindNetwork ||
				remote.Classify(dispatchErr) == remote.KindRateLimit {
				e.setOnline(false)
			}
			if err := e.queue.MarkAttempt(ctx, entry.Key, dispatchErr.Error()); err != nil {
				return processed, failed, err
			}
			metrics.RecordDispatch(string(entity), "retry")
			logging.Warn().Err(dispatchErr).
				Str("key", entry.Key).
				Int("attempts", entry.Attempts+1).
				Msg("dispatch failed, rescheduled")
			blocked[entry.EntityID] = true
			failed++
		}
	}
	return processed, failed, nil
}

// abandon retires an entry past the retry ceiling. The entry stays readable
// through Abandoned(); the record is flagged so the UI can surface it.
func (e *Engine) abandon(ctx context.Context, entry *queue.Entry) error {
	if err := e.queue.MarkAbandoned(ctx, entry.Key); err != nil {
		return fmt.Errorf("abandoning %s: %w", entry.Key, err)
	}
	e.markRecordStatus(ctx, entry.Entity, entry.EntityID, models.StatusError)
	logging.Error().
		Str("key", entry.Key).
		Str("entity", string(entry.Entity)).
		Str("entity_id", entry.EntityID).
		Int("attempts", entry.Attempts).
		Msg("change abandoned after exhausting retries")
	return nil
}

// dispatch sends one entry to the remote service. Only events have a remote
// surface; task, goal, and note changes confirm locally so the symmetric
// queue lifecycle still holds for them.
func (e *Engine) dispatch(ctx context.Context, entry *queue.Entry) error {
	if entry.Entity != models.EntityEvent {
		return e.confirmLocal(ctx, entry)
	}

	switch entry.Op {
	case models.OpCreate:
		return e.dispatchCreate(ctx, entry)
	case models.OpUpdate:
		return e.dispatchUpdate(ctx, entry)
	case models.OpDelete:
		return e.dispatchDelete(ctx, entry)
	default:
		return &remote.APIError{Kind: remote.KindValidation, Message: fmt.Sprintf("unknown operation %q", entry.Op)}
	}
}

// confirmLocal completes a change for an entity type with no remote
// counterpart: flip the record to synced and retire the entry.
func (e *Engine) confirmLocal(ctx context.Context, entry *queue.Entry) error {
	if entry.Op != models.OpDelete {
		e.markRecordStatus(ctx, entry.Entity, entry.EntityID, models.StatusSynced)
	}
	return e.queue.Remove(ctx, entry.Key)
}

// dispatchCreate pushes a locally created event. If the record already
// carries a RemoteID a previous attempt reached the service before the
// confirmation was recorded, so the create converts to an update instead of
// producing a remote duplicate.
func (e *Engine) dispatchCreate(ctx context.Context, entry *queue.Entry) error {
	rec, err := e.store.GetEvent(ctx, entry.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted locally before the create ever went out; the DELETE
		// entry behind us in the queue has nothing to undo remotely.
		return e.queue.Remove(ctx, entry.Key)
	}
	if err != nil {
		return err
	}

	var confirmed *models.Event
	if rec.RemoteID != "" {
		confirmed, err = e.remote.UpdateEvent(ctx, rec)
	} else {
		confirmed, err = e.remote.CreateEvent(ctx, rec)
	}
	if err != nil {
		return err
	}
	return e.applyConfirmed(ctx, entry, confirmed)
}

// dispatchUpdate sends a queued edit, first checking the current remote
// version against the version the edit was derived from. A mismatch means
// someone changed the event remotely while this change sat in the queue:
// record a conflict and leave the entry pending.
func (e *Engine) dispatchUpdate(ctx context.Context, entry *queue.Entry) error {
	rec, err := e.store.GetEvent(ctx, entry.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return e.queue.Remove(ctx, entry.Key)
	}
	if err != nil {
		return err
	}
	if rec.RemoteID == "" {
		// The create never confirmed. Send it as a create so the edit
		// is not lost.
		confirmed, err := e.remote.CreateEvent(ctx, rec)
		if err != nil {
			return err
		}
		return e.applyConfirmed(ctx, entry, confirmed)
	}

	// The drain pass iterates a snapshot; an earlier confirmation in this
	// pass may have rebased this entry's base version. Read the current
	// value before comparing.
	if cur, curErr := e.queue.Get(ctx, entry.Key); curErr == nil {
		entry.BaseVersion = cur.BaseVersion
	}

	current, err := e.remote.GetEvent(ctx, rec.CalendarID, rec.RemoteID)
	switch {
	case remote.Classify(err) == remote.KindNotFound:
		// Remote side deleted the event while our edit was queued.
		return e.recordConflict(ctx, entry, rec, nil)
	case err != nil:
		return err
	case current.Etag != entry.BaseVersion:
		return e.recordConflict(ctx, entry, rec, current)
	}

	confirmed, err := e.remote.UpdateEvent(ctx, rec)
	if err != nil {
		return err
	}
	return e.applyConfirmed(ctx, entry, confirmed)
}

// dispatchDelete removes the remote counterpart. The record is already gone
// locally, so the payload snapshot supplies the remote identifiers. A 404
// means the service already forgot the event, which is the desired end state.
func (e *Engine) dispatchDelete(ctx context.Context, entry *queue.Entry) error {
	var payload models.Event
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return &remote.APIError{Kind: remote.KindValidation, Message: "undecodable queue payload", Err: err}
		}
	}
	if payload.RemoteID == "" {
		// Never reached the remote service; nothing to delete there.
		return e.queue.Remove(ctx, entry.Key)
	}
	err := e.remote.DeleteEvent(ctx, payload.CalendarID, payload.RemoteID)
	if err != nil && remote.Classify(err) != remote.KindNotFound {
		return err
	}
	return e.queue.Remove(ctx, entry.Key)
}

// applyConfirmed writes the service's confirmed copy back over the local
// record and retires the entry. The result is applied only if the record
// still exists: a concurrent local delete supersedes the in-flight call, and
// the queued DELETE behind it will clean up the remote side.
func (e *Engine) applyConfirmed(ctx context.Context, entry *queue.Entry, confirmed *models.Event) error {
	rec, err := e.store.GetEvent(ctx, entry.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return e.queue.Remove(ctx, entry.Key)
	}
	if err != nil {
		return err
	}

	rec.RemoteID = confirmed.RemoteID
	rec.Etag = confirmed.Etag
	rec.SyncStatus = models.StatusSynced
	rec.UpdatedAt = time.Now().UTC()
	if err := e.store.PutEvent(ctx, rec); err != nil {
		return fmt.Errorf("confirming %s: %w", entry.EntityID, err)
	}
	if err := e.queue.Remove(ctx, entry.Key); err != nil {
		return err
	}
	if err := e.rebaseQueued(ctx, entry, confirmed.Etag); err != nil {
		return err
	}
	if e.mirror != nil {
		return e.mirror.Reload(ctx)
	}
	return nil
}

// rebaseQueued advances the base version of later pending entries for the
// same record after one of its own changes confirmed. Those entries were
// derived from the base the confirmed change consumed; without the rebase
// the dispatcher's own etag advance would trip conflict detection.
func (e *Engine) rebaseQueued(ctx context.Context, entry *queue.Entry, newBase string) error {
	if newBase == entry.BaseVersion {
		return nil
	}
	pending, err := e.queue.Pending(ctx, entry.Entity)
	if err != nil {
		return err
	}
	for i := range pending {
		later := &pending[i]
		if later.EntityID != entry.EntityID || later.BaseVersion != entry.BaseVersion {
			continue
		}
		if err := e.queue.Rebase(ctx, later.Key, newBase); err != nil {
			return err
		}
	}
	return nil
}

// recordConflict files both versions in the registry and parks the record.
// The entry stays pending; the drain skips it until a resolution is applied.
func (e *Engine) recordConflict(ctx context.Context, entry *queue.Entry, local, remoteRec *models.Event) error {
	localRaw, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("marshal local version: %w", err)
	}
	var remoteRaw json.RawMessage
	if remoteRec != nil {
		remoteRaw, err = json.Marshal(remoteRec)
		if err != nil {
			return fmt.Errorf("marshal remote version: %w", err)
		}
	}
	rec := conflict.Record{
		EntityID:      entry.EntityID,
		Entity:        entry.Entity,
		LocalVersion:  localRaw,
		RemoteVersion: remoteRaw,
		QueueKey:      entry.Key,
	}
	if err := e.conflicts.Record(ctx, rec); err != nil {
		return fmt.Errorf("recording conflict: %w", err)
	}
	e.markRecordStatus(ctx, entry.Entity, entry.EntityID, models.StatusConflict)
	logging.Warn().
		Str("entity_id", entry.EntityID).
		Str("key", entry.Key).
		Msg("remote changed underneath a queued update, conflict recorded")
	return errConflictRecorded
}

// markRecordStatus flips a record's sync status, best effort. A missing
// record is fine (deleted while its change was in flight).
func (e *Engine) markRecordStatus(ctx context.Context, entity models.EntityType, id string, status models.SyncStatus) {
	var err error
	switch entity {
	case models.EntityEvent:
		var rec *models.Event
		if rec, err = e.store.GetEvent(ctx, id); err == nil {
			rec.SyncStatus = status
			err = e.store.PutEvent(ctx, rec)
		}
	case models.EntityTask:
		var rec *models.Task
		if rec, err = e.store.GetTask(ctx, id); err == nil {
			rec.SyncStatus = status
			err = e.store.PutTask(ctx, rec)
		}
	case models.EntityGoal:
		var rec *models.Goal
		if rec, err = e.store.GetGoal(ctx, id); err == nil {
			rec.SyncStatus = status
			err = e.store.PutGoal(ctx, rec)
		}
	case models.EntityNote:
		var rec *models.Note
		if rec, err = e.store.GetNote(ctx, id); err == nil {
			rec.SyncStatus = status
			err = e.store.PutNote(ctx, rec)
		}
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Warn().Err(err).Str("id", id).Msg("could not update record sync status")
	}
}

func (e *Engine) setOnline(v bool) {
	e.mu.Lock()
	e.online = v
	e.mu.Unlock()
}

// Status reports the queue, conflict, and connectivity snapshot consumed by
// the settings surface.
func (e *Engine) Status(ctx context.Context) (SyncStatus, error) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	conflicts, err := e.conflicts.Count(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncStatus{
		PendingCount:   stats.Pending,
		ConflictCount:  conflicts,
		AbandonedCount: stats.Abandoned,
		IsOnline:       e.online,
		AuthRequired:   e.authRequired,
		LastSync:       e.lastSync,
	}, nil
}

// DiscardAbandoned drops an abandoned entry by its entry ID. This is the
// explicit user-visible resolution; nothing else removes abandoned entries.
func (e *Engine) DiscardAbandoned(ctx context.Context, entryID string) error {
	entries, err := e.queue.Abandoned(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == entryID {
			return e.queue.Remove(ctx, entries[i].Key)
		}
	}
	return queue.ErrEntryNotFound
}

// refreshGauges pushes current depths to the metrics registry, best effort.
func (e *Engine) refreshGauges(ctx context.Context) {
	for _, entity := range models.EntityTypes {
		if pending, err := e.queue.Pending(ctx, entity); err == nil {
			metrics.SetQueueDepth(string(entity), len(pending))
		}
	}
	if abandoned, err := e.queue.Abandoned(ctx); err == nil {
		metrics.SetAbandoned(len(abandoned))
	}
	if n, err := e.conflicts.Count(ctx); err == nil {
		metrics.SetConflicts(n)
	}
}
