// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package engine

import (
	"context"
	"time"

	"github.com/daykeep/daykeep/internal/logging"
)

// Runner drives the engine on a schedule as a supervised service: a drain
// pass every SyncInterval and a reconcile pass over each configured calendar
// every ReconcileInterval. A failed pass is logged and the queue is left
// intact; the next tick tries again.
type Runner struct {
	engine *Engine
}

// NewRunner wraps the engine for supervision.
func NewRunner(e *Engine) *Runner {
	return &Runner{engine: e}
}

// Serve implements suture.Service. It runs until the context is canceled.
func (r *Runner) Serve(ctx context.Context) error {
	syncTicker := time.NewTicker(r.engine.cfg.SyncInterval)
	defer syncTicker.Stop()
	reconcileTicker := time.NewTicker(r.engine.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	// Reconcile once at startup so a reloaded process converges without
	// waiting a full interval.
	r.reconcileAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncTicker.C:
			res, err := r.engine.ProcessSyncQueue(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("scheduled drain pass failed")
				continue
			}
			if res.Processed > 0 || res.Failed > 0 {
				logging.Info().
					Int("processed", res.Processed).
					Int("failed", res.Failed).
					Str("message", res.Message).
					Msg("drain pass complete")
			}
		case <-reconcileTicker.C:
			r.reconcileAll(ctx)
		}
	}
}

func (r *Runner) reconcileAll(ctx context.Context) {
	for _, calendarID := range r.engine.cfg.CalendarIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.engine.Reconcile(ctx, calendarID); err != nil {
			logging.Error().Err(err).
				Str("calendar_id", calendarID).
				Msg("scheduled reconcile failed")
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (r *Runner) String() string {
	return "sync-runner"
}
