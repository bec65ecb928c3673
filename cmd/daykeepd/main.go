// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Command daykeepd runs the Daykeep planner daemon: the durable record
// store, the offline change queue, the background sync runner, and the local
// HTTP API, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/daykeep/daykeep/internal/api"
	"github.com/daykeep/daykeep/internal/config"
	"github.com/daykeep/daykeep/internal/conflict"
	"github.com/daykeep/daykeep/internal/engine"
	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/mutate"
	"github.com/daykeep/daykeep/internal/queue"
	"github.com/daykeep/daykeep/internal/remote"
	"github.com/daykeep/daykeep/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("daykeepd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Starting Daykeep")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	q := queue.New(st.DB())
	defer func() {
		if err := q.Close(); err != nil {
			logging.Error().Err(err).Msg("Queue close failed")
		}
	}()

	conflicts := conflict.New(st.DB())

	var remoteClient remote.Client = remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL:           cfg.Remote.BaseURL,
		Token:             cfg.Remote.Token,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
	})
	if cfg.Remote.BreakerEnabled {
		remoteClient = remote.NewBreakerClient(remoteClient)
	}

	mutator, err := mutate.New(ctx, st, q)
	if err != nil {
		return fmt.Errorf("warming record mirror: %w", err)
	}

	eng := engine.New(engine.Config{
		BaseDelay:         cfg.Sync.BaseDelay,
		MaxDelay:          cfg.Sync.MaxDelay,
		MaxAttempts:       cfg.Sync.MaxAttempts,
		SyncInterval:      cfg.Sync.Interval,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		CalendarIDs:       cfg.Sync.CalendarIDs,
	}, st, q, conflicts, remoteClient, mutator)

	handler := api.NewHandler(eng, mutator, conflicts, q)
	router := api.NewRouter(handler, &api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Bridge zerolog to slog so suture's lifecycle events land in the
	// same stream as everything else.
	slogLogger := slog.New(logging.NewSlogHandler())
	hook := (&sutureslog.Handler{Logger: slogLogger}).MustHook()

	supervisor := suture.New("daykeep", suture.Spec{
		EventHook:      hook,
		FailureBackoff: 15 * time.Second,
		Timeout:        10 * time.Second,
	})
	supervisor.Add(engine.NewRunner(eng))
	supervisor.Add(api.NewServer(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := supervisor.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supervisor: %w", err)
		}
		return nil
	}

	// Drain the supervisor's exit after cancellation.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor shutdown error")
	}

	logging.Info().Msg("Stopped")
	return nil
}
