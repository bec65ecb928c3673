// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server wraps an *http.Server as a supervised service, translating the
// blocking ListenAndServe pattern into suture's context-aware Serve.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServer creates a supervised HTTP server. shutdownTimeout bounds the
// graceful drain of in-flight requests; zero or negative selects 10s.
func NewServer(server *http.Server, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. It runs ListenAndServe until the context
// is canceled, then shuts down gracefully. http.ErrServerClosed is treated
// as a normal exit.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Server) String() string {
	return "http-server"
}
