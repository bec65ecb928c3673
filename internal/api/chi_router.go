// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daykeep/daykeep/internal/middleware"
)

// Router assembles the HTTP surface from the handler set and middleware
// configuration.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil middleware config selects the defaults.
func NewRouter(h *Handler, mwConfig *ChiMiddlewareConfig) *Router {
	return &Router{
		handler:       h,
		chiMiddleware: NewChiMiddleware(mwConfig),
	}
}

// Setup configures all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Liveness and metrics stay outside the rate limit so monitoring
	// never gets throttled out.
	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.Prometheus)

		// Sync control surface.
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", router.handler.SyncStatus)
			r.Post("/process", router.handler.SyncProcess)

			r.Get("/conflicts", router.handler.SyncConflicts)
			r.Post("/conflicts/{id}/resolve", router.handler.SyncResolve)

			r.Get("/abandoned", router.handler.SyncAbandoned)
			r.Post("/abandoned/{id}/discard", router.handler.SyncDiscard)
		})

		// Remote calendar management.
		r.Route("/calendars", func(r chi.Router) {
			r.Post("/{id}/reconcile", router.handler.CalendarReconcile)
			r.Delete("/{id}", router.handler.CalendarDisable)
		})

		// Record CRUD.
		r.Route("/events", func(r chi.Router) {
			r.Get("/", router.handler.ListEvents)
			r.Post("/", router.handler.CreateEvent)
			r.Get("/{id}", router.handler.GetEvent)
			r.Put("/{id}", router.handler.UpdateEvent)
			r.Delete("/{id}", router.handler.DeleteEvent)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", router.handler.ListTasks)
			r.Post("/", router.handler.CreateTask)
			r.Get("/{id}", router.handler.GetTask)
			r.Put("/{id}", router.handler.UpdateTask)
			r.Post("/{id}/toggle", router.handler.ToggleTask)
			r.Delete("/{id}", router.handler.DeleteTask)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", router.handler.ListGoals)
			r.Post("/", router.handler.CreateGoal)
			r.Get("/{id}", router.handler.GetGoal)
			r.Put("/{id}", router.handler.UpdateGoal)
			r.Delete("/{id}", router.handler.DeleteGoal)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", router.handler.ListNotes)
			r.Post("/", router.handler.CreateNote)
			r.Get("/{id}", router.handler.GetNote)
			r.Put("/{id}", router.handler.UpdateNote)
			r.Delete("/{id}", router.handler.DeleteNote)
		})
	})

	return r
}
