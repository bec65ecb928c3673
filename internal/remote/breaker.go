// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package remote

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/models"
)

// BreakerClient wraps a Client with a circuit breaker so a dead or degraded
// calendar service stops consuming dispatch attempts. An open circuit
// surfaces as a network-kind error, which the dispatcher treats as
// retryable with backoff.
//
// Auth, not-found, and validation failures do not count against the circuit;
// the service answered, it just refused the request.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps inner with a circuit breaker.
//
// Configuration: opens at a 60% failure rate over at least 10 requests in a
// one-minute window, allows 3 probes in half-open, recovers after 2 minutes.
func NewBreakerClient(inner Client) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "remote-calendar",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch Classify(err) {
			case KindAuth, KindNotFound, KindValidation, KindGeneric:
				return true
			}
			return false
		},
	})

	return &BreakerClient{inner: inner, cb: cb}
}

// wrapBreakerErr converts gobreaker sentinel errors into network-kind API
// errors so callers only ever see the client's error taxonomy.
func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{Kind: KindNetwork, Message: "remote calendar circuit open", Err: err}
	}
	return err
}

// FetchEvents implements Client.
func (b *BreakerClient) FetchEvents(ctx context.Context, calendarID string, opts ListOptions) (*EventPage, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.FetchEvents(ctx, calendarID, opts)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.(*EventPage), nil
}

// GetEvent implements Client.
func (b *BreakerClient) GetEvent(ctx context.Context, calendarID, remoteID string) (*models.Event, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.GetEvent(ctx, calendarID, remoteID)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.(*models.Event), nil
}

// CreateEvent implements Client.
func (b *BreakerClient) CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.CreateEvent(ctx, ev)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.(*models.Event), nil
}

// UpdateEvent implements Client.
func (b *BreakerClient) UpdateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.UpdateEvent(ctx, ev)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.(*models.Event), nil
}

// DeleteEvent implements Client.
func (b *BreakerClient) DeleteEvent(ctx context.Context, calendarID, remoteID string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.DeleteEvent(ctx, calendarID, remoteID)
	})
	return wrapBreakerErr(err)
}
