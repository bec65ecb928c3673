// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a remote API failure. The sync dispatcher switches on
// this to decide between retry, halt, and abandonment.
type ErrorKind string

// Error kinds.
const (
	// KindAuth covers 401/403. Retrying cannot succeed without fresh
	// credentials; the dispatcher halts and surfaces auth-required.
	KindAuth ErrorKind = "auth"

	// KindNotFound covers 404.
	KindNotFound ErrorKind = "not_found"

	// KindRateLimit covers 429. Retried with backoff.
	KindRateLimit ErrorKind = "rate_limit"

	// KindNetwork covers transport failures and 5xx responses. Retried
	// with backoff, bounded attempts.
	KindNetwork ErrorKind = "network"

	// KindValidation covers malformed payloads in either direction.
	// Never retried; retrying cannot fix a schema mismatch.
	KindValidation ErrorKind = "validation"

	// KindGeneric covers everything else.
	KindGeneric ErrorKind = "generic"
)

// APIError is the typed error returned by every remote client operation.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements error.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote calendar: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote calendar: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is chains.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify extracts the error kind from any error returned by the client.
// Non-API errors classify as network failures: they come from the transport
// or from a tripped circuit breaker, both of which are retryable.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNetwork
}

// Retryable reports whether the dispatcher should retry after this error.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimit, KindNetwork:
		return true
	}
	return false
}

// kindForStatus maps an HTTP status code to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindNetwork
	default:
		return KindGeneric
	}
}

// statusError builds an APIError for a non-2xx response.
func statusError(status int, body string) *APIError {
	return &APIError{
		Kind:       kindForStatus(status),
		StatusCode: status,
		Message:    body,
	}
}
