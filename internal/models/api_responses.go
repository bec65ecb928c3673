// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package models

import "time"

// APIResponse is the standard envelope returned by every HTTP endpoint.
//
// Status is "success" or "error". Data carries the payload on success;
// Error is populated only when Status is "error".
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries per-response observability fields.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the structured error body inside an error envelope.
//
// Common codes: VALIDATION_ERROR, NOT_FOUND, CONFLICT_ERROR, QUEUE_ERROR,
// SYNC_ERROR, METHOD_NOT_ALLOWED.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
