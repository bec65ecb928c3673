// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package remote is the typed HTTP client for the external calendar service.
//
// The client is an explicit instance injected into the sync components; there
// is no package-level singleton. Every operation returns an *APIError whose
// Kind the dispatcher switches on (auth, not_found, rate_limit, network,
// validation, generic). Responses are schema-validated before being handed to
// the sync core, so a malformed upstream payload surfaces as a validation
// error rather than corrupt local state.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/daykeep/daykeep/internal/logging"
	"github.com/daykeep/daykeep/internal/metrics"
	"github.com/daykeep/daykeep/internal/models"
)

// ListOptions narrows a FetchEvents call. PageToken continues a paged
// listing; SyncToken requests changes since the previous full listing.
type ListOptions struct {
	TimeMin   time.Time
	TimeMax   time.Time
	PageToken string
	SyncToken string
}

// EventPage is one page of a remote event listing.
type EventPage struct {
	Events        []models.Event
	NextPageToken string
	NextSyncToken string
}

// Client is the remote calendar surface the sync core consumes.
type Client interface {
	FetchEvents(ctx context.Context, calendarID string, opts ListOptions) (*EventPage, error)
	GetEvent(ctx context.Context, calendarID, remoteID string) (*models.Event, error)
	CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error)
	UpdateEvent(ctx context.Context, ev *models.Event) (*models.Event, error)
	DeleteEvent(ctx context.Context, calendarID, remoteID string) error
}

// wireEvent is the service's event representation. Only the fields the sync
// core needs are decoded; the rest of the upstream schema is ignored.
type wireEvent struct {
	ID          string    `json:"id" validate:"required"`
	Etag        string    `json:"etag" validate:"required"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required"`
	AllDay      bool      `json:"allDay"`
	Status      string    `json:"status"`
	Updated     time.Time `json:"updated"`
}

// wireEventList is a paged listing response.
type wireEventList struct {
	Items         []wireEvent `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
	NextSyncToken string      `json:"nextSyncToken"`
}

func (w *wireEvent) toModel(calendarID string) models.Event {
	return models.Event{
		RemoteID:    w.ID,
		CalendarID:  calendarID,
		Title:       w.Summary,
		Description: w.Description,
		Location:    w.Location,
		StartTime:   w.Start,
		EndTime:     w.End,
		AllDay:      w.AllDay,
		Etag:        w.Etag,
		UpdatedAt:   w.Updated,
	}
}

func wireFromModel(ev *models.Event) wireEvent {
	return wireEvent{
		ID:          ev.RemoteID,
		Etag:        ev.Etag,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.StartTime,
		End:         ev.EndTime,
		AllDay:      ev.AllDay,
	}
}

// HTTPClient is the concrete Client over the calendar service's REST API.
// Safe for concurrent use; each request builds its own http.Request.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	validate   *validator.Validate
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the calendar API root, e.g. https://calendar.example.com/v1.
	BaseURL string

	// Token is the bearer token. Acquisition and refresh happen outside
	// the sync core; an expired token surfaces as a KindAuth error.
	Token string

	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls ahead of the service's
	// own limiter. Default: 5.
	RequestsPerSecond float64

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewHTTPClient creates a client for the remote calendar API.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// FetchEvents lists events for a calendar, one page per call.
func (c *HTTPClient) FetchEvents(ctx context.Context, calendarID string, opts ListOptions) (*EventPage, error) {
	q := url.Values{}
	if !opts.TimeMin.IsZero() {
		q.Set("timeMin", opts.TimeMin.Format(time.RFC3339))
	}
	if !opts.TimeMax.IsZero() {
		q.Set("timeMax", opts.TimeMax.Format(time.RFC3339))
	}
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	if opts.SyncToken != "" {
		q.Set("syncToken", opts.SyncToken)
	}

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var list wireEventList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	page := &EventPage{
		NextPageToken: list.NextPageToken,
		NextSyncToken: list.NextSyncToken,
	}
	for i := range list.Items {
		if err := c.validate.Struct(&list.Items[i]); err != nil {
			return nil, &APIError{
				Kind:    KindValidation,
				Message: fmt.Sprintf("event %d in listing fails schema validation", i),
				Err:     err,
			}
		}
		page.Events = append(page.Events, list.Items[i].toModel(calendarID))
	}
	return page, nil
}

// GetEvent fetches one event by its remote identifier.
func (c *HTTPClient) GetEvent(ctx context.Context, calendarID, remoteID string) (*models.Event, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(remoteID))

	var w wireEvent
	if err := c.do(ctx, http.MethodGet, path, nil, &w); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&w); err != nil {
		return nil, &APIError{Kind: KindValidation, Message: "event fails schema validation", Err: err}
	}
	ev := w.toModel(calendarID)
	return &ev, nil
}

// CreateEvent creates a remote event and returns the service's copy,
// including the assigned remote identifier and version marker.
func (c *HTTPClient) CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(ev.CalendarID))

	var w wireEvent
	if err := c.do(ctx, http.MethodPost, path, wireFromModel(ev), &w); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&w); err != nil {
		return nil, &APIError{Kind: KindValidation, Message: "created event fails schema validation", Err: err}
	}
	created := w.toModel(ev.CalendarID)
	created.ID = ev.ID
	return &created, nil
}

// UpdateEvent replaces a remote event. The event must carry a RemoteID.
func (c *HTTPClient) UpdateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if ev.RemoteID == "" {
		return nil, &APIError{Kind: KindValidation, Message: "update requires a remote ID"}
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(ev.CalendarID), url.PathEscape(ev.RemoteID))

	var w wireEvent
	if err := c.do(ctx, http.MethodPut, path, wireFromModel(ev), &w); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&w); err != nil {
		return nil, &APIError{Kind: KindValidation, Message: "updated event fails schema validation", Err: err}
	}
	updated := w.toModel(ev.CalendarID)
	updated.ID = ev.ID
	return &updated, nil
}

// DeleteEvent removes a remote event.
func (c *HTTPClient) DeleteEvent(ctx context.Context, calendarID, remoteID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(remoteID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do performs one request: limiter wait, send, status classification, decode.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Kind: KindValidation, Message: "marshal request body", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &APIError{Kind: KindGeneric, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(method, string(KindNetwork))
		return &APIError{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := statusError(resp.StatusCode, string(bytes.TrimSpace(raw)))
		metrics.RecordRemoteRequest(method, string(apiErr.Kind))
		logging.Debug().
			Int("status", resp.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Str("path", path).
			Msg("remote request failed")
		return apiErr
	}

	metrics.RecordRemoteRequest(method, "ok")
	metrics.ObserveRemoteLatency(time.Since(start).Seconds())

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Kind: KindValidation, Message: "decode response", Err: err}
	}
	return nil
}
