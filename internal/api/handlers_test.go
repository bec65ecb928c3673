// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/daykeep/daykeep/internal/conflict"
	"github.com/daykeep/daykeep/internal/engine"
	"github.com/daykeep/daykeep/internal/models"
	"github.com/daykeep/daykeep/internal/mutate"
	"github.com/daykeep/daykeep/internal/queue"
	"github.com/daykeep/daykeep/internal/remote"
	"github.com/daykeep/daykeep/internal/store"
)

// stubRemote implements remote.Client with scriptable behavior. The zero
// value confirms every operation.
type stubRemote struct {
	fetchFn  func(ctx context.Context, calendarID string, opts remote.ListOptions) (*remote.EventPage, error)
	getFn    func(ctx context.Context, calendarID, remoteID string) (*models.Event, error)
	createFn func(ctx context.Context, ev *models.Event) (*models.Event, error)
	updateFn func(ctx context.Context, ev *models.Event) (*models.Event, error)
	deleteFn func(ctx context.Context, calendarID, remoteID string) error
}

func (s *stubRemote) FetchEvents(ctx context.Context, calendarID string, opts remote.ListOptions) (*remote.EventPage, error) {
	if s.fetchFn != nil {
		return s.fetchFn(ctx, calendarID, opts)
	}
	return &remote.EventPage{}, nil
}

func (s *stubRemote) GetEvent(ctx context.Context, calendarID, remoteID string) (*models.Event, error) {
	if s.getFn != nil {
		return s.getFn(ctx, calendarID, remoteID)
	}
	return nil, &remote.APIError{Kind: remote.KindNotFound, Message: "no such event"}
}

func (s *stubRemote) CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if s.createFn != nil {
		return s.createFn(ctx, ev)
	}
	out := *ev
	out.RemoteID = "remote-" + ev.ID
	out.Etag = "v1"
	return &out, nil
}

func (s *stubRemote) UpdateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, ev)
	}
	out := *ev
	out.Etag = "v2"
	return &out, nil
}

func (s *stubRemote) DeleteEvent(ctx context.Context, calendarID, remoteID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, calendarID, remoteID)
	}
	return nil
}

type apiRig struct {
	store   *store.Store
	queue   *queue.Queue
	reg     *conflict.Registry
	remote  *stubRemote
	mutator *mutate.Mutator
	engine  *engine.Engine
	router  http.Handler
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st.DB())
	t.Cleanup(func() { _ = q.Close() })

	reg := conflict.New(st.DB())
	rc := &stubRemote{}

	m, err := mutate.New(context.Background(), st, q)
	if err != nil {
		t.Fatalf("create mutator: %v", err)
	}

	e := engine.New(engine.Config{
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxAttempts: 3,
	}, st, q, reg, rc, m)

	h := NewHandler(e, m, reg, q)
	router := NewRouter(h, &ChiMiddlewareConfig{RateLimitDisabled: true}).Setup()

	return &apiRig{store: st, queue: q, reg: reg, remote: rc, mutator: m, engine: e, router: router}
}

func (rig *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the envelope's data field into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Status != "success" {
		t.Fatalf("envelope status = %q, body %s", envelope.Status, rec.Body.String())
	}
	if v != nil {
		if err := json.Unmarshal(envelope.Data, v); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSyncStatusEmpty(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var status engine.SyncStatus
	decodeData(t, rec, &status)
	if status.PendingCount != 0 || status.ConflictCount != 0 || status.AbandonedCount != 0 {
		t.Fatalf("expected empty counts, got %+v", status)
	}
}

func TestCreateEventAndProcess(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/events", models.Event{
		Title:      "Dentist",
		CalendarID: "personal",
		StartTime:  time.Now(),
		EndTime:    time.Now().Add(time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.Event
	decodeData(t, rec, &created)
	if created.ID == "" {
		t.Fatal("expected generated event ID")
	}
	if created.SyncStatus != models.StatusPending {
		t.Fatalf("sync status = %q, want pending", created.SyncStatus)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	var status engine.SyncStatus
	decodeData(t, rec, &status)
	if status.PendingCount != 1 {
		t.Fatalf("pending = %d, want 1", status.PendingCount)
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/sync/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result engine.Result
	decodeData(t, rec, &result)
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 processed", result)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/events/"+created.ID, nil)
	var confirmed models.Event
	decodeData(t, rec, &confirmed)
	if confirmed.RemoteID != "remote-"+created.ID {
		t.Fatalf("remote ID = %q", confirmed.RemoteID)
	}
	if confirmed.SyncStatus != models.StatusSynced {
		t.Fatalf("sync status = %q, want synced", confirmed.SyncStatus)
	}
}

func TestEventCRUDRoundTrip(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/events", models.Event{
		Title:     "Standup",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(30 * time.Minute),
	})
	var created models.Event
	decodeData(t, rec, &created)

	created.Title = "Standup (moved)"
	rec = rig.do(t, http.MethodPut, "/api/v1/events/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/events", nil)
	var list struct {
		Events []models.Event `json:"events"`
		Total  int            `json:"total"`
	}
	decodeData(t, rec, &list)
	if list.Total != 1 || list.Events[0].Title != "Standup (moved)" {
		t.Fatalf("list = %+v", list)
	}

	rec = rig.do(t, http.MethodDelete, "/api/v1/events/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
}

func TestGetEventNotFound(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/api/v1/events/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var envelope models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Status != "error" || envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestCreateEventRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTaskToggle(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/tasks", models.Task{Title: "Water plants"})
	var created models.Task
	decodeData(t, rec, &created)

	rec = rig.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/toggle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body %s", rec.Code, rec.Body.String())
	}
	var toggled models.Task
	decodeData(t, rec, &toggled)
	if !toggled.Completed || toggled.CompletedAt == nil {
		t.Fatalf("toggled = %+v, want completed", toggled)
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/toggle", nil)
	decodeData(t, rec, &toggled)
	if toggled.Completed {
		t.Fatal("second toggle should clear completion")
	}
}

func TestConflictListAndResolve(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	ctx := context.Background()

	// A synced event with a queued update whose base version no longer
	// matches the remote: the drain pass must record a conflict.
	ev := &models.Event{
		ID:         "ev-1",
		RemoteID:   "r-1",
		CalendarID: "work",
		Title:      "Review",
		Etag:       "v1",
		SyncStatus: models.StatusSynced,
		StartTime:  time.Now(),
		EndTime:    time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := rig.store.PutEvent(ctx, ev); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	edited := *ev
	edited.Title = "Review (edited)"
	payload, _ := json.Marshal(&edited)
	if _, err := rig.queue.Enqueue(ctx, queue.Entry{
		Entity:      models.EntityEvent,
		EntityID:    ev.ID,
		Op:          models.OpUpdate,
		Payload:     payload,
		BaseVersion: "v1",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drifted := *ev
	drifted.Title = "Review (remote)"
	drifted.Etag = "v9"
	rig.remote.getFn = func(ctx context.Context, calendarID, remoteID string) (*models.Event, error) {
		return &drifted, nil
	}

	rec := rig.do(t, http.MethodPost, "/api/v1/sync/process", nil)
	var result engine.Result
	decodeData(t, rec, &result)
	if result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", result)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sync/conflicts", nil)
	var listing struct {
		Conflicts []conflict.Record `json:"conflicts"`
		Total     int               `json:"total"`
	}
	decodeData(t, rec, &listing)
	if listing.Total != 1 || listing.Conflicts[0].EntityID != ev.ID {
		t.Fatalf("listing = %+v", listing)
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/sync/conflicts/"+ev.ID+"/resolve",
		resolveRequest{Action: conflict.KeepRemote})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sync/conflicts", nil)
	decodeData(t, rec, &listing)
	if listing.Total != 0 {
		t.Fatalf("expected no conflicts after resolve, got %d", listing.Total)
	}

	got, err := rig.store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Title != "Review (remote)" {
		t.Fatalf("title = %q, want remote version", got.Title)
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/sync/conflicts/ghost/resolve",
		resolveRequest{Action: conflict.KeepLocal})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body.String())
	}
}

func TestResolveInvalidAction(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/sync/conflicts/ev-1/resolve",
		resolveRequest{Action: "discard-both"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestAbandonedListAndDiscard(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/events", models.Event{
		Title:     "Doomed",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	})
	var created models.Event
	decodeData(t, rec, &created)

	rig.remote.createFn = func(ctx context.Context, ev *models.Event) (*models.Event, error) {
		return nil, &remote.APIError{Kind: remote.KindValidation, StatusCode: 422, Message: "bad payload"}
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/sync/process", nil)
	var result engine.Result
	decodeData(t, rec, &result)
	if result.Failed != 1 {
		t.Fatalf("result = %+v, want abandonment counted as failed", result)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sync/abandoned", nil)
	var listing struct {
		Abandoned []queue.Entry `json:"abandoned"`
		Total     int           `json:"total"`
	}
	decodeData(t, rec, &listing)
	if listing.Total != 1 {
		t.Fatalf("abandoned total = %d, want 1", listing.Total)
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/sync/abandoned/"+listing.Abandoned[0].ID+"/discard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discard status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sync/abandoned", nil)
	decodeData(t, rec, &listing)
	if listing.Total != 0 {
		t.Fatalf("abandoned total after discard = %d, want 0", listing.Total)
	}
}

func TestDiscardUnknownEntry(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/sync/abandoned/ghost/discard", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCalendarReconcileAndDisable(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	now := time.Now().UTC().Truncate(time.Second)

	rig.remote.fetchFn = func(ctx context.Context, calendarID string, opts remote.ListOptions) (*remote.EventPage, error) {
		return &remote.EventPage{
			Events: []models.Event{{
				RemoteID:   "g-1",
				CalendarID: calendarID,
				Title:      "Remote planning",
				Etag:       "e1",
				StartTime:  now,
				EndTime:    now.Add(time.Hour),
			}},
			NextSyncToken: "tok-1",
		}, nil
	}

	rec := rig.do(t, http.MethodPost, "/api/v1/calendars/work/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result engine.ReconcileResult
	decodeData(t, rec, &result)
	if result.Fetched != 1 || result.Applied != 1 {
		t.Fatalf("result = %+v", result)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/events", nil)
	var list struct {
		Total int `json:"total"`
	}
	decodeData(t, rec, &list)
	if list.Total != 1 {
		t.Fatalf("events after reconcile = %d, want 1", list.Total)
	}

	rec = rig.do(t, http.MethodDelete, "/api/v1/calendars/work", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body %s", rec.Code, rec.Body.String())
	}
	var disabled struct {
		Removed int `json:"removed"`
	}
	decodeData(t, rec, &disabled)
	if disabled.Removed != 1 {
		t.Fatalf("removed = %d, want 1", disabled.Removed)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/events", nil)
	decodeData(t, rec, &list)
	if list.Total != 0 {
		t.Fatalf("events after disable = %d, want 0", list.Total)
	}
}

func TestReconcileRemoteFailure(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rig.remote.fetchFn = func(ctx context.Context, calendarID string, opts remote.ListOptions) (*remote.EventPage, error) {
		return nil, &remote.APIError{Kind: remote.KindNetwork, Message: "connection refused"}
	}

	rec := rig.do(t, http.MethodPost, "/api/v1/calendars/work/reconcile", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestRequestIDHeaderOnResponses(t *testing.T) {
	t.Parallel()

	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
