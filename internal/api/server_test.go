package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whalewatch/internal/dashboard"
	"whalewatch/internal/model"
)

type fakeRuntime struct {
	filters   dashboard.Filters
	recent    []model.Alert
	lastPoll  int
	refreshOK bool
}

func (f *fakeRuntime) Snapshot() map[string]any {
	return map[string]any{"watch_count": 3}
}

func (f *fakeRuntime) RecentAlerts(limit int) []model.Alert {
	if limit > 0 && limit < len(f.recent) {
		return f.recent[:limit]
	}
	return f.recent
}

func (f *fakeRuntime) Filters() dashboard.Filters { return f.filters }

func (f *fakeRuntime) SetFilters(update dashboard.FilterUpdate) dashboard.Filters {
	if update.MinUSD != nil {
		f.filters.MinUSD = *update.MinUSD
	}
	return f.filters
}

func (f *fakeRuntime) RefreshGeo(context.Context) error {
	if !f.refreshOK {
		return errors.New("explorer unavailable")
	}
	return nil
}

func (f *fakeRuntime) RefreshBalances(context.Context) error { return nil }

func (f *fakeRuntime) PollNow(context.Context) error {
	f.lastPoll++
	return nil
}

func newTestServer(rt Runtime) *Server {
	return &Server{runtime: rt, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(&fakeRuntime{})
	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest("GET", "/api/state", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["watch_count"] != float64(3) {
		t.Fatalf("snapshot not passed through: %v", body)
	}

	rec = httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest("POST", "/api/state", nil))
	if rec.Code != 405 {
		t.Fatalf("POST should be rejected: %d", rec.Code)
	}
}

func TestFiltersRoundTrip(t *testing.T) {
	rt := &fakeRuntime{}
	s := newTestServer(rt)

	rec := httptest.NewRecorder()
	s.handleFilters(rec, httptest.NewRequest("POST", "/api/state/filters", strings.NewReader(`{"min_usd": 250000}`)))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if rt.filters.MinUSD != 250000 {
		t.Fatalf("filter update not applied: %+v", rt.filters)
	}

	rec = httptest.NewRecorder()
	s.handleFilters(rec, httptest.NewRequest("POST", "/api/state/filters", strings.NewReader(`{not json`)))
	if rec.Code != 400 {
		t.Fatalf("invalid body should 400: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleFilters(rec, httptest.NewRequest("GET", "/api/state/filters", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["filters"]; !ok {
		t.Fatalf("filters missing from GET body: %v", body)
	}
}

func TestActionReportsErrors(t *testing.T) {
	rt := &fakeRuntime{}
	s := newTestServer(rt)

	handler := s.action("refresh-geo", rt.RefreshGeo)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/api/refresh-geo", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed action must return 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != false || body["error"] != "explorer unavailable" {
		t.Fatalf("failure must surface in the body: %v", body)
	}

	handler = s.action("poll-now", rt.PollNow)
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/api/poll-now", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("successful action must return 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true || rt.lastPoll != 1 {
		t.Fatalf("poll-now should run once: %v, %d", body, rt.lastPoll)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/poll-now", nil))
	if rec.Code != 405 {
		t.Fatalf("GET on an action should be rejected: %d", rec.Code)
	}
}

func TestRecentAlertsEndpoint(t *testing.T) {
	rt := &fakeRuntime{recent: []model.Alert{
		{DedupeKey: "k2", Text: "newer"},
		{DedupeKey: "k1", Text: "older"},
	}}
	s := newTestServer(rt)

	rec := httptest.NewRecorder()
	s.handleRecentAlerts(rec, httptest.NewRequest("GET", "/api/alerts/recent", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Count  int           `json:"count"`
		Alerts []model.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || body.Alerts[0].DedupeKey != "k2" {
		t.Fatalf("newest-first alert list expected: %+v", body)
	}

	rec = httptest.NewRecorder()
	s.handleRecentAlerts(rec, httptest.NewRequest("GET", "/api/alerts/recent?limit=1", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Fatalf("limit not honored: %+v", body)
	}

	rec = httptest.NewRecorder()
	s.handleRecentAlerts(rec, httptest.NewRequest("GET", "/api/alerts/recent?limit=bogus", nil))
	if rec.Code != 400 {
		t.Fatalf("invalid limit should 400: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleRecentAlerts(rec, httptest.NewRequest("POST", "/api/alerts/recent", nil))
	if rec.Code != 405 {
		t.Fatalf("POST should be rejected: %d", rec.Code)
	}
}
