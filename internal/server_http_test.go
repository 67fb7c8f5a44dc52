package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRunningServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(TrackerConfig{ReapInterval: time.Hour})
	server.Start()
	t.Cleanup(server.Stop)
	return server
}

func TestHandleVisitorsEmptyRegistry(t *testing.T) {
	server := newRunningServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/visitors", nil)
	rec := httptest.NewRecorder()
	server.HandleVisitors(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp visitorsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Visitors == nil {
		t.Error("visitors must serialize as an empty array, not null")
	}
	if len(resp.Visitors) != 0 {
		t.Errorf("expected no visitors, got %d", len(resp.Visitors))
	}
}

func TestHandleVisitorsMethodGuard(t *testing.T) {
	server := newRunningServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/visitors", nil)
	rec := httptest.NewRecorder()
	server.HandleVisitors(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("expected Allow: GET, got %q", allow)
	}
}

func TestHandleStatisticsReflectsRegistry(t *testing.T) {
	server := newRunningServer(t)
	src := &fakeSource{id: "conn-1"}
	server.tracker.dispatch(inboundEvent{name: EventPageVisit, payload: snapshot("v1", "/plans"), source: src})

	deadline := time.Now().Add(time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/statistics", nil)
		rec := httptest.NewRecorder()
		server.HandleStatistics(rec, req)

		var stats Statistics
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if stats.OnlineVisitors == 1 && stats.TotalPageViews == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("statistics never reflected the visit: %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newRunningServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("unexpected status %q", resp.Status)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp is not RFC3339: %v", err)
	}
}

func TestMetricsHandlerServesCounters(t *testing.T) {
	server := newRunningServer(t)
	server.metrics.IncConn()
	server.metrics.IncMalformed()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.MetricsHandler().ServeHTTP(rec, req)

	var counters map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &counters); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if counters["connections_total"] != 1 {
		t.Errorf("expected connections_total 1, got %d", counters["connections_total"])
	}
	if counters["malformed_events"] != 1 {
		t.Errorf("expected malformed_events 1, got %d", counters["malformed_events"])
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	if ip := clientIP(req); ip != "192.0.2.10" {
		t.Errorf("expected remote host, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 192.0.2.10")
	if ip := clientIP(req); ip != "198.51.100.4" {
		t.Errorf("expected first forwarded hop, got %q", ip)
	}
}
