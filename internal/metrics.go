package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	connsTotal      atomic.Uint64
	activeConns     atomic.Int64
	eventsProcessed atomic.Uint64
	malformedEvents atomic.Uint64
	broadcastsSent  atomic.Uint64
	pageViews       atomic.Uint64
	sessionsReaped  atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.connsTotal.Add(1)
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncEvent() {
	m.eventsProcessed.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformedEvents.Add(1)
}

func (m *Metrics) IncBroadcast() {
	m.broadcastsSent.Add(1)
}

func (m *Metrics) IncPageView() {
	m.pageViews.Add(1)
}

func (m *Metrics) AddReaped(n int) {
	m.sessionsReaped.Add(uint64(n))
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"connections_total":  m.connsTotal.Load(),
		"active_connections": m.activeConns.Load(),
		"events_processed":   m.eventsProcessed.Load(),
		"malformed_events":   m.malformedEvents.Load(),
		"broadcasts_sent":    m.broadcastsSent.Load(),
		"page_views_total":   m.pageViews.Load(),
		"sessions_reaped":    m.sessionsReaped.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
