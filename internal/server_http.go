package internal

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"
)

type visitorsResponse struct {
	Visitors   []VisitorSession `json:"visitors"`
	Statistics Statistics       `json:"statistics"`
}

type healthResponse struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	OnlineVisitors   int    `json:"onlineVisitors"`
	TotalConnections int    `json:"totalConnections"`
}

// HandleVisitors serves the full registry snapshot plus statistics. The
// snapshot comes from the tracker's run loop, so it can never interleave
// with an in-progress mutation.
func (s *Server) HandleVisitors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	visitors, statistics := s.tracker.Snapshot()
	if visitors == nil {
		visitors = []VisitorSession{}
	}
	writeJSON(w, http.StatusOK, visitorsResponse{Visitors: visitors, Statistics: statistics})
}

// HandleStatistics serves the aggregate statistics alone.
func (s *Server) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	_, statistics := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, statistics)
}

// HandleHealth reports liveness along with the current presence headline.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	_, statistics := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		OnlineVisitors:   int(statistics.OnlineVisitors),
		TotalConnections: s.hub.Size(),
	})
}

// MetricsHandler exposes the process counters.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// clientIP prefers the forwarded header so the limiter keys on the real
// client behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
