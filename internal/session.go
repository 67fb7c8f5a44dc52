package internal

import "time"

// VisitorSession is the registry's in-memory record for one visitor. The
// location and browser fields are whatever the agent reported at session
// start; the server never re-derives them.
type VisitorSession struct {
	ID               string  `json:"id"`
	IP               string  `json:"ip"`
	Country          string  `json:"country"`
	City             string  `json:"city"`
	Region           string  `json:"region"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	Browser          string  `json:"browser"`
	OS               string  `json:"os"`
	Device           string  `json:"device"`
	CurrentPage      string  `json:"currentPage"`
	Referrer         string  `json:"referrer"`
	Duration         int64   `json:"duration"`
	Timestamp        string  `json:"timestamp"`
	UserAgent        string  `json:"userAgent"`
	ScreenResolution string  `json:"screenResolution"`
	Language         string  `json:"language"`
	IsVisible        bool    `json:"isVisible"`
	HasFocus         bool    `json:"hasFocus"`
	IsOnline         bool    `json:"isOnline"`

	// connectionID tracks the transport connection that last reported for
	// this visitor; it goes stale across reconnects until the next
	// page_visit re-associates it.
	connectionID string

	lastActivity  time.Time
	lastHeartbeat time.Time
}

// lastSeen is the sole input to expiry: the last heartbeat, falling back to
// the last activity for sessions that never sent one.
func (s *VisitorSession) lastSeen() time.Time {
	if !s.lastHeartbeat.IsZero() {
		return s.lastHeartbeat
	}
	return s.lastActivity
}

func newSessionFromSnapshot(snap VisitSnapshot, connectionID string, now time.Time) *VisitorSession {
	return &VisitorSession{
		ID:               snap.ID,
		IP:               snap.IP,
		Country:          snap.Country,
		City:             snap.City,
		Region:           snap.Region,
		Latitude:         snap.Latitude,
		Longitude:        snap.Longitude,
		Timezone:         snap.Timezone,
		Browser:          snap.Browser,
		OS:               snap.OS,
		Device:           snap.Device,
		CurrentPage:      snap.CurrentPage,
		Referrer:         snap.Referrer,
		Duration:         snap.Duration,
		Timestamp:        snap.Timestamp,
		UserAgent:        snap.UserAgent,
		ScreenResolution: snap.ScreenResolution,
		Language:         snap.Language,
		IsVisible:        true,
		HasFocus:         true,
		IsOnline:         true,
		connectionID:     connectionID,
		lastActivity:     now,
	}
}
