package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the json frame exchanged on the /live websocket in both
// directions: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Events sent by agents and dashboards.
const (
	EventIdentifyVisitor      = "identify_visitor"
	EventPageVisit            = "page_visit"
	EventPageChange           = "page_change"
	EventUserActivity         = "user_activity"
	EventPageLeave            = "page_leave"
	EventHeartbeat            = "heartbeat"
	EventVisitorLeaving       = "visitor_leaving"
	EventPageVisibilityChange = "page_visibility_change"
	EventFocusChange          = "focus_change"
	EventCustomEvent          = "custom_event"
	EventRequestRefresh       = "request_refresh"
)

// Events sent by the server.
const (
	EventVisitorData              = "visitor_data"
	EventVisitorUpdate            = "visitor_update"
	EventVisitorsList             = "visitors_list"
	EventStatisticsUpdate         = "statistics_update"
	EventVisitorActivity          = "visitor_activity"
	EventVisitorLeft              = "visitor_left"
	EventHeartbeatReceived        = "heartbeat_received"
	EventVisitorVisibilityChanged = "visitor_visibility_changed"
	EventVisitorFocusChanged      = "visitor_focus_changed"
	EventCustomEventBroadcast     = "custom_event_broadcast"
)

type IdentifyPayload struct {
	VisitorID string `json:"visitorId"`
}

// VisitSnapshot is the full per-visitor snapshot carried by page_visit and
// page_change events.
type VisitSnapshot struct {
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
	Duration         int64   `json:"duration"`
	Timestamp        string  `json:"timestamp"`
	UserAgent        string  `json:"userAgent"`
	Referrer         string  `json:"referrer"`
	ScreenResolution string  `json:"screenResolution"`
	Language         string  `json:"language"`
}

type ActivityPayload struct {
	Activity  string `json:"activity"`
	Timestamp int64  `json:"timestamp"`
}

type PageLeavePayload struct {
	// Duration is in milliseconds, matching what page lifecycle hooks report.
	Duration  int64  `json:"duration"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatPayload struct {
	VisitorID    string `json:"visitorId"`
	Timestamp    int64  `json:"timestamp"`
	CurrentPath  string `json:"currentPath"`
	Duration     int64  `json:"duration"`
	LastActivity int64  `json:"lastActivity"`
}

type LeavingPayload struct {
	VisitorID   string `json:"visitorId"`
	CurrentPath string `json:"currentPath"`
	Duration    int64  `json:"duration"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
}

type VisibilityPayload struct {
	VisitorID string `json:"visitorId"`
	Visible   bool   `json:"visible"`
	Timestamp int64  `json:"timestamp"`
}

type FocusPayload struct {
	VisitorID string `json:"visitorId"`
	Focused   bool   `json:"focused"`
	Timestamp int64  `json:"timestamp"`
}

type CustomEventPayload struct {
	EventName string          `json:"eventName"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Server→client payloads.

type VisitorDataPayload struct {
	Visitors   []VisitorSession `json:"visitors"`
	Statistics Statistics       `json:"statistics"`
}

type VisitorLeftPayload struct {
	VisitorID string `json:"visitorId"`
	Duration  int64  `json:"duration"`
	LastPage  string `json:"lastPage"`
	Reason    string `json:"reason"`
}

type ActivityNotice struct {
	VisitorID string `json:"visitorId"`
	Activity  string `json:"activity"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatAck struct {
	VisitorID string `json:"visitorId"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
}

var errUnknownEvent = errors.New("unknown event")

// decodePayload validates an inbound envelope against the schema for its
// event name. A decode failure means the event is dropped, never an error
// surfaced to the sender.
func decodePayload(event string, raw json.RawMessage) (any, error) {
	switch event {
	case EventIdentifyVisitor:
		var p IdentifyPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.VisitorID == "" {
			return nil, fmt.Errorf("%s: missing visitorId", event)
		}
		return p, nil
	case EventPageVisit, EventPageChange:
		var p VisitSnapshot
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%s: missing id", event)
		}
		return p, nil
	case EventUserActivity:
		var p ActivityPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventPageLeave:
		var p PageLeavePayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventHeartbeat:
		var p HeartbeatPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.VisitorID == "" {
			return nil, fmt.Errorf("%s: missing visitorId", event)
		}
		return p, nil
	case EventVisitorLeaving:
		var p LeavingPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.VisitorID == "" {
			return nil, fmt.Errorf("%s: missing visitorId", event)
		}
		return p, nil
	case EventPageVisibilityChange:
		var p VisibilityPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.VisitorID == "" {
			return nil, fmt.Errorf("%s: missing visitorId", event)
		}
		return p, nil
	case EventFocusChange:
		var p FocusPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.VisitorID == "" {
			return nil, fmt.Errorf("%s: missing visitorId", event)
		}
		return p, nil
	case EventCustomEvent:
		var p CustomEventPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventRequestRefresh:
		return nil, nil
	}
	return nil, errUnknownEvent
}

func unmarshalPayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, out)
}

// marshalEvent wraps a payload in the wire envelope.
func marshalEvent(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
