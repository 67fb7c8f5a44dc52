package internal

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodePayloadIdentify(t *testing.T) {
	decoded, err := decodePayload(EventIdentifyVisitor, json.RawMessage(`{"visitorId":"visitor_1_abc"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	payload, ok := decoded.(IdentifyPayload)
	if !ok {
		t.Fatalf("expected IdentifyPayload, got %T", decoded)
	}
	if payload.VisitorID != "visitor_1_abc" {
		t.Errorf("unexpected visitor id %q", payload.VisitorID)
	}
}

func TestDecodePayloadMissingID(t *testing.T) {
	for _, event := range []string{EventIdentifyVisitor, EventHeartbeat, EventVisitorLeaving, EventPageVisibilityChange, EventFocusChange} {
		if _, err := decodePayload(event, json.RawMessage(`{}`)); err == nil {
			t.Errorf("%s: expected error for missing id", event)
		}
	}
	if _, err := decodePayload(EventPageVisit, json.RawMessage(`{"currentPage":"/"}`)); err == nil {
		t.Error("page_visit without id should fail")
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	if _, err := decodePayload(EventPageVisit, json.RawMessage(`{not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := decodePayload(EventHeartbeat, nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestDecodePayloadUnknownEvent(t *testing.T) {
	_, err := decodePayload("no_such_event", json.RawMessage(`{}`))
	if !errors.Is(err, errUnknownEvent) {
		t.Errorf("expected errUnknownEvent, got %v", err)
	}
}

func TestDecodePayloadRequestRefresh(t *testing.T) {
	decoded, err := decodePayload(EventRequestRefresh, nil)
	if err != nil {
		t.Fatalf("request_refresh should accept an empty payload: %v", err)
	}
	if decoded != nil {
		t.Errorf("expected nil payload, got %v", decoded)
	}
}

func TestMarshalEventRoundTrip(t *testing.T) {
	frame, err := marshalEvent(EventVisitorLeft, VisitorLeftPayload{VisitorID: "v1", Duration: 42, LastPage: "/pricing", Reason: "timeout"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if envelope.Event != EventVisitorLeft {
		t.Errorf("unexpected event %q", envelope.Event)
	}
	var payload VisitorLeftPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.Reason != "timeout" || payload.LastPage != "/pricing" {
		t.Errorf("unexpected payload %+v", payload)
	}
}
