package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	server := newRunningServer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/live", server.ServeWS)
	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return server, conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := marshalEvent(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// awaitEvent reads frames until the wanted event arrives, skipping the
// unrelated broadcasts interleaved on the shared stream.
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		if envelope.Event == event {
			return envelope
		}
	}
}

func TestIdentifyRepliesWithCatchUpSnapshot(t *testing.T) {
	_, conn := dialTestServer(t)

	sendEvent(t, conn, EventIdentifyVisitor, IdentifyPayload{VisitorID: "dash_test"})
	envelope := awaitEvent(t, conn, EventVisitorData)

	var payload VisitorDataPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode visitor_data: %v", err)
	}
	if len(payload.Visitors) != 0 {
		t.Errorf("expected empty registry, got %d visitors", len(payload.Visitors))
	}
}

func TestPageVisitBroadcastsToObservers(t *testing.T) {
	_, agentConn := dialTestServer(t)

	sendEvent(t, agentConn, EventIdentifyVisitor, IdentifyPayload{VisitorID: "v1"})
	awaitEvent(t, agentConn, EventVisitorData)

	sendEvent(t, agentConn, EventPageVisit, snapshot("v1", "/plans"))

	awaitEvent(t, agentConn, EventStatisticsUpdate)
	update := awaitEvent(t, agentConn, EventVisitorUpdate)
	var visitor VisitorSession
	if err := json.Unmarshal(update.Data, &visitor); err != nil {
		t.Fatalf("decode visitor_update: %v", err)
	}
	if visitor.ID != "v1" || visitor.CurrentPage != "/plans" {
		t.Errorf("unexpected visitor update %+v", visitor)
	}
	if !visitor.IsOnline || !visitor.IsVisible {
		t.Error("fresh sessions start online and visible")
	}

	list := awaitEvent(t, agentConn, EventVisitorsList)
	var visitors []VisitorSession
	if err := json.Unmarshal(list.Data, &visitors); err != nil {
		t.Fatalf("decode visitors_list: %v", err)
	}
	if len(visitors) != 1 {
		t.Errorf("expected one visitor in list, got %d", len(visitors))
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	server, conn := dialTestServer(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	sendEvent(t, conn, "bogus_event", map[string]string{"x": "y"})

	// the connection survives and still works afterwards.
	sendEvent(t, conn, EventIdentifyVisitor, IdentifyPayload{VisitorID: "v1"})
	awaitEvent(t, conn, EventVisitorData)

	deadline := time.Now().Add(time.Second)
	for server.metrics.malformedEvents.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 malformed events, got %d", server.metrics.malformedEvents.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectMarksVisitorOffline(t *testing.T) {
	server, agentConn := dialTestServer(t)

	sendEvent(t, agentConn, EventIdentifyVisitor, IdentifyPayload{VisitorID: "v1"})
	awaitEvent(t, agentConn, EventVisitorData)
	sendEvent(t, agentConn, EventPageVisit, snapshot("v1", "/"))
	awaitEvent(t, agentConn, EventVisitorsList)

	_ = agentConn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		visitors, _ := server.tracker.Snapshot()
		if len(visitors) == 1 && !visitors[0].IsOnline {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("visitor never marked offline: %+v", visitors)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
