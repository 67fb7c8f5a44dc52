package internal

import (
	"testing"
	"time"
)

func startTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewMetrics())
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func registerConn(t *testing.T, hub *Hub) *Conn {
	t.Helper()
	conn := newConn(nil)
	hub.register <- conn
	deadline := time.Now().Add(time.Second)
	for hub.Size() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("conn never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestSendEventAfterSlowConsumerDrop(t *testing.T) {
	hub := startTestHub(t)
	conn := registerConn(t, hub)

	// no writePump is draining, so filling the queue makes the next
	// broadcast treat the conn as a slow consumer and drop it.
	for i := 0; i < cap(conn.send); i++ {
		conn.trySend([]byte("x"))
	}
	hub.Broadcast(EventStatisticsUpdate, Statistics{})

	deadline := time.Now().Add(time.Second)
	for hub.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow consumer was never dropped")
		}
		time.Sleep(time.Millisecond)
	}

	// the tracker may still answer an identify on the dropped conn; this
	// must be a quiet no-op, not a send on a closed channel.
	conn.SendEvent(EventVisitorData, VisitorDataPayload{})
}

func TestSendEventAfterUnregister(t *testing.T) {
	hub := startTestHub(t)
	conn := registerConn(t, hub)

	hub.unregister <- conn
	deadline := time.Now().Add(time.Second)
	for hub.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("conn never unregistered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.SendEvent(EventVisitorData, VisitorDataPayload{})
	conn.trySend([]byte("late"))
}

func TestCloseSendIsIdempotent(t *testing.T) {
	conn := newConn(nil)
	conn.closeSend()
	conn.closeSend()
	conn.trySend([]byte("late"))
}
