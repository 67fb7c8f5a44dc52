package internal

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192

	upgradeLimit  = 20
	upgradeWindow = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the storefront and the tracking server run on different origins,
		// so cross-origin upgrades have to be allowed here.
		return true
	},
}

// Server ties the hub, the tracker and the HTTP surface together.
type Server struct {
	hub            *Hub
	tracker        *Tracker
	metrics        *Metrics
	upgradeLimiter *RateLimiter
	done           chan struct{}
}

func NewServer(cfg TrackerConfig) *Server {
	metrics := NewMetrics()
	hub := NewHub(metrics)
	tracker := NewTracker(cfg, hub, metrics)
	return &Server{
		hub:            hub,
		tracker:        tracker,
		metrics:        metrics,
		upgradeLimiter: NewRateLimiter(upgradeLimit, upgradeWindow),
		done:           make(chan struct{}),
	}
}

// Start launches the hub fan-out loop and the tracker run loop, which also
// drives the reaper.
func (s *Server) Start() {
	s.hub.Start()
	s.tracker.Start()
	go s.pruneLimiter()
}

func (s *Server) Stop() {
	close(s.done)
	s.tracker.Stop()
	s.hub.Stop()
}

// pruneLimiter evicts idle keys from the upgrade limiter so clients that
// connected once and left do not pin map entries.
func (s *Server) pruneLimiter() {
	ticker := time.NewTicker(upgradeWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.upgradeLimiter.Prune()
		case <-s.done:
			return
		}
	}
}

// ServeWS upgrades the request and registers the socket with the hub. Both
// presence agents and observer dashboards come through here; the protocol
// does not distinguish them until they start emitting events.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.upgradeLimiter.Allow(clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	conn := newConn(ws)
	s.hub.register <- conn
	s.metrics.IncConn()

	go conn.writePump()
	go conn.readPump(s)
}

// Conn wraps one websocket with a buffered send queue. The visitorID field
// is only touched from the tracker's run goroutine, after the connection
// identifies itself.
type Conn struct {
	id        string
	ws        *websocket.Conn
	visitorID string

	// sendMu serializes queueing against the hub closing the channel: the
	// tracker can still hold a reference to a conn the hub has already
	// dropped, and a send racing the close would panic.
	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, 256),
	}
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) VisitorID() string      { return c.visitorID }
func (c *Conn) SetVisitorID(id string) { c.visitorID = id }

// trySend queues a payload unless the conn is already torn down. A full
// buffer drops the payload rather than blocking the caller.
func (c *Conn) trySend(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// closeSend shuts the send queue exactly once. Only the hub calls this.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// SendEvent queues a private message for this connection alone.
func (c *Conn) SendEvent(event string, data any) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("encode %s: %v", event, err)
		return
	}
	c.trySend(payload)
}

func (c *Conn) readPump(s *Server) {
	defer func() {
		s.tracker.dispatch(inboundEvent{name: eventDisconnect, source: c})
		s.hub.unregister <- c
		c.ws.Close()
		s.metrics.DecConn()
	}()
	c.ws.SetReadLimit(maxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			// normal close or read error; deferred cleanup handles the rest.
			break
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			s.metrics.IncMalformed()
			continue
		}
		decoded, err := decodePayload(envelope.Event, envelope.Data)
		if err != nil {
			// a malformed or unknown event is a no-op, not an error.
			s.metrics.IncMalformed()
			continue
		}
		s.tracker.dispatch(inboundEvent{name: envelope.Event, payload: decoded, source: c})
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
