package internal

import (
	"log"
	"sync"
)

// Hub is the single fan-out point: every connected socket, agent or
// dashboard alike, receives every broadcast in the order the server emitted
// it.
type Hub struct {
	mutex      sync.RWMutex
	conns      map[*Conn]bool
	register   chan *Conn
	unregister chan *Conn
	broadcast  chan []byte
	metrics    *Metrics
	done       chan struct{}
}

func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		conns:      make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, 256),
		metrics:    metrics,
		done:       make(chan struct{}),
	}
}

// Start launches the fan-out loop.
func (hub *Hub) Start() {
	go hub.run()
}

func (hub *Hub) Stop() {
	close(hub.done)
}

// Size reports how many sockets are currently connected.
func (hub *Hub) Size() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.conns)
}

func (hub *Hub) run() {
	for {
		select {
		case conn := <-hub.register:
			hub.mutex.Lock()
			hub.conns[conn] = true
			hub.mutex.Unlock()
		case conn := <-hub.unregister:
			hub.mutex.Lock()
			if _, exists := hub.conns[conn]; exists {
				delete(hub.conns, conn)
				conn.closeSend()
			}
			hub.mutex.Unlock()
		case payload := <-hub.broadcast:
			// Fan out to every socket. A conn whose send buffer is full is
			// dropped so a slow dashboard cannot backpressure the hub.
			hub.mutex.Lock()
			for conn := range hub.conns {
				select {
				case conn.send <- payload:
				default:
					conn.closeSend()
					delete(hub.conns, conn)
				}
			}
			hub.mutex.Unlock()
		case <-hub.done:
			return
		}
	}
}

// Broadcast encodes the event and queues it for fan-out.
func (hub *Hub) Broadcast(event string, data any) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("broadcast encode %s: %v", event, err)
		return
	}
	if hub.metrics != nil {
		hub.metrics.IncBroadcast()
	}
	select {
	case hub.broadcast <- payload:
	case <-hub.done:
	}
}
