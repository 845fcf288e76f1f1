// Package monitor is an optional, read-only WebSocket dashboard: it
// broadcasts health reports and feed snapshots to connected clients and
// never blocks the health loop on a slow or absent client. Adapted from
// the teacher's bidirectional hub, trimmed to one direction — this surface
// has no command channel, since no external actor may control strategies.
package monitor

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub fans out broadcast messages to every connected Client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	clientBuf  int
	mu         sync.RWMutex
}

// NewHub constructs a Hub whose clients each get a send buffer of
// clientBufferSize messages.
func NewHub(clientBufferSize int) *Hub {
	if clientBufferSize <= 0 {
		clientBufferSize = 16
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clientBuf:  clientBufferSize,
	}
}

// Run is the hub's event loop; it must be started in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Debug().Msg("monitor client registered")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Debug().Msg("monitor client unregistered")

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// client can't keep up; drop it rather than block the
					// health loop that feeds this broadcast channel.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues message for delivery to every connected client. The
// send to h.broadcast itself is buffered and non-blocking by construction
// of the channel above; Broadcast never blocks the health reporter.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		// hub's own inbound buffer is full (no registered consumer keeping
		// up with Run); drop rather than stall the caller.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades an HTTP request to a WebSocket and registers a new
// read-only Client.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("monitor websocket upgrade failed")
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, h.clientBuf)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}
