package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"live-collab-sync/internal/metrics"
)

const sendBufferSize = 256

// Client is one live socket. Send is owned by the hub: only the hub closes
// it, and only while holding its write lock.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Hub     *Hub
	limiter *rate.Limiter
}

// Hub tracks the connections held by this instance and delivers frames to
// them by connection id.
type Hub struct {
	clients    map[string]*Client
	unregister chan *Client
	done       chan struct{}
	closed     bool
	mutex      sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// add reports false once the hub has shut down.
func (h *Hub) add(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return false
	}
	h.clients[client.ID] = client
	metrics.ActiveConnections.Inc()
	h.log.Debug().Str("conn_id", client.ID).Int("clients", len(h.clients)).Msg("client connected")
	return true
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
		close(client.Send)
		metrics.ActiveConnections.Dec()
		h.log.Debug().Str("conn_id", client.ID).Int("clients", len(h.clients)).Msg("client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
		metrics.ActiveConnections.Dec()
	}
}

// Send queues data for connId without blocking. A client whose buffer is
// full is dropped.
func (h *Hub) Send(connId string, data []byte) bool {
	h.mutex.RLock()
	client, ok := h.clients[connId]
	if !ok {
		h.mutex.RUnlock()
		return false
	}
	select {
	case client.Send <- data:
		h.mutex.RUnlock()
		return true
	default:
		h.mutex.RUnlock()
	}

	h.log.Warn().Str("conn_id", connId).Msg("send buffer full, dropping client")
	go h.drop(client)
	return false
}

func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
