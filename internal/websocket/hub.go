// Package websocket pushes live job progress (backup and restore steps)
// to connected API clients.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stackpilot/stackpilot/internal/logging"
)

// Event is one progress notification pushed to clients.
type Event struct {
	Type      string    `json:"type"` // "backup", "restore", "stack"
	Step      string    `json:"step"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one connected subscriber.
type Client struct {
	conn *websocket.Conn
	send chan Event
	hub  *Hub
	once sync.Once
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Hub fans events out to every connected client.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan Event

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates an empty hub. Run must be called before use.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 256),
		clients:    make(map[*Client]bool),
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			logging.L().Debug("websocket client connected", "clients", count)

		case client := <-h.unregister:
			h.drop(client)

		case event := <-h.events:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// Slow consumer; disconnect rather than block the hub.
					go h.drop(client)
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

// Broadcast queues an event for every connected client. It never blocks;
// events are dropped when the hub queue is full.
func (h *Hub) Broadcast(eventType, step, detail string) {
	event := Event{Type: eventType, Step: step, Detail: detail, Timestamp: time.Now()}
	select {
	case h.events <- event:
	default:
		logging.L().Warn("websocket event dropped", "type", eventType, "step", step)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach registers a new connection and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	client := &Client{conn: conn, send: make(chan Event, sendBuffer), hub: h}
	h.register <- client
	go client.writePump()
	go client.readPump()
	return client
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// writePump serializes outgoing events and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; the stream is one-way. It exists to
// notice disconnects and answer protocol-level pings.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
