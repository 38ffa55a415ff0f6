// Package realtime fans escrow events out to websocket subscribers.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Event feed is read-only and carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscription narrows which events a client receives. Zero values match
// everything.
type Subscription struct {
	EscrowID    string   `json:"escrowId,omitempty"`
	OrderID     string   `json:"orderId,omitempty"`
	Participant string   `json:"participant,omitempty"`
	Types       []string `json:"types,omitempty"`
}

func (s *Subscription) matches(event *escrow.Event) bool {
	if s.EscrowID != "" && s.EscrowID != event.EscrowID {
		return false
	}
	if s.OrderID != "" && s.OrderID != event.OrderID {
		return false
	}
	if s.Participant != "" {
		if s.Participant != event.Actor &&
			s.Participant != event.Data["payee"] &&
			s.Participant != event.Data["recipient"] &&
			s.Participant != event.Data["winner"] {
			return false
		}
	}
	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == string(event.Type) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Client is one websocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Hub owns the client set and the broadcast loop.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *escrow.Event
	stop       chan struct{}
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub. Call Run in a goroutine before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *escrow.Event, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run dispatches registrations and broadcasts until Stop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.ActiveWebSocketClients.Inc()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.ActiveWebSocketClients.Dec()
			}
		case event := <-h.broadcast:
			h.dispatch(event)
		case <-h.stop:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				metrics.ActiveWebSocketClients.Dec()
			}
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// BroadcastEvent queues an event for fan-out. Never blocks the caller; the
// feed is best effort.
func (h *Hub) BroadcastEvent(event *escrow.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event feed backlogged, dropping event", "type", event.Type)
	}
}

func (h *Hub) dispatch(event *escrow.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	for client := range h.clients {
		sub := client.subscription()
		if !sub.matches(event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer: drop the connection rather than the hub.
			delete(h.clients, client)
			close(client.send)
			metrics.ActiveWebSocketClients.Dec()
		}
	}
}

// HandleWS upgrades GET /ws connections and starts the pumps. The optional
// query parameters seed the subscription; clients can replace it later by
// sending a JSON subscription message.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub: Subscription{
			EscrowID:    c.Query("escrowId"),
			OrderID:     c.Query("orderId"),
			Participant: c.Query("participant"),
		},
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// drop hands the client back to the hub. Selecting on stop keeps a failing
// reader from blocking forever once the run loop has exited.
func (c *Client) drop() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.stop:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.drop()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
