// Package approval implements the operator-facing human-approval gate:
// a WebSocket feed of pending approvals and the request/decision
// bookkeeping that backs gate.ApprovalCallback.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentpay/firewall/internal/idgen"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/metrics"
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType identifies the kind of event broadcast to console clients.
type EventType string

const (
	EventRequested EventType = "approval_requested"
	EventResolved  EventType = "approval_resolved"
)

// Event is a message pushed to every connected console client.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Request describes a payment waiting on a human decision.
type Request struct {
	ID        string              `json:"id"`
	Intent    intent.PaymentIntent `json:"intent"`
	CreatedAt time.Time           `json:"createdAt"`
}

type pending struct {
	request  Request
	decision chan bool
}

// ErrUnknownRequest is returned by Decide when the approval ID is not
// (or is no longer) pending.
var ErrUnknownRequest = errors.New("approval: unknown or already-resolved request")

// Client is a single connected console WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// MaxClients bounds concurrent console connections.
const MaxClients = 256

// Hub fans out pending-approval events to operator console clients and
// tracks in-flight approval decisions.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{}

	pendingMu sync.Mutex
	pendingByID map[string]*pending
}

// NewHub creates a Hub. Call Run in its own goroutine before using it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan *Event, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
		done:        make(chan struct{}),
		pendingByID: make(map[string]*pending),
	}
}

// Run drives the hub's connection/broadcast loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("approval console hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveApprovalConsoleClients.Set(0)
			h.logger.Info("approval console hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveApprovalConsoleClients.Set(float64(n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveApprovalConsoleClients.Set(float64(n))

		case event := <-h.broadcast:
			data, _ := json.Marshal(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Callback is a gate.ApprovalCallback that parks the caller until an
// operator approves or rejects the intent over the console, or ctx is
// canceled.
func (h *Hub) Callback(ctx context.Context, in intent.PaymentIntent) (bool, error) {
	req := Request{
		ID:        idgen.WithPrefix("appr_"),
		Intent:    in,
		CreatedAt: time.Now().UTC(),
	}

	p := &pending{request: req, decision: make(chan bool, 1)}
	h.pendingMu.Lock()
	h.pendingByID[req.ID] = p
	metrics.PendingApprovals.Set(float64(len(h.pendingByID)))
	h.pendingMu.Unlock()

	h.Broadcast(&Event{Type: EventRequested, Timestamp: time.Now(), Data: req})

	defer func() {
		h.pendingMu.Lock()
		delete(h.pendingByID, req.ID)
		metrics.PendingApprovals.Set(float64(len(h.pendingByID)))
		h.pendingMu.Unlock()
	}()

	select {
	case approved := <-p.decision:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Decide resolves a pending approval request. Safe to call from an
// HTTP handler.
func (h *Hub) Decide(id string, approved bool) error {
	h.pendingMu.Lock()
	p, ok := h.pendingByID[id]
	h.pendingMu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}

	select {
	case p.decision <- approved:
	default:
	}

	h.Broadcast(&Event{
		Type:      EventResolved,
		Timestamp: time.Now(),
		Data:      map[string]any{"id": id, "approved": approved},
	})
	return nil
}

// Pending lists currently outstanding approval requests.
func (h *Hub) Pending() []Request {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	out := make([]Request, 0, len(h.pendingByID))
	for _, p := range h.pendingByID {
		out = append(out, p.request)
	}
	return out
}

// Broadcast pushes an event to every connected console client.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("approval broadcast channel full, dropping event")
	}
}

// HandleWebSocket upgrades an HTTP request to a console WebSocket
// connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("approval console websocket upgrade failed", "error", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("approval console websocket read error", "error", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("approval console websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
