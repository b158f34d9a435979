// Package dashboard implements the admin live dashboard: a WebSocket hub
// that broadcasts Rule Engine decisions and escalations to connected admin
// clients as they happen, alongside the request/response admin API.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/romanbabin/convogate/internal/ratelimit"
	"github.com/romanbabin/convogate/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one message broadcast to every connected dashboard client.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Event type constants, published by internal/orchestrator as turns
// complete with a non-Allow decision.
const (
	EventModerationDecision = "moderation_decision"
	EventEscalation         = "escalation"
)

// Hub manages WebSocket connections and broadcasts Events to all of them.
// Admin-key authentication happens at the HTTP router layer before a
// request ever reaches HandleWebSocket; Hub itself only rate-limits new
// connections per remote address.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	connLimiter *ratelimit.Limiter

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *metrics.DashboardMetrics
}

// New builds a Hub. connLimiter may be nil to disable per-IP connection
// rate limiting; logger and m may be nil.
func New(connLimiter *ratelimit.Limiter, logger *slog.Logger, m *metrics.DashboardMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:     make(map[*websocket.Conn]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		connLimiter: connLimiter,
		logger:      logger,
		metrics:     m,
	}
}

// Run drives the hub's register/unregister/broadcast loop until ctx is
// canceled. Must run in its own goroutine for the lifetime of the process.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("dashboard hub starting")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("dashboard hub stopping")
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ActiveConnections.Set(float64(count))
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ActiveConnections.Set(float64(count))
			}

		case event := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				go h.sendToClient(conn, event)
			}
			h.mu.RUnlock()
			if h.metrics != nil {
				h.metrics.EventsTotal.WithLabelValues(event.Type).Inc()
			}
		}
	}
}

func (h *Hub) sendToClient(conn *websocket.Conn, event Event) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug("dashboard client write failed, unregistering", "error", err)
		h.unregister <- conn
	}
}

// Publish broadcasts an event to every connected client. Satisfies
// orchestrator.Publisher. Non-blocking: a full broadcast buffer drops the
// event rather than stall the turn that produced it.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now()}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("dashboard broadcast buffer full, dropping event", "type", eventType)
	}
}

// HandleWebSocket upgrades the connection and registers it with the hub.
// GET /api/admin/ws/dashboard
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.connLimiter != nil && !h.connLimiter.Allow(remoteAddr(r)) {
		if h.metrics != nil {
			h.metrics.ConnectionsTotal.WithLabelValues("rate_limited").Inc()
		}
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		}
		h.logger.Warn("dashboard websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	}

	h.register <- conn
	go h.readPump(conn)
}

// readPump keeps the connection alive with ping/pong and unregisters it on
// any read error or client-initiated close; the dashboard is read-only from
// the client's perspective so no inbound message is ever acted on.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
