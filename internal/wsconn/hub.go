// Package wsconn terminates client WebSocket connections, assigns each a
// connection id and lets the rest of the system push messages by id.
package wsconn

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"ecommerce/internal/apperr"
)

// MessageHandler handles one text message received on a connection. ctx
// carries the per-message deadline.
type MessageHandler func(ctx context.Context, connectionID string, payload []byte)

type conn struct {
	net.Conn
	wmu sync.Mutex
}

type Hub struct {
	timeout time.Duration

	mu      sync.RWMutex
	conns   map[string]*conn
	handler MessageHandler
}

// NewHub returns a hub that bounds every message handler by timeout.
func NewHub(timeout time.Duration) *Hub {
	return &Hub{timeout: timeout, conns: map[string]*conn{}}
}

// Handle installs the handler for incoming messages. It must be called
// before the hub serves connections.
func (h *Hub) Handle(fn MessageHandler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	// hijacked connections keep the server's read/write deadlines
	_ = c.SetDeadline(time.Time{})

	id := uuid.NewString()
	h.mu.Lock()
	h.conns[id] = &conn{Conn: c}
	h.mu.Unlock()
	slog.Info("websocket connected", "connection_id", id)

	go h.readLoop(id, c)
}

func (h *Hub) readLoop(id string, c net.Conn) {
	defer h.drop(id)

	for {
		payload, op, err := wsutil.ReadClientData(c)
		if err != nil {
			slog.Info("websocket disconnected", "connection_id", id, "reason", err)
			return
		}
		if op != ws.OpText {
			continue
		}

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		handler(ctx, id, payload)
		cancel()
	}
}

// Send writes data as a text frame to the connection. Unknown or broken
// connections yield ConnectionGone.
func (h *Hub) Send(ctx context.Context, connectionID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindConnectionGone, "wsconn.send", "connection is gone")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.SetWriteDeadline(deadline)
		defer c.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteServerMessage(c, ws.OpText, data); err != nil {
		h.drop(connectionID)
		return &apperr.Error{Kind: apperr.KindConnectionGone, Op: "wsconn.send", Msg: "connection is gone", Err: err}
	}
	return nil
}

// Disconnect closes the connection if it is still open.
func (h *Hub) Disconnect(connectionID string) {
	h.drop(connectionID)
}

// Close closes every open connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = map[string]*conn{}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}
