// Package fanout is the WebSocket hub that pushes patches to subscribed
// clients and the status aggregator that drives it from consolidated
// batches. Connections are grouped the way a SignalR-style hub groups
// clients by subscription; each group receives client-side method pushes
// as a {method, args} envelope.
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// invocation is the wire envelope for a pushed client-side method call.
type invocation struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// conn wraps one client connection with its own outbound queue so a single
// slow client can never block the broadcaster; sends are fire-and-forget.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{ws: ws, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *conn) writePump() {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *conn) close() {
	close(c.send)
	_ = c.ws.Close()
}

// Hub multiplexes connections into named subscriber groups.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*conn]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*conn]struct{})}
}

// Join registers ws under group (SubscribeToEvent / in-car group join).
func (h *Hub) Join(group string, ws *websocket.Conn) *conn {
	c := newConn(ws)
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*conn]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	return c
}

// Leave removes c from group (UnsubscribeFromEvent).
func (h *Hub) Leave(group string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	if _, present := members[c]; present {
		delete(members, c)
		c.close()
	}
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Send pushes a client-side method invocation to every member of group,
// fire-and-forget: a full per-connection queue drops the message for that
// connection rather than blocking the broadcaster. ctx cancellation stops
// the fan-out early.
func (h *Hub) Send(ctx context.Context, group, method string, args ...any) {
	payload, err := json.Marshal(invocation{Method: method, Args: args})
	if err != nil {
		return
	}
	h.mu.RLock()
	members := h.groups[group]
	targets := make([]*conn, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-ctx.Done():
			return
		case c.send <- payload:
		default:
		}
	}
}

// GroupSize reports how many connections are subscribed to group, for tests
// and health diagnostics.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
