package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocketChannel serves learner sessions over websockets. Each learner
// may hold several connections (multiple tabs); responses fan out to all
// of them.
type WebSocketChannel struct {
	mu      sync.RWMutex
	conns   map[string][]*websocket.Conn // learner id -> open connections
	handler func(Request)
	ctx     context.Context
}

// NewWebSocketChannel creates a websocket delivery channel.
func NewWebSocketChannel() *WebSocketChannel {
	return &WebSocketChannel{
		conns: make(map[string][]*websocket.Conn),
	}
}

// Start stores the request handler. Connections arrive via ServeHTTP.
func (c *WebSocketChannel) Start(ctx context.Context, handler func(Request)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	c.ctx = ctx
	return nil
}

// Stop closes all open connections.
func (c *WebSocketChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for learnerID, conns := range c.conns {
		for _, conn := range conns {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(c.conns, learnerID)
	}
	return nil
}

// ServeHTTP upgrades the request and pumps messages until the peer goes
// away. The learner id comes from the ?learner_id query parameter; session
// authentication happens upstream of this handler.
func (c *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learner_id")
	if learnerID == "" {
		http.Error(w, "learner_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept", "error", err)
		return
	}

	c.track(learnerID, conn)
	defer c.untrack(learnerID, conn)
	slog.Info("learner connected", "learner_id", learnerID)

	ctx := r.Context()
	for {
		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			slog.Debug("websocket read", "learner_id", learnerID, "error", err)
			conn.Close(websocket.StatusInvalidFramePayloadData, "malformed request")
			return
		}
		req.Channel = "websocket"
		req.LearnerID = learnerID

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler(req)
		}
	}
}

// Send writes the response to every open connection for the learner.
func (c *WebSocketChannel) Send(ctx context.Context, learnerID string, resp Response) error {
	c.mu.RLock()
	conns := append([]*websocket.Conn{}, c.conns[learnerID]...)
	c.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("learner %s has no open connection", learnerID)
	}
	for _, conn := range conns {
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			slog.Debug("websocket write", "learner_id", learnerID, "error", err)
		}
	}
	return nil
}

func (c *WebSocketChannel) track(learnerID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[learnerID] = append(c.conns[learnerID], conn)
}

func (c *WebSocketChannel) untrack(learnerID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.conns[learnerID]
	for i, other := range conns {
		if other == conn {
			c.conns[learnerID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(c.conns[learnerID]) == 0 {
		delete(c.conns, learnerID)
	}
}
