package api

import (
	"context"
	"net/http"
	"sync"

	"argus/core"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The management API is same-origin or internal; tighten this before
	// exposing the stream publicly.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamHub pushes emitted alerts to connected websocket clients. It
// implements notify.AlertSink; a slow client is disconnected rather than
// allowed to backpressure alert delivery.
type StreamHub struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan *core.Alert
}

// NewStreamHub creates an empty hub
func NewStreamHub(logger *zap.SugaredLogger) *StreamHub {
	return &StreamHub{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan *core.Alert),
	}
}

func (h *StreamHub) Name() string { return "websocket" }

// OnAlert fans the alert out to every connected client without blocking
func (h *StreamHub) OnAlert(_ context.Context, alert *core.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- alert:
		default:
			h.logger.Warnw("Dropping slow websocket client",
				"remote", conn.RemoteAddr().String())
			delete(h.clients, conn)
			close(ch)
		}
	}
	return nil
}

// ClientCount reports connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleStream upgrades the connection and streams alerts until the
// client disconnects.
func (h *StreamHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan *core.Alert, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.logger.Infow("Websocket client connected", "remote", conn.RemoteAddr().String())

	// Reader goroutine: its only job is to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(ch)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case alert, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(alert); err != nil {
				h.logger.Debugw("Websocket write failed, dropping client",
					"remote", conn.RemoteAddr().String(),
					"error", err)
				return
			}
		case <-done:
			return
		}
	}
}
