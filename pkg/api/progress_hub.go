package api

import (
	"errors"
	"sync"
	"syscall"

	"github.com/gofiber/contrib/websocket"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// ProgressHub broadcasts published progress envelopes to websocket clients.
// A client that falls behind loses messages instead of stalling the others.
type ProgressHub struct {
	logger     customlog.Logger
	bufferSize int
	clients    map[*hubClient]struct{}
	closed     bool
	mu         sync.Mutex
}

type hubClient struct {
	send chan []byte
}

// NewProgressHub creates a hub with a per-client buffer of bufferSize messages
func NewProgressHub(bufferSize int, logger customlog.Logger) *ProgressHub {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &ProgressHub{
		logger:     logger,
		bufferSize: bufferSize,
		clients:    make(map[*hubClient]struct{}),
	}
}

// PublishMessage implements processing.MessagePublisher. The topic is not
// sent; the envelope already carries the event type.
func (h *ProgressHub) PublishMessage(topic string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debugf("Progress WS client buffer full, dropping %s", topic)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *ProgressHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *ProgressHub) register() *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	c := &hubClient{send: make(chan []byte, h.bufferSize)}
	h.clients[c] = struct{}{}
	return c
}

func (h *ProgressHub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Serve streams progress to one websocket connection until either side closes.
func (h *ProgressHub) Serve(conn *websocket.Conn) {
	client := h.register()
	if client == nil {
		return
	}
	defer h.unregister(client)
	h.logger.Infof("Progress WebSocket connected: %s", conn.RemoteAddr())

	// Incoming messages are ignored; reading detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) &&
					!errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
					h.logger.Errorf("Progress WS read error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugf("Progress WS write failed: %v", err)
				return
			}
		case <-done:
			h.logger.Infof("Progress WebSocket disconnected: %s", conn.RemoteAddr())
			return
		}
	}
}
