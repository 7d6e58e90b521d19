package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goevery/broker/internal/broadcaster"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWriteWait = 10 * time.Second

// ErrNotLocal reports a handle whose socket is not held by this hub. The
// session may still be alive: mid-handshake, or on another broker instance.
var ErrNotLocal = errors.New("connection not held by this instance")

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// write serializes writers: gorilla connections allow one concurrent writer.
func (c *client) write(deadline time.Time, messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.SetWriteDeadline(deadline)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(messageType, payload)
}

// Hub tracks the sockets held by this process and delivers pushes to them.
// It is the broadcaster.Transport of a websocket deployment.
type Hub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
	}
}

func (h *Hub) add(handle string, conn *websocket.Conn) *client {
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[handle] = c
	h.mu.Unlock()

	return c
}

func (h *Hub) remove(handle string) {
	h.mu.Lock()
	delete(h.clients, handle)
	h.mu.Unlock()
}

func (h *Hub) get(handle string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[handle]

	return c, ok
}

// Push writes the payload as one text frame. Only a socket that fails to
// write is reported as gone; a handle this hub does not hold is ErrNotLocal.
func (h *Hub) Push(ctx context.Context, handle string, payload []byte) error {
	c, ok := h.get(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocal, handle)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	err := c.write(deadline, websocket.TextMessage, payload)
	if err != nil {
		h.logger.Debug("push write failed, dropping socket",
			zap.String("handle", handle),
			zap.Error(err))

		h.remove(handle)
		_ = c.conn.Close()

		return broadcaster.ErrGone
	}

	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// CloseAll sends a going-away close frame to every socket.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	closeMessage := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		_ = c.write(time.Now().Add(time.Second), websocket.CloseMessage, closeMessage)
		_ = c.conn.Close()
	}
}
