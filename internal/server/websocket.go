package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/gateway"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageTypeConnected = "session:connected"

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second

	disconnectTimeout = 10 * time.Second
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	hub      *Hub
	gateway  *gateway.Gateway

	// readLimit is above the frame ceiling so that oversize frames reach the
	// gateway and get a reply instead of tearing the socket down.
	readLimit int64
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	hub *Hub,
	gw *gateway.Gateway,
	maxFrameBytes int,
) *WebSocketServer {
	if maxFrameBytes <= 0 {
		maxFrameBytes = gateway.DefaultMaxFrameBytes
	}

	return &WebSocketServer{
		logger,
		upgrader,
		hub,
		gw,
		int64(maxFrameBytes) * 4,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.handleConnection).Methods(http.MethodGet)
}

func (s *WebSocketServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	connected, err := s.gateway.OnConnect(r.Context(), gateway.ConnectRequest{
		Token:         requestToken(r),
		Platform:      query.Get("platform"),
		DeviceId:      query.Get("deviceId"),
		SourceAddress: sourceAddress(r),
	})
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	handle := connected.ConnectionHandle
	logger := s.logger.With(zap.String("handle", handle))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		s.disconnect(r.Context(), logger, handle)

		return
	}

	c := s.hub.add(handle, conn)

	logger.Debug("websocket connection established")

	welcome, err := json.Marshal(broadcaster.NewMessage(MessageTypeConnected, connected))
	if err == nil {
		err = c.write(time.Now().Add(writeWait), websocket.TextMessage, welcome)
	}
	if err != nil {
		logger.Warn("failed to send welcome frame", zap.Error(err))
	}

	s.serve(r.Context(), logger, handle, c)
}

func (s *WebSocketServer) serve(ctx context.Context, logger *zap.Logger, handle string, c *client) {
	conn := c.conn

	done := make(chan struct{})
	defer func() {
		close(done)
		s.hub.remove(handle)
		_ = conn.Close()
		s.disconnect(ctx, logger, handle)
	}()

	conn.SetReadLimit(s.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go keepAlive(c, done)

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}

			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		response, err := s.gateway.OnMessage(ctx, handle, frame)
		if response != nil {
			payload, marshalErr := json.Marshal(response)
			if marshalErr != nil {
				logger.Error("failed to encode response", zap.Error(marshalErr))
			} else if writeErr := c.write(time.Now().Add(writeWait), websocket.TextMessage, payload); writeErr != nil {
				logger.Debug("failed to write response", zap.Error(writeErr))
				return
			}
		}

		if errors.Is(err, gateway.ErrSessionGone) {
			closeMessage := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended, please reconnect")
			_ = c.write(time.Now().Add(writeWait), websocket.CloseMessage, closeMessage)

			return
		}
	}
}

func (s *WebSocketServer) disconnect(ctx context.Context, logger *zap.Logger, handle string) {
	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	err := s.gateway.OnDisconnect(disconnectCtx, handle)
	if err != nil {
		logger.Error("failed to record disconnect", zap.Error(err))
	}
}

func keepAlive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := c.write(time.Now().Add(writeWait), websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

func requestToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}

// sourceAddress prefers the first X-Forwarded-For hop set by the load
// balancer over the socket peer.
func sourceAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
