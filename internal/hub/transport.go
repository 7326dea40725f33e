package hub

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultMaxMessageBytes = 1 << 20
	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
)

// TransportConfig tunes the websocket pumps. Zero values pick the defaults.
type TransportConfig struct {
	MaxMessageBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	return c
}

// ServeWebSocket attaches an upgraded socket to the hub and blocks until the
// peer goes away. Handlers run on a context detached from the request so a
// closing socket does not abort gateway calls already in flight.
func (h *Hub) ServeWebSocket(ctx context.Context, socket *websocket.Conn, boundUserID string, cfg TransportConfig) {
	cfg = cfg.withDefaults()
	conn := h.Connect(socket.RemoteAddr().String(), boundUserID)
	handlerCtx := context.WithoutCancel(ctx)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(socket, conn, cfg)
	}()

	h.readPump(handlerCtx, socket, conn, cfg)
	h.Disconnect(handlerCtx, conn)
	<-writerDone
}

func (h *Hub) readPump(ctx context.Context, socket *websocket.Conn, conn *Conn, cfg TransportConfig) {
	socket.SetReadLimit(cfg.MaxMessageBytes)
	_ = socket.SetReadDeadline(time.Now().Add(cfg.PongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, raw, err := socket.ReadMessage()
		if err != nil {
			h.logReadError(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			h.metrics.frameDropped(dropReasonMalformed)
			continue
		}
		h.Receive(ctx, conn, raw)
	}
}

func (h *Hub) writePump(socket *websocket.Conn, conn *Conn, cfg TransportConfig) {
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound():
			_ = socket.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed",
					zap.Uint64("conn_id", conn.ID()),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) logReadError(conn *Conn, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		h.logger.Warn("websocket frame exceeded read limit", zap.Uint64("conn_id", conn.ID()))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, net.ErrClosed):
		h.logger.Debug("websocket closed by peer", zap.Uint64("conn_id", conn.ID()))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		h.logger.Info("websocket closed unexpectedly",
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err))
	default:
		h.logger.Debug("websocket read ended",
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err))
	}
}
