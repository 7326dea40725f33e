// Package hub is the realtime collaboration core: it tracks live connections,
// admits them into session rooms and fans edits, presence, chat and
// notifications out to the right subset of connections.
package hub

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

var errMissingGateway = errors.New("hub: gateway is required")

// Config describes the dependencies of a Hub.
type Config struct {
	Gateway    Gateway
	Logger     *zap.Logger
	Metrics    *Metrics
	SendBuffer int
}

// Hub owns one connection registry and the components that act on it.
// Independent hubs share nothing.
type Hub struct {
	registry   *Registry
	access     *AccessEvaluator
	membership *Membership
	dispatcher *Dispatcher
	notifier   *Notifier
	logger     *zap.Logger
	metrics    *Metrics
	sendBuffer int
	nextID     atomic.Uint64
}

// New wires a Hub over cfg.Gateway.
func New(cfg Config) (*Hub, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, logger, cfg.Metrics)
	access := NewAccessEvaluator(cfg.Gateway, cfg.Metrics)
	membership := newMembership(cfg.Gateway, access, registry, broadcaster, logger)

	return &Hub{
		registry:   registry,
		access:     access,
		membership: membership,
		dispatcher: newDispatcher(cfg.Gateway, membership, broadcaster, logger, cfg.Metrics),
		notifier:   newNotifier(cfg.Gateway, broadcaster, logger),
		logger:     logger,
		metrics:    cfg.Metrics,
		sendBuffer: cfg.SendBuffer,
	}, nil
}

// Connect registers a new unauthenticated connection. boundUserID, when set,
// is the identity proven at upgrade time; auth frames for any other user are ignored.
func (h *Hub) Connect(remoteAddr, boundUserID string) *Conn {
	conn := newConn(h.nextID.Add(1), remoteAddr, boundUserID, h.sendBuffer)
	h.registry.Register(conn)
	h.metrics.connectionOpened()
	h.logger.Info("connection opened",
		zap.Uint64("conn_id", conn.ID()),
		zap.String("remote_addr", remoteAddr),
		zap.String("bound_user_id", boundUserID))
	return conn
}

// Receive handles one inbound frame from conn.
func (h *Hub) Receive(ctx context.Context, conn *Conn, raw []byte) {
	h.dispatcher.Dispatch(ctx, conn, raw)
}

// Disconnect runs the leave path for conn, removes it from the registry and
// closes its outbound queue. Calling it twice is harmless.
func (h *Hub) Disconnect(ctx context.Context, conn *Conn) {
	if err := h.membership.Leave(ctx, conn); err != nil {
		h.logger.Error("leave on disconnect failed",
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err))
	}
	h.registry.Unregister(conn)
	if conn.close() {
		h.metrics.connectionClosed()
		h.logger.Info("connection closed",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("user_id", conn.UserID()))
	}
}

// Close disconnects every live connection.
func (h *Hub) Close(ctx context.Context) {
	for _, conn := range h.registry.Connections() {
		h.Disconnect(ctx, conn)
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Access() *AccessEvaluator {
	return h.access
}

func (h *Hub) Notifier() *Notifier {
	return h.notifier
}
