package hub

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Broadcaster fans frames out over the registry. Delivery is fire-and-forget:
// a frame that cannot be queued is dropped and never retried.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics
}

// NewBroadcaster builds a router over registry.
func NewBroadcaster(registry *Registry, logger *zap.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{registry: registry, logger: logger, metrics: metrics}
}

// ToRoom delivers frame to every writable connection joined to sessionID,
// skipping exclude when it is non-nil. It returns the number of connections
// the frame was queued to.
func (b *Broadcaster) ToRoom(sessionID string, frame OutboundFrame, exclude *Conn) int {
	if sessionID == "" {
		return 0
	}
	payload, ok := b.encode(frame)
	if !ok {
		return 0
	}
	delivered := 0
	for _, conn := range b.registry.Connections() {
		if conn == exclude || conn.SessionID() != sessionID {
			continue
		}
		if b.deliver(conn, frame.FrameType(), payload) {
			delivered++
		}
	}
	return delivered
}

// ToUser delivers frame to every connection that claims userID, in any room or none.
func (b *Broadcaster) ToUser(userID string, frame OutboundFrame) int {
	if userID == "" {
		return 0
	}
	payload, ok := b.encode(frame)
	if !ok {
		return 0
	}
	delivered := 0
	for _, conn := range b.registry.Connections() {
		if conn.UserID() != userID {
			continue
		}
		if b.deliver(conn, frame.FrameType(), payload) {
			delivered++
		}
	}
	return delivered
}

// Send delivers frame to a single connection.
func (b *Broadcaster) Send(conn *Conn, frame OutboundFrame) bool {
	if conn == nil {
		return false
	}
	payload, ok := b.encode(frame)
	if !ok {
		return false
	}
	return b.deliver(conn, frame.FrameType(), payload)
}

func (b *Broadcaster) encode(frame OutboundFrame) ([]byte, bool) {
	payload, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error("failed to encode outbound frame",
			zap.String("type", string(frame.FrameType())),
			zap.Error(err))
		return nil, false
	}
	return payload, true
}

func (b *Broadcaster) deliver(conn *Conn, messageType MessageType, payload []byte) bool {
	if !conn.writable() {
		return false
	}
	if !conn.enqueue(payload) {
		b.metrics.deliveryFailed()
		b.logger.Debug("outbound frame dropped",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("type", string(messageType)))
		return false
	}
	b.metrics.frameDelivered(messageType)
	return true
}
