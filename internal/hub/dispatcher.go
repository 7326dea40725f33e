package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"go.uber.org/zap"
)

// Handler outcomes that are dropped without any reply to the client.
var (
	ErrNotAuthenticated = errors.New("hub: connection is not authenticated")
	ErrNotJoined        = errors.New("hub: connection has not joined a session")
	ErrMissingFileID    = errors.New("hub: fileId is required")
	ErrFileNotInRoom    = errors.New("hub: file does not belong to the current session")
	ErrIdentityMismatch = errors.New("hub: claimed identity differs from the authenticated session")
)

const (
	dropReasonMalformed   = "malformed"
	dropReasonUnknownType = "unknown_type"
	dropReasonRejected    = "rejected"
	dropReasonPanic       = "panic"
)

// Dispatcher parses inbound frames and routes them to the handler for their kind.
type Dispatcher struct {
	gateway     Gateway
	membership  *Membership
	broadcaster *Broadcaster
	fileLocks   *keyedMutex
	logger      *zap.Logger
	metrics     *Metrics
}

func newDispatcher(gateway Gateway, membership *Membership, broadcaster *Broadcaster, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		gateway:     gateway,
		membership:  membership,
		broadcaster: broadcaster,
		fileLocks:   newKeyedMutex(),
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch handles one raw frame from conn. It never panics and never
// returns an error: failures are logged and the connection stays open.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, raw []byte) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.metrics.frameDropped(dropReasonPanic)
			d.logger.Error("frame handler panicked",
				zap.Uint64("conn_id", conn.ID()),
				zap.Any("panic", recovered))
		}
	}()

	message, err := ParseInbound(raw)
	if err != nil {
		reason := dropReasonMalformed
		if errors.Is(err, ErrUnknownMessageType) {
			reason = dropReasonUnknownType
		}
		d.metrics.frameDropped(reason)
		d.logger.Debug("inbound frame dropped",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	d.metrics.frameReceived(message.Type())
	d.report(conn, message.Type(), d.route(ctx, conn, message))
}

func (d *Dispatcher) route(ctx context.Context, conn *Conn, message InboundMessage) error {
	switch typed := message.(type) {
	case AuthMessage:
		return d.handleAuth(ctx, conn, typed)
	case JoinSessionMessage:
		return d.membership.Join(ctx, conn, typed.SessionID, typed.Cursor)
	case LeaveSessionMessage:
		return d.membership.Leave(ctx, conn)
	case CursorUpdateMessage:
		return d.membership.UpdateCursor(ctx, conn, typed.Cursor)
	case CodeChangeMessage:
		return d.handleCodeChange(ctx, conn, typed)
	case ChatMessageMessage:
		return d.handleChatMessage(ctx, conn, typed)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessageType, message)
	}
}

func (d *Dispatcher) handleAuth(ctx context.Context, conn *Conn, message AuthMessage) error {
	if conn.boundUserID != "" && message.UserID != conn.boundUserID {
		return ErrIdentityMismatch
	}
	if conn.UserID() == message.UserID {
		return nil
	}
	if conn.SessionID() != "" {
		if err := d.membership.Leave(ctx, conn); err != nil {
			d.logger.Warn("leaving room on re-authentication failed",
				zap.Uint64("conn_id", conn.ID()),
				zap.Error(err))
		}
	}
	conn.setUserID(message.UserID)
	d.logger.Info("connection authenticated",
		zap.Uint64("conn_id", conn.ID()),
		zap.String("user_id", message.UserID))
	return nil
}

// handleCodeChange overwrites the whole file. Concurrent edits are resolved
// by last writer wins: the write and its broadcast run under the file's lock,
// so every reader sees the storage order.
func (d *Dispatcher) handleCodeChange(ctx context.Context, conn *Conn, message CodeChangeMessage) error {
	userID, sessionID := conn.State()
	if userID == "" {
		return ErrNotAuthenticated
	}
	if sessionID == "" {
		return ErrNotJoined
	}
	if message.FileID == "" {
		return ErrMissingFileID
	}

	unlock := d.fileLocks.Lock(message.FileID)
	defer unlock()

	file, err := d.gateway.GetFile(ctx, message.FileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFileNotInRoom, message.FileID)
		}
		return err
	}
	if file.SessionID != sessionID {
		return fmt.Errorf("%w: %s", ErrFileNotInRoom, message.FileID)
	}
	if _, err := d.gateway.UpdateFile(ctx, file.ID, message.Content); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFileNotInRoom, message.FileID)
		}
		return err
	}
	d.broadcaster.ToRoom(sessionID, NewCodeChange(file.ID, message.Content, userID), conn)
	return nil
}

func (d *Dispatcher) handleChatMessage(ctx context.Context, conn *Conn, message ChatMessageMessage) error {
	userID, sessionID := conn.State()
	if userID == "" {
		return ErrNotAuthenticated
	}
	if sessionID == "" {
		return ErrNotJoined
	}
	persisted, err := d.gateway.CreateMessage(ctx, sessionID, userID, message.Content)
	if err != nil {
		return err
	}
	d.broadcaster.ToRoom(sessionID, NewChatMessage(persisted), nil)
	return nil
}

// report decides what, if anything, the client sees for a handler outcome.
// Rejections are silent; gateway failures on join and chat surface as an
// error frame so the client does not wait forever.
func (d *Dispatcher) report(conn *Conn, messageType MessageType, err error) {
	if err == nil {
		return
	}
	if isRejection(err) {
		d.metrics.frameDropped(dropReasonRejected)
		d.logger.Debug("inbound frame rejected",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("type", string(messageType)),
			zap.Error(err))
		return
	}
	d.logger.Error("frame handler failed",
		zap.Uint64("conn_id", conn.ID()),
		zap.String("type", string(messageType)),
		zap.Error(err))
	switch messageType {
	case TypeJoinSession:
		d.broadcaster.Send(conn, NewError("Failed to join session"))
	case TypeChatMessage:
		d.broadcaster.Send(conn, NewError("Failed to send message"))
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		ErrNotAuthenticated,
		ErrNotJoined,
		ErrMissingFileID,
		ErrFileNotInRoom,
		ErrIdentityMismatch,
		ErrSessionNotFound,
		store.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
