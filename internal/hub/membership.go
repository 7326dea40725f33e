package hub

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"go.uber.org/zap"
)

// Membership keeps participant presence in step with the connections joined to each room.
type Membership struct {
	gateway     Gateway
	access      *AccessEvaluator
	registry    *Registry
	broadcaster *Broadcaster
	locks       *keyedMutex
	logger      *zap.Logger
}

func newMembership(gateway Gateway, access *AccessEvaluator, registry *Registry, broadcaster *Broadcaster, logger *zap.Logger) *Membership {
	return &Membership{
		gateway:     gateway,
		access:      access,
		registry:    registry,
		broadcaster: broadcaster,
		locks:       newKeyedMutex(),
		logger:      logger,
	}
}

// Join admits conn into sessionID when the access rule allows it and
// announces the new roster to the whole room. A refusal is answered with
// access_denied on conn alone.
func (m *Membership) Join(ctx context.Context, conn *Conn, sessionID string, cursor *store.CursorPosition) error {
	userID := conn.UserID()
	decision, err := m.access.Evaluate(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !decision.Admitted {
		m.broadcaster.Send(conn, NewAccessDenied(sessionID, decision))
		m.logger.Debug("join refused",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.String("reason", string(decision.Reason)))
		return nil
	}

	if current := conn.SessionID(); current != "" && current != sessionID {
		if err := m.Leave(ctx, conn); err != nil {
			m.logger.Warn("leaving previous room failed",
				zap.String("session_id", current),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	if err := m.upsertActive(ctx, conn, sessionID, userID, cursor); err != nil {
		return err
	}
	m.logger.Info("participant joined",
		zap.Uint64("conn_id", conn.ID()),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("reason", string(decision.Reason)))
	return m.announce(ctx, sessionID)
}

func (m *Membership) upsertActive(ctx context.Context, conn *Conn, sessionID, userID string, cursor *store.CursorPosition) error {
	unlock := m.locks.Lock(participantKey(sessionID, userID))
	defer unlock()

	_, err := m.gateway.GetParticipant(ctx, sessionID, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, err = m.gateway.AddParticipant(ctx, store.Participant{
			SessionID: sessionID,
			UserID:    userID,
			Cursor:    cursor,
			IsActive:  true,
		})
	case err == nil:
		active := true
		_, err = m.gateway.UpdateParticipant(ctx, sessionID, userID, store.ParticipantUpdate{
			IsActive: &active,
			Cursor:   cursor,
		})
	}
	if err != nil {
		return err
	}
	conn.setSessionID(sessionID)
	return nil
}

// Leave takes conn out of its room. The participant row is kept and marked
// inactive unless another connection of the same user is still in the room.
func (m *Membership) Leave(ctx context.Context, conn *Conn) error {
	userID, sessionID := conn.State()
	if sessionID == "" {
		return nil
	}

	var removeErr error
	unlock := m.locks.Lock(participantKey(sessionID, userID))
	if userID != "" && !m.registry.claimedElsewhere(sessionID, userID, conn) {
		removeErr = m.gateway.RemoveParticipant(ctx, sessionID, userID)
		if errors.Is(removeErr, store.ErrNotFound) {
			removeErr = nil
		}
	}
	conn.setSessionID("")
	unlock()

	m.logger.Info("participant left",
		zap.Uint64("conn_id", conn.ID()),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))

	if err := m.announce(ctx, sessionID); err != nil && removeErr == nil {
		return err
	}
	return removeErr
}

// UpdateCursor stores the caret of a joined participant and relays it to the
// rest of the room.
func (m *Membership) UpdateCursor(ctx context.Context, conn *Conn, cursor store.CursorPosition) error {
	userID, sessionID := conn.State()
	if userID == "" {
		return ErrNotAuthenticated
	}
	if sessionID == "" {
		return ErrNotJoined
	}

	unlock := m.locks.Lock(participantKey(sessionID, userID))
	defer unlock()
	if _, err := m.gateway.UpdateParticipant(ctx, sessionID, userID, store.ParticipantUpdate{Cursor: &cursor}); err != nil {
		return err
	}
	m.broadcaster.ToRoom(sessionID, NewCursorUpdate(userID, cursor), conn)
	return nil
}

// announce sends the full roster, active and inactive, to every connection in the room.
func (m *Membership) announce(ctx context.Context, sessionID string) error {
	participants, err := m.gateway.GetSessionParticipantsWithUsers(ctx, sessionID)
	if err != nil {
		return err
	}
	m.broadcaster.ToRoom(sessionID, NewParticipantsUpdate(sessionID, participants), nil)
	return nil
}
