package hub

import (
	"context"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
)

// AccessGateway is the read-only slice of persistence the access evaluator needs.
type AccessGateway interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (store.Participant, error)
	GetCollaborationRequestsByUser(ctx context.Context, userID string) ([]store.CollaborationRequest, error)
}

// Gateway is the persistence surface consumed by the hub. *store.Store satisfies it.
type Gateway interface {
	AccessGateway
	GetSessionParticipantsWithUsers(ctx context.Context, sessionID string) ([]store.ParticipantView, error)
	AddParticipant(ctx context.Context, participant store.Participant) (store.Participant, error)
	UpdateParticipant(ctx context.Context, sessionID, userID string, update store.ParticipantUpdate) (store.Participant, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
	GetFile(ctx context.Context, fileID string) (store.File, error)
	UpdateFile(ctx context.Context, fileID, content string) (store.File, error)
	CreateMessage(ctx context.Context, sessionID, userID, content string) (store.Message, error)
	CreateNotification(ctx context.Context, notification store.Notification) (store.Notification, error)
}

var _ Gateway = (*store.Store)(nil)
