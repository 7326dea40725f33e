package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
)

// ErrSessionNotFound indicates the session being evaluated does not exist.
var ErrSessionNotFound = errors.New("hub: session not found")

// AccessReason names the rule that produced a decision.
type AccessReason string

const (
	ReasonOwner           AccessReason = "owner"
	ReasonParticipant     AccessReason = "participant"
	ReasonAcceptedRequest AccessReason = "accepted_request"
	ReasonUnauthenticated AccessReason = "unauthenticated"
	ReasonNoAccess        AccessReason = "no_access"
)

// Decision is the outcome of an access evaluation.
type Decision struct {
	Admitted        bool
	RequiresAuth    bool
	RequiresRequest bool
	OwnerID         string
	Reason          AccessReason
	Session         store.Session
}

// AccessEvaluator decides whether a user may enter a session. The realtime
// join path and the HTTP read path share one instance.
type AccessEvaluator struct {
	gateway AccessGateway
	metrics *Metrics
}

// NewAccessEvaluator builds an evaluator over gateway.
func NewAccessEvaluator(gateway AccessGateway, metrics *Metrics) *AccessEvaluator {
	return &AccessEvaluator{gateway: gateway, metrics: metrics}
}

// Evaluate applies the access rule in order: identity, ownership, existing
// participant row, accepted collaboration request. Anything else is refused
// with the owner id attached so the caller can ask for permission.
func (e *AccessEvaluator) Evaluate(ctx context.Context, userID, sessionID string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		decision := Decision{RequiresAuth: true, Reason: ReasonUnauthenticated}
		e.metrics.accessDecided(decision.Reason)
		return decision, nil
	}

	session, err := e.gateway.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return Decision{}, err
	}

	decision, err := e.decide(ctx, userID, session)
	if err != nil {
		return Decision{}, err
	}
	e.metrics.accessDecided(decision.Reason)
	return decision, nil
}

func (e *AccessEvaluator) decide(ctx context.Context, userID string, session store.Session) (Decision, error) {
	admit := func(reason AccessReason) Decision {
		return Decision{Admitted: true, OwnerID: session.OwnerID, Reason: reason, Session: session}
	}

	if userID == session.OwnerID {
		return admit(ReasonOwner), nil
	}

	_, err := e.gateway.GetParticipant(ctx, session.ID, userID)
	switch {
	case err == nil:
		return admit(ReasonParticipant), nil
	case !errors.Is(err, store.ErrNotFound):
		return Decision{}, err
	}

	requests, err := e.gateway.GetCollaborationRequestsByUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	for _, request := range requests {
		if request.SessionID == session.ID && request.Status == store.RequestStatusAccepted {
			return admit(ReasonAcceptedRequest), nil
		}
	}

	return Decision{
		RequiresRequest: true,
		OwnerID:         session.OwnerID,
		Reason:          ReasonNoAccess,
		Session:         session,
	}, nil
}
