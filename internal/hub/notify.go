package hub

import (
	"context"
	"encoding/json"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Notification types raised by the collaboration request flow.
const (
	NotificationCollaborationRequest = "collaboration_request"
	NotificationRequestAccepted      = "request_accepted"
	NotificationRequestRejected      = "request_rejected"
)

type notificationWriter interface {
	CreateNotification(ctx context.Context, notification store.Notification) (store.Notification, error)
}

// Notifier persists notifications and pushes them to whichever connections
// the recipient has open. An offline recipient finds them in the backlog.
type Notifier struct {
	gateway     notificationWriter
	broadcaster *Broadcaster
	logger      *zap.Logger
}

func newNotifier(gateway notificationWriter, broadcaster *Broadcaster, logger *zap.Logger) *Notifier {
	return &Notifier{gateway: gateway, broadcaster: broadcaster, logger: logger}
}

// Notify stores the notification and returns it once persisted. Live
// delivery is best effort and has no effect on the result.
func (n *Notifier) Notify(ctx context.Context, userID, notificationType, title, message string, data any) (store.Notification, error) {
	var payload datatypes.JSON
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return store.Notification{}, err
		}
		payload = datatypes.JSON(encoded)
	}

	notification, err := n.gateway.CreateNotification(ctx, store.Notification{
		UserID:  userID,
		Type:    notificationType,
		Title:   title,
		Message: message,
		Data:    payload,
	})
	if err != nil {
		return store.Notification{}, err
	}

	delivered := n.broadcaster.ToUser(notification.UserID, NewNotification(notification))
	n.logger.Debug("notification pushed",
		zap.String("user_id", notification.UserID),
		zap.String("type", notificationType),
		zap.Int("connections", delivered))
	return notification, nil
}
