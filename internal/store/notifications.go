package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// CreateNotification persists a notification for notification.UserID.
func (s *Store) CreateNotification(ctx context.Context, notification Notification) (Notification, error) {
	userID, err := ValidateIdentifier(notification.UserID)
	if err != nil {
		return Notification{}, newServiceError(opCreateNotification, reasonInvalidInput, err)
	}
	if strings.TrimSpace(notification.Type) == "" {
		return Notification{}, newServiceError(opCreateNotification, reasonInvalidInput, errors.New("type is required"))
	}
	id, err := s.newID(opCreateNotification)
	if err != nil {
		return Notification{}, err
	}
	notification.ID = id
	notification.UserID = userID
	notification.IsRead = false
	notification.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.logError(opCreateNotification, reasonInsertFailed, err, zap.String("user_id", userID))
		return Notification{}, newServiceError(opCreateNotification, reasonInsertFailed, err)
	}
	return notification, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var notifications []Notification
	if err := query.Order(orderCreatedAtDescending).Find(&notifications).Error; err != nil {
		s.logError(opListNotifications, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opListNotifications, reasonQueryFailed, err)
	}
	return notifications, nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkNotificationRead, reasonUpdateFailed, result.Error,
			zap.String("user_id", userID),
			zap.String("notification_id", notificationID))
		return newServiceError(opMarkNotificationRead, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opMarkNotificationRead, reasonNotFound, ErrNotFound)
	}
	return nil
}
