package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// CreateMessage persists a chat line and returns it with id, timestamp and username filled in.
func (s *Store) CreateMessage(ctx context.Context, sessionID, userID, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, newServiceError(opCreateMessage, reasonInvalidInput, errors.New("content is required"))
	}
	id, err := s.newID(opCreateMessage)
	if err != nil {
		return Message{}, err
	}
	message := Message{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opCreateMessage, reasonInsertFailed, err,
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
		return Message{}, newServiceError(opCreateMessage, reasonInsertFailed, err)
	}
	names, err := s.usernames(ctx, []string{userID})
	if err != nil {
		s.logError(opCreateMessage, reasonQueryFailed, err, zap.String("user_id", userID))
		message.Username = userID
		return message, nil
	}
	message.Username = names[userID]
	return message, nil
}

// ListMessages returns up to limit most recent messages of a session in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageHistoryLimit
	}
	var messages []Message
	if err := s.db.WithContext(ctx).
		Where(querySessionEquals, sessionID).
		Order(orderCreatedAtDescending).
		Limit(limit).
		Find(&messages).Error; err != nil {
		s.logError(opListMessages, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListMessages, reasonQueryFailed, err)
	}

	seen := make(map[string]struct{}, len(messages))
	userIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		if _, ok := seen[message.UserID]; ok {
			continue
		}
		seen[message.UserID] = struct{}{}
		userIDs = append(userIDs, message.UserID)
	}
	names, err := s.usernames(ctx, userIDs)
	if err != nil {
		s.logError(opListMessages, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListMessages, reasonQueryFailed, err)
	}

	ordered := make([]Message, len(messages))
	for index, message := range messages {
		message.Username = names[message.UserID]
		ordered[len(messages)-1-index] = message
	}
	return ordered, nil
}
