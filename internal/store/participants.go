package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetParticipant loads the participant row for (sessionID, userID), active or not.
func (s *Store) GetParticipant(ctx context.Context, sessionID, userID string) (Participant, error) {
	var participant Participant
	err := s.db.WithContext(ctx).Where(querySessionUser, sessionID, userID).Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Participant{}, newServiceError(opGetParticipant, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetParticipant, reasonQueryFailed, err,
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
		return Participant{}, newServiceError(opGetParticipant, reasonQueryFailed, err)
	}
	return participant, nil
}

// AddParticipant inserts the participant row. A row that already exists for the
// same (session, user) key is updated in place instead of duplicated.
func (s *Store) AddParticipant(ctx context.Context, participant Participant) (Participant, error) {
	sessionID, err := ValidateIdentifier(participant.SessionID)
	if err != nil {
		return Participant{}, newServiceError(opAddParticipant, reasonInvalidInput, err)
	}
	userID, err := ValidateIdentifier(participant.UserID)
	if err != nil {
		return Participant{}, newServiceError(opAddParticipant, reasonInvalidInput, err)
	}
	now := s.now()
	participant.SessionID = sessionID
	participant.UserID = userID
	participant.JoinedAt = now
	participant.UpdatedAt = now

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor_json", "is_active", "updated_at"}),
		}).
		Create(&participant).Error; err != nil {
		s.logError(opAddParticipant, reasonInsertFailed, err,
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
		return Participant{}, newServiceError(opAddParticipant, reasonInsertFailed, err)
	}
	return s.GetParticipant(ctx, sessionID, userID)
}

// UpdateParticipant applies the non-nil fields of update to an existing participant.
func (s *Store) UpdateParticipant(ctx context.Context, sessionID, userID string, update ParticipantUpdate) (Participant, error) {
	var updated Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Participant
		err := tx.Where(querySessionUser, sessionID, userID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateParticipant, reasonNotFound, ErrNotFound)
		}
		if err != nil {
			return newServiceError(opUpdateParticipant, reasonQueryFailed, err)
		}
		if update.IsActive != nil {
			existing.IsActive = *update.IsActive
		}
		if update.Cursor != nil {
			cursor := *update.Cursor
			existing.Cursor = &cursor
		}
		existing.UpdatedAt = s.now()
		if err := tx.Save(&existing).Error; err != nil {
			return newServiceError(opUpdateParticipant, reasonUpdateFailed, err)
		}
		updated = existing
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logError(opUpdateParticipant, reasonUpdateFailed, err,
				zap.String("session_id", sessionID),
				zap.String("user_id", userID))
		}
		return Participant{}, err
	}
	return updated, nil
}

// RemoveParticipant marks the participant inactive. The row is retained.
func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	inactive := false
	_, err := s.UpdateParticipant(ctx, sessionID, userID, ParticipantUpdate{IsActive: &inactive})
	return err
}

// GetSessionParticipantsWithUsers returns every participant of the session,
// active and inactive, with usernames resolved.
func (s *Store) GetSessionParticipantsWithUsers(ctx context.Context, sessionID string) ([]ParticipantView, error) {
	var participants []Participant
	if err := s.db.WithContext(ctx).
		Where(querySessionEquals, sessionID).
		Order(orderJoinedAtThenUserAscend).
		Find(&participants).Error; err != nil {
		s.logError(opListParticipants, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListParticipants, reasonQueryFailed, err)
	}

	userIDs := make([]string, 0, len(participants))
	for _, participant := range participants {
		userIDs = append(userIDs, participant.UserID)
	}
	names, err := s.usernames(ctx, userIDs)
	if err != nil {
		s.logError(opListParticipants, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListParticipants, reasonQueryFailed, err)
	}

	views := make([]ParticipantView, 0, len(participants))
	for _, participant := range participants {
		views = append(views, ParticipantView{
			SessionID: participant.SessionID,
			UserID:    participant.UserID,
			Username:  names[participant.UserID],
			Cursor:    participant.Cursor,
			IsActive:  participant.IsActive,
			JoinedAt:  participant.JoinedAt,
			UpdatedAt: participant.UpdatedAt,
		})
	}
	return views, nil
}

// DeactivateAllParticipants clears every active flag. Called at process start,
// when no connection can still claim a participant.
func (s *Store) DeactivateAllParticipants(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Participant{}).
		Where("is_active = ?", true).
		Update("is_active", false)
	if result.Error != nil {
		s.logError(opDeactivateParticipants, reasonUpdateFailed, result.Error)
		return 0, newServiceError(opDeactivateParticipants, reasonUpdateFailed, result.Error)
	}
	return result.RowsAffected, nil
}
