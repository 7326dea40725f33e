package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pendingRequestIndexSQL = "CREATE UNIQUE INDEX IF NOT EXISTS idx_collaboration_requests_one_pending " +
	"ON collaboration_requests (session_id, from_user_id) WHERE status = 'pending'"

// EnsurePendingRequestIndex creates the partial unique index that allows at
// most one pending request per (session, user). The count in
// CreateCollaborationRequest does not hold under READ COMMITTED on its own.
// Existing duplicates must be resolved first or index creation fails.
func EnsurePendingRequestIndex(db *gorm.DB) error {
	return db.Exec(pendingRequestIndexSQL).Error
}

// isUniqueViolation recognises duplicate key errors whether or not the
// dialector translates them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") || strings.Contains(message, "SQLSTATE 23505")
}

// CreateCollaborationRequest records a pending access request. At most one
// pending request may exist per (session, user).
func (s *Store) CreateCollaborationRequest(ctx context.Context, sessionID, fromUserID, message string) (CollaborationRequest, error) {
	fromUser, err := ValidateIdentifier(fromUserID)
	if err != nil {
		return CollaborationRequest{}, newServiceError(opCreateRequest, reasonInvalidInput, err)
	}
	id, err := s.newID(opCreateRequest)
	if err != nil {
		return CollaborationRequest{}, err
	}

	var created CollaborationRequest
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&CollaborationRequest{}).
			Where("session_id = ? AND from_user_id = ? AND status = ?", sessionID, fromUser, RequestStatusPending).
			Count(&pending).Error; err != nil {
			return newServiceError(opCreateRequest, reasonQueryFailed, err)
		}
		if pending > 0 {
			return newServiceError(opCreateRequest, reasonDuplicatePending, ErrDuplicatePendingRequest)
		}
		now := s.now()
		created = CollaborationRequest{
			ID:         id,
			SessionID:  sessionID,
			FromUserID: fromUser,
			Status:     RequestStatusPending,
			Message:    strings.TrimSpace(message),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&created).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opCreateRequest, reasonDuplicatePending, ErrDuplicatePendingRequest)
			}
			return newServiceError(opCreateRequest, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrDuplicatePendingRequest) {
			s.logError(opCreateRequest, reasonInsertFailed, txErr,
				zap.String("session_id", sessionID),
				zap.String("user_id", fromUser))
		}
		return CollaborationRequest{}, txErr
	}
	return created, nil
}

// GetCollaborationRequest loads a request by id.
func (s *Store) GetCollaborationRequest(ctx context.Context, requestID string) (CollaborationRequest, error) {
	var request CollaborationRequest
	err := s.db.WithContext(ctx).Where(queryIDEquals, requestID).Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CollaborationRequest{}, newServiceError(opGetRequest, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetRequest, reasonQueryFailed, err, zap.String("request_id", requestID))
		return CollaborationRequest{}, newServiceError(opGetRequest, reasonQueryFailed, err)
	}
	return request, nil
}

// GetCollaborationRequestsByUser returns every request sent by the user, newest first.
func (s *Store) GetCollaborationRequestsByUser(ctx context.Context, userID string) ([]CollaborationRequest, error) {
	var requests []CollaborationRequest
	if err := s.db.WithContext(ctx).
		Where("from_user_id = ?", userID).
		Order(orderCreatedAtDescending).
		Find(&requests).Error; err != nil {
		s.logError(opListRequests, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opListRequests, reasonQueryFailed, err)
	}
	return requests, nil
}

// ListCollaborationRequestsForSession returns the requests addressed to a session, optionally filtered by status.
func (s *Store) ListCollaborationRequestsForSession(ctx context.Context, sessionID string, status RequestStatus) ([]CollaborationRequest, error) {
	query := s.db.WithContext(ctx).Where(querySessionEquals, sessionID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var requests []CollaborationRequest
	if err := query.Order(orderCreatedAtAscending).Find(&requests).Error; err != nil {
		s.logError(opListRequests, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListRequests, reasonQueryFailed, err)
	}
	return requests, nil
}

// UpdateCollaborationRequestStatus moves a pending request to accepted or rejected.
func (s *Store) UpdateCollaborationRequestStatus(ctx context.Context, requestID string, status RequestStatus) (CollaborationRequest, error) {
	if !status.Valid() || status == RequestStatusPending {
		return CollaborationRequest{}, newServiceError(opUpdateRequestStatus, reasonInvalidInput, fmt.Errorf("unsupported status %q", status))
	}
	result := s.db.WithContext(ctx).
		Model(&CollaborationRequest{}).
		Where("id = ? AND status = ?", requestID, RequestStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		s.logError(opUpdateRequestStatus, reasonUpdateFailed, result.Error, zap.String("request_id", requestID))
		return CollaborationRequest{}, newServiceError(opUpdateRequestStatus, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return CollaborationRequest{}, newServiceError(opUpdateRequestStatus, reasonNotFound, ErrNotFound)
	}
	return s.GetCollaborationRequest(ctx, requestID)
}
