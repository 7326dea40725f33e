package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew                  = "store.new"
	opCreateSession             = "store.create_session"
	opGetSession                = "store.get_session"
	opListSessions              = "store.list_sessions"
	opCreateFile                = "store.create_file"
	opGetFile                   = "store.get_file"
	opUpdateFile                = "store.update_file"
	opListFiles                 = "store.list_files"
	opGetParticipant            = "store.get_participant"
	opAddParticipant            = "store.add_participant"
	opUpdateParticipant         = "store.update_participant"
	opListParticipants          = "store.list_participants"
	opDeactivateParticipants    = "store.deactivate_participants"
	opCreateMessage             = "store.create_message"
	opListMessages              = "store.list_messages"
	opCreateRequest             = "store.create_collaboration_request"
	opGetRequest                = "store.get_collaboration_request"
	opListRequests              = "store.list_collaboration_requests"
	opUpdateRequestStatus       = "store.update_collaboration_request_status"
	opCreateNotification        = "store.create_notification"
	opListNotifications         = "store.list_notifications"
	opMarkNotificationRead      = "store.mark_notification_read"
	reasonNotFound              = "not_found"
	reasonQueryFailed           = "query_failed"
	reasonInsertFailed          = "insert_failed"
	reasonUpdateFailed          = "update_failed"
	reasonInvalidInput          = "invalid_input"
	reasonIDGenerationFailed    = "id_generation_failed"
	reasonDuplicatePending      = "duplicate_pending"
	defaultMessageHistoryLimit  = 200
	queryIDEquals               = "id = ?"
	querySessionUser            = "session_id = ? AND user_id = ?"
	querySessionEquals          = "session_id = ?"
	usersTable                  = "users"
	usersColumnsUserIDAndName   = "user_id, username"
	orderCreatedAtAscending     = "created_at ASC"
	orderCreatedAtDescending    = "created_at DESC"
	orderJoinedAtThenUserAscend = "joined_at ASC, user_id ASC"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Config describes the dependencies of the gorm-backed store.
type Config struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store implements the persistence gateway over gorm.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// New validates the configuration and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateSession persists a new session owned by ownerID.
func (s *Store) CreateSession(ctx context.Context, ownerID, name, language string, isPublic bool) (Session, error) {
	owner, err := ValidateIdentifier(ownerID)
	if err != nil {
		return Session{}, newServiceError(opCreateSession, reasonInvalidInput, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, newServiceError(opCreateSession, reasonInvalidInput, errors.New("name is required"))
	}
	id, err := s.newID(opCreateSession)
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	session := Session{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		Language:  strings.TrimSpace(language),
		IsPublic:  isPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreateSession, reasonInsertFailed, err, zap.String("owner_id", owner))
		return Session{}, newServiceError(opCreateSession, reasonInsertFailed, err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where(queryIDEquals, sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, newServiceError(opGetSession, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetSession, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return Session{}, newServiceError(opGetSession, reasonQueryFailed, err)
	}
	return session, nil
}

// ListSessionsForUser returns sessions the user owns or has ever joined, newest first.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	joined := s.db.Model(&Participant{}).Select("session_id").Where("user_id = ?", userID)
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? OR id IN (?)", userID, joined).
		Order(orderCreatedAtDescending).
		Find(&sessions).Error; err != nil {
		s.logError(opListSessions, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opListSessions, reasonQueryFailed, err)
	}
	return sessions, nil
}

// CreateFile adds a file to a session.
func (s *Store) CreateFile(ctx context.Context, sessionID, name, content string) (File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return File{}, newServiceError(opCreateFile, reasonInvalidInput, errors.New("name is required"))
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return File{}, err
	}
	id, err := s.newID(opCreateFile)
	if err != nil {
		return File{}, err
	}
	now := s.now()
	file := File{
		ID:        id,
		SessionID: sessionID,
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		s.logError(opCreateFile, reasonInsertFailed, err, zap.String("session_id", sessionID))
		return File{}, newServiceError(opCreateFile, reasonInsertFailed, err)
	}
	return file, nil
}

// GetFile loads a file by id.
func (s *Store) GetFile(ctx context.Context, fileID string) (File, error) {
	var file File
	err := s.db.WithContext(ctx).Where(queryIDEquals, fileID).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return File{}, newServiceError(opGetFile, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetFile, reasonQueryFailed, err, zap.String("file_id", fileID))
		return File{}, newServiceError(opGetFile, reasonQueryFailed, err)
	}
	return file, nil
}

// UpdateFile replaces the whole content of a file. No version check is made.
func (s *Store) UpdateFile(ctx context.Context, fileID, content string) (File, error) {
	result := s.db.WithContext(ctx).
		Model(&File{}).
		Where(queryIDEquals, fileID).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		s.logError(opUpdateFile, reasonUpdateFailed, result.Error, zap.String("file_id", fileID))
		return File{}, newServiceError(opUpdateFile, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return File{}, newServiceError(opUpdateFile, reasonNotFound, ErrNotFound)
	}
	return s.GetFile(ctx, fileID)
}

// ListFiles returns the files of a session ordered by creation.
func (s *Store) ListFiles(ctx context.Context, sessionID string) ([]File, error) {
	var files []File
	if err := s.db.WithContext(ctx).
		Where(querySessionEquals, sessionID).
		Order(orderCreatedAtAscending).
		Find(&files).Error; err != nil {
		s.logError(opListFiles, reasonQueryFailed, err, zap.String("session_id", sessionID))
		return nil, newServiceError(opListFiles, reasonQueryFailed, err)
	}
	return files, nil
}

type usernameRow struct {
	UserID   string
	Username string
}

// usernames resolves display names for the given user ids; unknown ids map to themselves.
func (s *Store) usernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	var rows []usernameRow
	if err := s.db.WithContext(ctx).
		Table(usersTable).
		Select(usersColumnsUserIDAndName).
		Where("user_id IN ?", userIDs).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.UserID] = row.Username
	}
	for _, userID := range userIDs {
		if strings.TrimSpace(names[userID]) == "" {
			names[userID] = userID
		}
	}
	return names, nil
}

func (s *Store) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDGenerationFailed, err)
		return "", newServiceError(operation, reasonIDGenerationFailed, err)
	}
	return id, nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store error", attrs...)
}
