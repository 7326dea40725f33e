package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicatePendingRequest indicates a pending collaboration request already exists for the session and user.
	ErrDuplicatePendingRequest = errors.New("store: pending collaboration request already exists")
	// ErrInvalidIdentifier indicates that an identifier is empty or exceeds storage bounds.
	ErrInvalidIdentifier = errors.New("store: invalid identifier")
)

// RequestStatus enumerates collaboration request states.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// Valid reports whether the status is one of the known values.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected:
		return true
	default:
		return false
	}
}

// ValidateIdentifier trims the raw value and enforces storage bounds.
func ValidateIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, maxIdentifierLength)
	}
	return trimmed, nil
}

// CursorPosition is the live caret location of a participant.
type CursorPosition struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	FileID string `json:"fileId"`
}

// Session is a collaborative editing room.
type Session struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index" json:"ownerId"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	Language  string    `gorm:"column:language;size:64;not null;default:''" json:"language"`
	IsPublic  bool      `gorm:"column:is_public;not null;default:false" json:"isPublic"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// File holds the whole-text content of one file in a session.
type File struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SessionID string    `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	Content   string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "session_files"
}

// Participant is the durable join record for one user in one session.
type Participant struct {
	SessionID string          `gorm:"column:session_id;primaryKey;size:190;not null"`
	UserID    string          `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Cursor    *CursorPosition `gorm:"column:cursor_json;type:text;serializer:json"`
	IsActive  bool            `gorm:"column:is_active;not null;default:false"`
	JoinedAt  time.Time       `gorm:"column:joined_at;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "session_participants"
}

// ParticipantUpdate lists the participant fields to change; nil fields are left untouched.
type ParticipantUpdate struct {
	IsActive *bool
	Cursor   *CursorPosition
}

// ParticipantView is a participant joined with the user's display name.
type ParticipantView struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Cursor    *CursorPosition `json:"cursor"`
	IsActive  bool            `json:"isActive"`
	JoinedAt  time.Time       `json:"joinedAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Message is a persisted chat line.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SessionID string    `gorm:"column:session_id;size:190;not null;index:idx_messages_session_time,priority:1" json:"sessionId"`
	UserID    string    `gorm:"column:user_id;size:190;not null" json:"userId"`
	Username  string    `gorm:"-" json:"username"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_messages_session_time,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "session_messages"
}

// CollaborationRequest asks a session owner for access.
type CollaborationRequest struct {
	ID         string        `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SessionID  string        `gorm:"column:session_id;size:190;not null;index:idx_requests_session_user,priority:1" json:"sessionId"`
	FromUserID string        `gorm:"column:from_user_id;size:190;not null;index:idx_requests_session_user,priority:2;index" json:"fromUserId"`
	Status     RequestStatus `gorm:"column:status;size:16;not null" json:"status"`
	Message    string        `gorm:"column:message;type:text;not null;default:''" json:"message"`
	CreatedAt  time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt  time.Time     `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (CollaborationRequest) TableName() string {
	return "collaboration_requests"
}

// Notification is an account-level message addressed to one user.
type Notification struct {
	ID        string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID    string         `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_time,priority:1" json:"userId"`
	Type      string         `gorm:"column:type;size:64;not null" json:"type"`
	Title     string         `gorm:"column:title;size:320;not null;default:''" json:"title"`
	Message   string         `gorm:"column:message;type:text;not null;default:''" json:"message"`
	Data      datatypes.JSON `gorm:"column:data_json" json:"data,omitempty"`
	IsRead    bool           `gorm:"column:is_read;not null;default:false" json:"isRead"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index:idx_notifications_user_time,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Models lists every table owned by the store, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Session{},
		&File{},
		&Participant{},
		&Message{},
		&CollaborationRequest{},
		&Notification{},
	}
}
