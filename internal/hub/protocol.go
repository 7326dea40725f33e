package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
)

// MessageType is the "type" tag carried by every frame.
type MessageType string

const (
	TypeAuth               MessageType = "auth"
	TypeJoinSession        MessageType = "join_session"
	TypeLeaveSession       MessageType = "leave_session"
	TypeCursorUpdate       MessageType = "cursor_update"
	TypeCodeChange         MessageType = "code_change"
	TypeChatMessage        MessageType = "chat_message"
	TypeAccessDenied       MessageType = "access_denied"
	TypeParticipantsUpdate MessageType = "participants_update"
	TypeNotification       MessageType = "notification"
	TypeError              MessageType = "error"
)

var (
	// ErrMalformedFrame reports a frame that is not JSON or lacks required fields.
	ErrMalformedFrame = errors.New("hub: malformed frame")
	// ErrUnknownMessageType reports a well-formed frame whose type is not part of the protocol.
	ErrUnknownMessageType = errors.New("hub: unknown message type")
)

// InboundMessage is one of the closed set of client to hub messages.
type InboundMessage interface {
	Type() MessageType
}

// AuthMessage attaches a user identity to the connection.
type AuthMessage struct {
	UserID string `json:"userId"`
}

// JoinSessionMessage asks to enter a session room.
type JoinSessionMessage struct {
	SessionID string                `json:"sessionId"`
	Cursor    *store.CursorPosition `json:"cursor,omitempty"`
}

// LeaveSessionMessage leaves the current room.
type LeaveSessionMessage struct{}

// CursorUpdateMessage moves the sender's caret.
type CursorUpdateMessage struct {
	Cursor store.CursorPosition `json:"cursor"`
}

// CodeChangeMessage replaces the whole content of a file.
type CodeChangeMessage struct {
	FileID  string `json:"fileId"`
	Content string `json:"content"`
}

// ChatMessageMessage posts a chat line to the current room.
type ChatMessageMessage struct {
	Content string `json:"content"`
}

func (AuthMessage) Type() MessageType         { return TypeAuth }
func (JoinSessionMessage) Type() MessageType  { return TypeJoinSession }
func (LeaveSessionMessage) Type() MessageType { return TypeLeaveSession }
func (CursorUpdateMessage) Type() MessageType { return TypeCursorUpdate }
func (CodeChangeMessage) Type() MessageType   { return TypeCodeChange }
func (ChatMessageMessage) Type() MessageType  { return TypeChatMessage }

type inboundEnvelope struct {
	Type MessageType `json:"type"`
}

// ParseInbound decodes a raw frame into its typed message. It is the only
// place that decides whether a frame is malformed or of an unknown type;
// both outcomes are dropped by the dispatcher without a reply.
func ParseInbound(raw []byte) (InboundMessage, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch envelope.Type {
	case TypeAuth:
		var message AuthMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		message.UserID = strings.TrimSpace(message.UserID)
		if message.UserID == "" {
			return nil, fmt.Errorf("%w: auth requires userId", ErrMalformedFrame)
		}
		return message, nil
	case TypeJoinSession:
		var message JoinSessionMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		message.SessionID = strings.TrimSpace(message.SessionID)
		if message.SessionID == "" {
			return nil, fmt.Errorf("%w: join_session requires sessionId", ErrMalformedFrame)
		}
		return message, nil
	case TypeLeaveSession:
		return LeaveSessionMessage{}, nil
	case TypeCursorUpdate:
		var payload struct {
			Cursor *store.CursorPosition `json:"cursor"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if payload.Cursor == nil {
			return nil, fmt.Errorf("%w: cursor_update requires cursor", ErrMalformedFrame)
		}
		return CursorUpdateMessage{Cursor: *payload.Cursor}, nil
	case TypeCodeChange:
		var payload struct {
			FileID  string  `json:"fileId"`
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if payload.Content == nil {
			return nil, fmt.Errorf("%w: code_change requires content", ErrMalformedFrame)
		}
		return CodeChangeMessage{FileID: strings.TrimSpace(payload.FileID), Content: *payload.Content}, nil
	case TypeChatMessage:
		var message ChatMessageMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if strings.TrimSpace(message.Content) == "" {
			return nil, fmt.Errorf("%w: chat_message requires content", ErrMalformedFrame)
		}
		return message, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}
}

// OutboundFrame is one of the closed set of hub to client frames.
type OutboundFrame interface {
	FrameType() MessageType
}

// AccessDeniedFrame answers a refused join_session.
type AccessDeniedFrame struct {
	Type            MessageType `json:"type"`
	Message         string      `json:"message"`
	SessionID       string      `json:"sessionId"`
	RequiresAuth    bool        `json:"requiresAuth,omitempty"`
	RequiresRequest bool        `json:"requiresRequest,omitempty"`
	OwnerID         string      `json:"ownerId,omitempty"`
}

// ParticipantsUpdateFrame carries the full roster of a room.
type ParticipantsUpdateFrame struct {
	Type         MessageType             `json:"type"`
	SessionID    string                  `json:"sessionId"`
	Participants []store.ParticipantView `json:"participants"`
}

// CursorUpdateFrame relays another participant's caret.
type CursorUpdateFrame struct {
	Type   MessageType          `json:"type"`
	UserID string               `json:"userId"`
	Cursor store.CursorPosition `json:"cursor"`
}

// CodeChangeFrame relays a whole-file overwrite.
type CodeChangeFrame struct {
	Type    MessageType `json:"type"`
	FileID  string      `json:"fileId"`
	Content string      `json:"content"`
	UserID  string      `json:"userId"`
}

// ChatMessageFrame relays a persisted chat line.
type ChatMessageFrame struct {
	Type    MessageType   `json:"type"`
	Message store.Message `json:"message"`
}

// NotificationFrame pushes a persisted notification.
type NotificationFrame struct {
	Type         MessageType        `json:"type"`
	Notification store.Notification `json:"notification"`
}

// ErrorFrame reports a failure the client should surface.
type ErrorFrame struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (AccessDeniedFrame) FrameType() MessageType       { return TypeAccessDenied }
func (ParticipantsUpdateFrame) FrameType() MessageType { return TypeParticipantsUpdate }
func (CursorUpdateFrame) FrameType() MessageType       { return TypeCursorUpdate }
func (CodeChangeFrame) FrameType() MessageType         { return TypeCodeChange }
func (ChatMessageFrame) FrameType() MessageType        { return TypeChatMessage }
func (NotificationFrame) FrameType() MessageType       { return TypeNotification }
func (ErrorFrame) FrameType() MessageType              { return TypeError }

// NewAccessDenied builds the frame for a refused join.
func NewAccessDenied(sessionID string, decision Decision) AccessDeniedFrame {
	frame := AccessDeniedFrame{
		Type:      TypeAccessDenied,
		SessionID: sessionID,
	}
	switch {
	case decision.RequiresAuth:
		frame.Message = "Authentication required to join this session"
		frame.RequiresAuth = true
	default:
		frame.Message = "You need the owner's permission to join this session"
		frame.RequiresRequest = true
		frame.OwnerID = decision.OwnerID
	}
	return frame
}

// NewParticipantsUpdate builds a roster snapshot; a nil roster is sent as an empty list.
func NewParticipantsUpdate(sessionID string, participants []store.ParticipantView) ParticipantsUpdateFrame {
	if participants == nil {
		participants = []store.ParticipantView{}
	}
	return ParticipantsUpdateFrame{
		Type:         TypeParticipantsUpdate,
		SessionID:    sessionID,
		Participants: participants,
	}
}

// NewCursorUpdate builds a cursor relay frame.
func NewCursorUpdate(userID string, cursor store.CursorPosition) CursorUpdateFrame {
	return CursorUpdateFrame{Type: TypeCursorUpdate, UserID: userID, Cursor: cursor}
}

// NewCodeChange builds a file overwrite relay frame.
func NewCodeChange(fileID, content, userID string) CodeChangeFrame {
	return CodeChangeFrame{Type: TypeCodeChange, FileID: fileID, Content: content, UserID: userID}
}

// NewChatMessage builds a chat relay frame.
func NewChatMessage(message store.Message) ChatMessageFrame {
	return ChatMessageFrame{Type: TypeChatMessage, Message: message}
}

// NewNotification builds a notification push frame.
func NewNotification(notification store.Notification) NotificationFrame {
	return NotificationFrame{Type: TypeNotification, Notification: notification}
}

// NewError builds an error frame.
func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}
