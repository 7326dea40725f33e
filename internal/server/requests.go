package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createRequestPayload struct {
	Message string `json:"message"`
}

type respondRequestPayload struct {
	Accept *bool `json:"accept"`
}

type requestNotificationData struct {
	RequestID  string `json:"requestId"`
	SessionID  string `json:"sessionId"`
	FromUserID string `json:"fromUserId"`
}

func (h *httpHandler) handleCreateRequest(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	sessionID := c.Param("id")
	var request createRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	decision, err := h.hub.Access().Evaluate(c.Request.Context(), userID, sessionID)
	if errors.Is(err, hub.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("access evaluation failed", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access_check_failed"})
		return
	}
	if decision.Admitted {
		c.JSON(http.StatusConflict, gin.H{"error": "access_already_granted"})
		return
	}

	created, err := h.store.CreateCollaborationRequest(c.Request.Context(), sessionID, userID, request.Message)
	if errors.Is(err, store.ErrDuplicatePendingRequest) {
		c.JSON(http.StatusConflict, gin.H{"error": "request_pending"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create collaboration request", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_create_failed"})
		return
	}

	requester := h.displayName(c.Request.Context(), userID)
	h.notify(c.Request.Context(), decision.Session.OwnerID, hub.NotificationCollaborationRequest,
		"New collaboration request",
		fmt.Sprintf("%s wants to join %s", requester, decision.Session.Name),
		requestNotificationData{RequestID: created.ID, SessionID: sessionID, FromUserID: userID})

	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleListRequests(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	session, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_list_failed"})
		return
	}
	if session.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_only"})
		return
	}
	status := store.RequestStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	requests, err := h.store.ListCollaborationRequestsForSession(c.Request.Context(), session.ID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_list_failed"})
		return
	}
	if requests == nil {
		requests = []store.CollaborationRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *httpHandler) handleRespondToRequest(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var payload respondRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Accept == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	request, err := h.store.GetCollaborationRequest(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load collaboration request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_update_failed"})
		return
	}
	session, err := h.store.GetSession(ctx, request.SessionID)
	if err != nil {
		h.logger.Error("failed to load session for request", zap.String("request_id", request.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_update_failed"})
		return
	}
	if session.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_only"})
		return
	}

	status := store.RequestStatusRejected
	notificationType := hub.NotificationRequestRejected
	title := "Collaboration request declined"
	message := fmt.Sprintf("Your request to join %s was declined", session.Name)
	if *payload.Accept {
		status = store.RequestStatusAccepted
		notificationType = hub.NotificationRequestAccepted
		title = "Collaboration request accepted"
		message = fmt.Sprintf("You can now join %s", session.Name)
	}

	updated, err := h.store.UpdateCollaborationRequestStatus(ctx, request.ID, status)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusConflict, gin.H{"error": "request_already_resolved"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update collaboration request", zap.String("request_id", request.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_update_failed"})
		return
	}

	h.notify(ctx, updated.FromUserID, notificationType, title, message,
		requestNotificationData{RequestID: updated.ID, SessionID: updated.SessionID, FromUserID: updated.FromUserID})
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	notifications, err := h.store.ListNotifications(c.Request.Context(), userID, c.Query("unread") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_list_failed"})
		return
	}
	if notifications == nil {
		notifications = []store.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.store.MarkNotificationRead(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_update_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// notify never fails the request: the request row is the durable record.
func (h *httpHandler) notify(ctx context.Context, userID, notificationType, title, message string, data any) {
	if _, err := h.hub.Notifier().Notify(ctx, userID, notificationType, title, message, data); err != nil {
		h.logger.Error("failed to send notification",
			zap.String("user_id", userID),
			zap.String("type", notificationType),
			zap.Error(err))
	}
}

func (h *httpHandler) displayName(ctx context.Context, userID string) string {
	user, err := h.users.GetUser(ctx, userID)
	if err != nil || user.Username == "" {
		return userID
	}
	return user.Username
}
