package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createSessionPayload struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	IsPublic bool   `json:"isPublic"`
}

type createFilePayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type sessionResponsePayload struct {
	Session store.Session    `json:"session"`
	Files   []store.File     `json:"files"`
	Access  hub.AccessReason `json:"access"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.store.CreateSession(c.Request.Context(), userID, request.Name, request.Language, request.IsPublic)
	if err != nil {
		h.logger.Error("failed to create session", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *httpHandler) handleListSessions(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	sessions, err := h.store.ListSessionsForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_list_failed"})
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleGetSession is the HTTP read path of the access rule; it must agree
// with what a realtime join would decide for the same user.
func (h *httpHandler) handleGetSession(c *gin.Context) {
	decision, ok := h.requireAccess(c, c.Param("id"))
	if !ok {
		return
	}
	files, err := h.store.ListFiles(c.Request.Context(), decision.Session.ID)
	if err != nil {
		h.logger.Error("failed to list files", zap.String("session_id", decision.Session.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_load_failed"})
		return
	}
	if files == nil {
		files = []store.File{}
	}
	c.JSON(http.StatusOK, sessionResponsePayload{
		Session: decision.Session,
		Files:   files,
		Access:  decision.Reason,
	})
}

func (h *httpHandler) handleCreateFile(c *gin.Context) {
	var request createFilePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	decision, ok := h.requireAccess(c, c.Param("id"))
	if !ok {
		return
	}
	file, err := h.store.CreateFile(c.Request.Context(), decision.Session.ID, request.Name, request.Content)
	if err != nil {
		h.logger.Error("failed to create file", zap.String("session_id", decision.Session.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	decision, ok := h.requireAccess(c, c.Param("id"))
	if !ok {
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), decision.Session.ID, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.String("session_id", decision.Session.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message_list_failed"})
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// requireAccess evaluates the caller against the session and writes the
// refusal response itself when access is not granted.
func (h *httpHandler) requireAccess(c *gin.Context, sessionID string) (hub.Decision, bool) {
	userID := c.GetString(userIDContextKey)
	decision, err := h.hub.Access().Evaluate(c.Request.Context(), userID, sessionID)
	if errors.Is(err, hub.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return hub.Decision{}, false
	}
	if err != nil {
		h.logger.Error("access evaluation failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access_check_failed"})
		return hub.Decision{}, false
	}
	switch {
	case decision.Admitted:
		return decision, true
	case decision.RequiresAuth:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied", "requiresAuth": true})
	default:
		c.JSON(http.StatusForbidden, gin.H{
			"error":           "access_denied",
			"requiresRequest": true,
			"ownerId":         decision.OwnerID,
		})
	}
	return hub.Decision{}, false
}
