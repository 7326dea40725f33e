package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "codecollab_user_id"
	wildcardOrigin   = "*"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingSessionStore     = errors.New("session store dependency required")
	errMissingHub              = errors.New("hub dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto canonical users.
type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
	GetUser(ctx context.Context, userID string) (users.User, error)
}

// SessionStore is the persistence surface behind the HTTP API.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID, name, language string, isPublic bool) (store.Session, error)
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	ListSessionsForUser(ctx context.Context, userID string) ([]store.Session, error)
	CreateFile(ctx context.Context, sessionID, name, content string) (store.File, error)
	ListFiles(ctx context.Context, sessionID string) ([]store.File, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	CreateCollaborationRequest(ctx context.Context, sessionID, fromUserID, message string) (store.CollaborationRequest, error)
	GetCollaborationRequest(ctx context.Context, requestID string) (store.CollaborationRequest, error)
	ListCollaborationRequestsForSession(ctx context.Context, sessionID string, status store.RequestStatus) ([]store.CollaborationRequest, error)
	UpdateCollaborationRequestStatus(ctx context.Context, requestID string, status store.RequestStatus) (store.CollaborationRequest, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// RealtimeConfig tunes the websocket endpoint.
type RealtimeConfig struct {
	AllowedOrigins  []string
	MaxMessageBytes int64
	// RequireAuthentication refuses upgrades that carry no valid session token.
	RequireAuthentication bool
}

type Dependencies struct {
	SessionValidator SessionValidator
	Users            UserResolver
	Store            SessionStore
	Hub              *hub.Hub
	MetricsHandler   http.Handler
	Realtime         RealtimeConfig
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Store == nil {
		return nil, errMissingSessionStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.Realtime.AllowedOrigins))

	handler := &httpHandler{
		sessions: deps.SessionValidator,
		users:    deps.Users,
		store:    deps.Store,
		hub:      deps.Hub,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.GET("/ws", handler.handleWebSocket)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.POST("/sessions", handler.handleCreateSession)
	api.GET("/sessions", handler.handleListSessions)
	api.GET("/sessions/:id", handler.handleGetSession)
	api.POST("/sessions/:id/files", handler.handleCreateFile)
	api.GET("/sessions/:id/messages", handler.handleListMessages)
	api.POST("/sessions/:id/requests", handler.handleCreateRequest)
	api.GET("/sessions/:id/requests", handler.handleListRequests)
	api.POST("/requests/:id/respond", handler.handleRespondToRequest)
	api.GET("/notifications", handler.handleListNotifications)
	api.POST("/notifications/:id/read", handler.handleMarkNotificationRead)

	return router, nil
}

type httpHandler struct {
	sessions SessionValidator
	users    UserResolver
	store    SessionStore
	hub      *hub.Hub
	realtime RealtimeConfig
	logger   *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func allowsAnyOrigin(allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	for _, origin := range allowedOrigins {
		if origin == wildcardOrigin {
			return true
		}
	}
	return false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.authenticate(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) authenticate(r *http.Request) (string, error) {
	claims, err := h.sessions.ValidateRequest(r)
	if err != nil {
		return "", err
	}
	return h.users.ResolveCanonicalUserID(claims)
}
