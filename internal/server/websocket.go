package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (h *httpHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *httpHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowsAnyOrigin(h.realtime.AllowedOrigins) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.realtime.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), parsed.Scheme+"://"+parsed.Host) {
			return true
		}
	}
	return false
}

// handleWebSocket upgrades the request and hands the socket to the hub. A
// valid session cookie binds the connection to that user; without one the
// connection relies on auth frames alone unless authentication is required.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	boundUserID := ""
	userID, err := h.authenticate(c.Request)
	switch {
	case err == nil:
		boundUserID = userID
	case h.realtime.RequireAuthentication:
		h.logger.Info("websocket upgrade refused", zap.String("remote_addr", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	upgrader := h.upgrader()
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.ServeWebSocket(c.Request.Context(), socket, boundUserID, hub.TransportConfig{
		MaxMessageBytes: h.realtime.MaxMessageBytes,
	})
}
