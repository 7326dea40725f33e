package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
)

type testEnv struct {
	server *httptest.Server
	hub    *hub.Hub
	store  *store.Store
	users  *users.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRealtime(t, RealtimeConfig{})
}

func newTestEnvWithRealtime(t *testing.T, realtime RealtimeConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(append(store.Models(), &users.User{})...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	sessionStore, err := store.New(store.Config{Database: db, IDProvider: store.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	registry := prometheus.NewRegistry()
	metrics, err := hub.NewMetrics(registry)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	realtimeHub, err := hub.New(hub.Config{Gateway: sessionStore, Metrics: metrics})
	if err != nil {
		t.Fatalf("failed to create hub: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Users:            userService,
		Store:            sessionStore,
		Hub:              realtimeHub,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Realtime:         realtime,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		realtimeHub.Close(context.Background())
	})

	return &testEnv{server: server, hub: realtimeHub, store: sessionStore, users: userService}
}

func signSessionToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: strings.ToUpper(userID[:1]) + userID[1:],
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tauth",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// registerUser resolves the user once so its row and display name exist.
func (e *testEnv) registerUser(t *testing.T, userID string) {
	t.Helper()
	if _, err := e.users.ResolveCanonicalUserID(auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: strings.ToUpper(userID[:1]) + userID[1:],
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
		},
	}); err != nil {
		t.Fatalf("failed to register user %s: %v", userID, err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = strings.NewReader(string(encoded))
	}
	request, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: signSessionToken(t, userID)})
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("perform request: %v", err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response.StatusCode, payload
}

type hubFrame struct {
	Type            hub.MessageType       `json:"type"`
	RequiresAuth    bool                  `json:"requiresAuth"`
	RequiresRequest bool                  `json:"requiresRequest"`
	OwnerID         string                `json:"ownerId"`
	UserID          string                `json:"userId"`
	Cursor          *store.CursorPosition `json:"cursor"`
	Notification    store.Notification    `json:"notification"`
}

func decodeFrame(t *testing.T, raw []byte) hubFrame {
	t.Helper()
	var frame hubFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return frame
}

func pendingFrames(conn *hub.Conn) [][]byte {
	var frames [][]byte
	for {
		select {
		case raw, ok := <-conn.Outbound():
			if !ok {
				return frames
			}
			frames = append(frames, raw)
		default:
			return frames
		}
	}
}
