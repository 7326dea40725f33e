package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userAlice = "alice"
	userBob   = "bob"
	userCarol = "carol"
)

type fixture struct {
	hub      *Hub
	store    *store.Store
	db       *gorm.DB
	session  store.Session
	other    store.Session
	file     store.File
	otherDoc store.File
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
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
	models := append(store.Models(), &users.User{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func tickingClock() func() time.Time {
	var ticks atomic.Int64
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}
}

func newTestStore(t *testing.T, db *gorm.DB) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{
		Database:   db,
		Clock:      tickingClock(),
		IDProvider: store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return st
}

func seedUsers(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, name := range []string{userAlice, userBob, userCarol} {
		record := users.User{
			UserID:   name,
			Provider: "test",
			Subject:  name,
			Username: strings.ToUpper(name[:1]) + name[1:],
		}
		if err := db.Create(&record).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
	}
}

// newFixture builds a hub over a seeded store: alice owns two sessions, each
// with one file, and bob holds an accepted request for the first.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	db := openTestDatabase(t)
	seedUsers(t, db)
	st := newTestStore(t, db)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, userAlice, "Shared", "go", false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	other, err := st.CreateSession(ctx, userAlice, "Other", "python", false)
	if err != nil {
		t.Fatalf("create other session: %v", err)
	}
	file, err := st.CreateFile(ctx, session.ID, "main.go", "package main")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	otherDoc, err := st.CreateFile(ctx, other.ID, "main.py", "print('hi')")
	if err != nil {
		t.Fatalf("create other file: %v", err)
	}
	request, err := st.CreateCollaborationRequest(ctx, session.ID, userBob, "let me in")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := st.UpdateCollaborationRequestStatus(ctx, request.ID, store.RequestStatusAccepted); err != nil {
		t.Fatalf("accept request: %v", err)
	}

	h, err := New(Config{Gateway: st, Logger: logger})
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	return &fixture{
		hub:      h,
		store:    st,
		db:       db,
		session:  session,
		other:    other,
		file:     file,
		otherDoc: otherDoc,
	}
}

func (f *fixture) connect(t *testing.T, userID string) *Conn {
	t.Helper()
	conn := f.hub.Connect("test:"+userID, "")
	if userID != "" {
		f.send(t, conn, map[string]any{"type": "auth", "userId": userID})
	}
	return conn
}

func (f *fixture) join(t *testing.T, conn *Conn, sessionID string) {
	t.Helper()
	f.send(t, conn, map[string]any{"type": "join_session", "sessionId": sessionID})
}

func (f *fixture) send(t *testing.T, conn *Conn, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f.hub.Receive(context.Background(), conn, raw)
}

type receivedFrame struct {
	Type            MessageType             `json:"type"`
	Message         json.RawMessage         `json:"message"`
	SessionID       string                  `json:"sessionId"`
	RequiresAuth    bool                    `json:"requiresAuth"`
	RequiresRequest bool                    `json:"requiresRequest"`
	OwnerID         string                  `json:"ownerId"`
	Participants    []store.ParticipantView `json:"participants"`
	UserID          string                  `json:"userId"`
	Cursor          *store.CursorPosition   `json:"cursor"`
	FileID          string                  `json:"fileId"`
	Content         string                  `json:"content"`
	Notification    store.Notification      `json:"notification"`
}

// nextFrame pops the oldest queued frame. Dispatch is synchronous, so every
// frame a call produces is already queued when it returns.
func nextFrame(t *testing.T, conn *Conn) receivedFrame {
	t.Helper()
	select {
	case raw, ok := <-conn.Outbound():
		if !ok {
			t.Fatalf("connection %d outbound queue closed", conn.ID())
		}
		var frame receivedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode frame %s: %v", raw, err)
		}
		return frame
	default:
		t.Fatalf("expected a frame on connection %d, got none", conn.ID())
	}
	return receivedFrame{}
}

func expectFrame(t *testing.T, conn *Conn, messageType MessageType) receivedFrame {
	t.Helper()
	frame := nextFrame(t, conn)
	if frame.Type != messageType {
		t.Fatalf("expected %s frame on connection %d, got %s", messageType, conn.ID(), frame.Type)
	}
	return frame
}

func expectNoFrame(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case raw, ok := <-conn.Outbound():
		if ok {
			t.Fatalf("expected no frame on connection %d, got %s", conn.ID(), raw)
		}
	default:
	}
}

func drain(conn *Conn) {
	for {
		select {
		case _, ok := <-conn.Outbound():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func findParticipant(participants []store.ParticipantView, userID string) (store.ParticipantView, bool) {
	for _, participant := range participants {
		if participant.UserID == userID {
			return participant, true
		}
	}
	return store.ParticipantView{}, false
}

func countParticipantRows(t *testing.T, db *gorm.DB, sessionID, userID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&store.Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Count(&count).Error; err != nil {
		t.Fatalf("count participants: %v", err)
	}
	return count
}
