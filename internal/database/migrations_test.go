package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsSessionLanguage(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&store.Session{}, &store.CollaborationRequest{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	sessions := []store.Session{
		{ID: "legacy", OwnerID: "user-1", Name: "Legacy", Language: "", CreatedAt: now, UpdatedAt: now},
		{ID: "modern", OwnerID: "user-1", Name: "Modern", Language: "go", CreatedAt: now, UpdatedAt: now},
	}
	if err := database.Create(&sessions).Error; err != nil {
		testContext.Fatalf("failed to insert sessions: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var legacy, modern store.Session
	if err := database.Where("id = ?", "legacy").Take(&legacy).Error; err != nil {
		testContext.Fatalf("failed to reload legacy session: %v", err)
	}
	if legacy.Language != defaultSessionLanguage {
		testContext.Fatalf("expected language to be backfilled, got %q", legacy.Language)
	}
	if err := database.Where("id = ?", "modern").Take(&modern).Error; err != nil {
		testContext.Fatalf("failed to reload modern session: %v", err)
	}
	if modern.Language != "go" {
		testContext.Fatalf("expected explicit language to be kept, got %q", modern.Language)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillSessionLanguage).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsResolvesDuplicatePendingRequests(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "requests.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&store.Session{}, &store.CollaborationRequest{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	base := time.Unix(1700000000, 0).UTC()
	requests := []store.CollaborationRequest{
		{ID: "r1", SessionID: "s1", FromUserID: "carol", Status: store.RequestStatusPending, CreatedAt: base, UpdatedAt: base},
		{ID: "r2", SessionID: "s1", FromUserID: "carol", Status: store.RequestStatusPending, CreatedAt: base.Add(time.Minute), UpdatedAt: base},
		{ID: "r3", SessionID: "s2", FromUserID: "carol", Status: store.RequestStatusPending, CreatedAt: base.Add(2 * time.Minute), UpdatedAt: base},
		{ID: "r4", SessionID: "s1", FromUserID: "dave", Status: store.RequestStatusAccepted, CreatedAt: base, UpdatedAt: base},
	}
	if err := database.Create(&requests).Error; err != nil {
		testContext.Fatalf("failed to insert requests: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]store.RequestStatus{
		"r1": store.RequestStatusPending,
		"r2": store.RequestStatusRejected,
		"r3": store.RequestStatusPending,
		"r4": store.RequestStatusAccepted,
	}
	for id, want := range expected {
		var request store.CollaborationRequest
		if err := database.Where("id = ?", id).Take(&request).Error; err != nil {
			testContext.Fatalf("failed to reload %s: %v", id, err)
		}
		if request.Status != want {
			testContext.Fatalf("request %s: expected %s, got %s", id, want, request.Status)
		}
	}
}

func TestOpenMigratesEverySchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")

	database, err := Open(Config{Driver: "sqlite", Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open: %v", err)
	}
	for _, table := range []string{"sessions", "session_files", "session_participants", "session_messages", "collaboration_requests", "notifications", "users", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	// a second run finds the migration already recorded.
	if err := Migrate(database, nil); err != nil {
		testContext.Fatalf("re-migrate: %v", err)
	}
}

func TestOpenEnforcesOnePendingRequestPerUser(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "pending.db")

	database, err := Open(Config{Driver: "sqlite", Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	first := store.CollaborationRequest{ID: "r1", SessionID: "s1", FromUserID: "carol", Status: store.RequestStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := database.Create(&first).Error; err != nil {
		testContext.Fatalf("insert first request: %v", err)
	}
	second := store.CollaborationRequest{ID: "r2", SessionID: "s1", FromUserID: "carol", Status: store.RequestStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := database.Create(&second).Error; err == nil {
		testContext.Fatalf("expected the schema to reject a second pending request")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationUniquePendingRequest).Take(&record).Error; err != nil {
		testContext.Fatalf("expected index migration to be recorded: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}, nil); err == nil {
		testContext.Fatalf("expected an unsupported driver error")
	}
	if _, err := Open(Config{Driver: "postgres"}, nil); err == nil {
		testContext.Fatalf("expected a missing dsn error")
	}
}
