package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillSessionLanguage = "2024-03-01_backfill_session_language"
	migrationResolveDuplicateRequest = "2024-03-15_resolve_duplicate_pending_requests"
	migrationUniquePendingRequest    = "2024-03-16_unique_pending_request_index"
	defaultSessionLanguage           = "plaintext"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationBackfillSessionLanguage, apply: backfillSessionLanguage},
	{name: migrationResolveDuplicateRequest, apply: resolveDuplicatePendingRequests},
	{name: migrationUniquePendingRequest, apply: store.EnsurePendingRequestIndex},
}

// applyMigrations runs each pending migration and its bookkeeping row in one transaction.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillSessionLanguage gives sessions created before the language picker a usable tag.
func backfillSessionLanguage(db *gorm.DB) error {
	return db.Model(&store.Session{}).
		Where("language = ?", "").
		Update("language", defaultSessionLanguage).Error
}

// resolveDuplicatePendingRequests keeps the oldest pending request per
// (session, user) and rejects the rest.
func resolveDuplicatePendingRequests(db *gorm.DB) error {
	var pending []store.CollaborationRequest
	if err := db.Where("status = ?", store.RequestStatusPending).
		Order("created_at ASC, id ASC").
		Find(&pending).Error; err != nil {
		return err
	}

	type requestKey struct {
		sessionID string
		userID    string
	}
	seen := make(map[requestKey]struct{}, len(pending))
	var duplicates []string
	for _, request := range pending {
		key := requestKey{sessionID: request.SessionID, userID: request.FromUserID}
		if _, ok := seen[key]; ok {
			duplicates = append(duplicates, request.ID)
			continue
		}
		seen[key] = struct{}{}
	}
	if len(duplicates) == 0 {
		return nil
	}
	return db.Model(&store.CollaborationRequest{}).
		Where("id IN ?", duplicates).
		Update("status", store.RequestStatusRejected).Error
}
