package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates no user exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and their display names.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates the user when the provider+subject pair has not been seen before and
// refreshes the stored profile otherwise.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		canonicalIdentifier, ok := cachedIdentifier.(string)
		if ok {
			return canonicalIdentifier, nil
		}
	}

	var user User
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			UserID:     subject,
			Provider:   provider,
			Subject:    subject,
			Username:   deriveUsername(claims.UserDisplayName, claims.UserEmail, subject),
			Email:      normalize(claims.UserEmail),
			AvatarURL:  normalize(claims.UserAvatarURL),
			LastSeenAt: s.now(),
		}
		if err := s.db.Create(&user).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{}
		if display := normalize(claims.UserDisplayName); display != "" && display != user.Username {
			updates["username"] = display
		}
		if email := normalize(claims.UserEmail); email != "" && email != user.Email {
			updates["email"] = email
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != user.AvatarURL {
			updates["avatar_url"] = avatar
		}
		updates["last_seen_at"] = s.now()
		_ = s.db.Model(&User{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	s.cache.Store(cacheKey, user.UserID)
	return user.UserID, nil
}

// GetUser loads a user by canonical id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
