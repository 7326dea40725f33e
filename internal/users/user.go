package users

import (
	"strings"
	"time"
)

// User maps a login provider identity onto a canonical user id and display name.
type User struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	Provider   string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_users_provider_subject,priority:1" json:"-"`
	Subject    string    `gorm:"column:subject;size:190;not null;uniqueIndex:idx_users_provider_subject,priority:2" json:"-"`
	Username   string    `gorm:"column:username;size:320;not null;default:''" json:"username"`
	Email      string    `gorm:"column:email;size:320" json:"email,omitempty"`
	AvatarURL  string    `gorm:"column:avatar_url;size:512" json:"avatarUrl,omitempty"`
	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"-"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

// deriveUsername picks the friendliest non-empty label for a user.
func deriveUsername(displayName, email, subject string) string {
	if name := normalize(displayName); name != "" {
		return name
	}
	if address := normalize(email); address != "" {
		if at := strings.Index(address, "@"); at > 0 {
			return address[:at]
		}
		return address
	}
	return normalize(subject)
}
