package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

const (
	UserStatusNormal = 0
	UserStatusMuted  = 1
	UserStatusBanned = 2
)

// User is the engine's projection of an identity-provider account.
type User struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Username      string     `gorm:"size:24;uniqueIndex;not null" json:"username"` // lowercase handle used in @mentions
	DisplayName   string     `gorm:"size:64" json:"display_name"`
	Color         string     `gorm:"size:16" json:"color"` // display color used for name and mention links
	Role          string     `gorm:"size:20;default:'user';not null" json:"role"`
	Status        int        `gorm:"default:0" json:"status"` // 0:正常, 1:禁言, 2:封禁
	PunishExpires *time.Time `json:"punish_expires"`
	Badges        []Badge    `gorm:"serializer:json;type:text" json:"badges"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Badges = NormalizeBadges(u.Badges)
	return nil
}

func (u *User) AfterFind(tx *gorm.DB) error {
	u.Badges = NormalizeBadges(u.Badges)
	return nil
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func (u *User) IsModerator() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}
