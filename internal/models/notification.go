package models

import (
	"time"
)

type NotificationType string

const (
	NotificationTypeMention NotificationType = "mention"
)

// Notification is unique per (recipient, type, source comment).
type Notification struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	UserID          uint             `gorm:"not null;uniqueIndex:idx_notification_once,priority:1;index" json:"user_id"` // Receiver
	ActorID         uint             `gorm:"not null" json:"actor_id"`                                                   // Sender
	Type            NotificationType `gorm:"type:varchar(20);not null;uniqueIndex:idx_notification_once,priority:2" json:"type"`
	SourceCommentID uint             `gorm:"not null;uniqueIndex:idx_notification_once,priority:3" json:"source_comment_id"`
	ScopeID         uint             `gorm:"not null" json:"scope_id"`
	CreatedAt       time.Time        `gorm:"index" json:"created_at"`
	ReadAt          *time.Time       `gorm:"index" json:"read_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
