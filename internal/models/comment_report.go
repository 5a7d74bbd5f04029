package models

import (
	"time"
)

type CommentReport struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_comment_report,priority:1" json:"user_id"` // Reporter
	CommentID uint      `gorm:"not null;uniqueIndex:idx_comment_report,priority:2;index" json:"comment_id"`
	Reason    string    `gorm:"size:200;not null" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
