package models

import (
	"time"
)

// CommentLike enforces one like per user per comment through its composite unique index.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_comment_like,priority:1" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_comment_like,priority:2;index" json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`
}
