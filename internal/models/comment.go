package models

import (
	"time"
)

const (
	CommentStatusVisible = "visible"
	CommentStatusHidden  = "hidden"
)

// MentionMetadata describes one resolved @mention inside a comment.
type MentionMetadata struct {
	UserID      uint   `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

type Comment struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	ParentID        *uint             `gorm:"index" json:"parent_id"` // Nullable for top-level comments
	Parent          *Comment          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ScopeID         uint              `gorm:"not null;index:idx_comment_scope" json:"scope_id"`
	SubScopeKey     *string           `gorm:"size:32;index:idx_comment_scope" json:"sub_scope_key"`
	AuthorID        uint              `gorm:"not null;index;uniqueIndex:idx_comment_author_request,priority:1" json:"author_id"`
	Content         string            `gorm:"type:text;not null" json:"content"`
	Status          string            `gorm:"size:16;default:'visible';not null;index" json:"status"`
	LikeCount       int               `gorm:"default:0" json:"like_count"`
	ReportCount     int               `gorm:"default:0" json:"report_count"`
	ClientRequestID string            `gorm:"size:64;not null;uniqueIndex:idx_comment_author_request,priority:2" json:"-"`
	Mentions        []MentionMetadata `gorm:"serializer:json;type:text" json:"mentions"`
	CreatedAt       time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	EditedAt        *time.Time        `json:"edited_at"`

	// 非数据库字段，查询子树时填充
	RootID uint `gorm:"-" json:"root_id"`
}

func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

func (c *Comment) IsVisible() bool {
	return c.Status == CommentStatusVisible
}
