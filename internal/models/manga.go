package models

import (
	"time"
)

// Manga is the content unit comment threads attach to. The catalog owns these
// rows; the engine only reads them to validate a scope.
type Manga struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"uniqueIndex;size:128;not null" json:"slug"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
