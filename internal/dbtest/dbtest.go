// Package dbtest provides an in-memory SQLite database with the production
// schema for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"yomu/internal/db"
	"yomu/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

// New returns a migrated database private to the calling test. A single
// connection is used so the in-memory database survives for the whole test.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	conn, err := db.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedUser inserts a user with the given username.
func SeedUser(t *testing.T, conn *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:    username,
		DisplayName: strings.ToUpper(username[:1]) + username[1:],
		Color:       "#0ea5e9",
		Role:        models.RoleUser,
	}
	if err := conn.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

// SeedManga inserts a content unit.
func SeedManga(t *testing.T, conn *gorm.DB, slug string) *models.Manga {
	t.Helper()
	m := &models.Manga{Slug: slug, Title: slug}
	if err := conn.Create(m).Error; err != nil {
		t.Fatalf("seed manga %s: %v", slug, err)
	}
	return m
}
