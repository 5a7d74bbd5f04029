package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"yomu/internal/models"

	"gorm.io/gorm"
)

var (
	ErrConflict = errors.New("store: conflict")
	ErrNotFound = errors.New("store: not found")
)

// Scope identifies a thread: a content unit and an optional sub-unit.
// A nil SubKey addresses the scope-wide thread.
type Scope struct {
	ID     uint
	SubKey *string
}

func (s Scope) where(column string) (string, []interface{}) {
	if s.SubKey == nil {
		return "scope_id = ? AND " + column + " IS NULL", []interface{}{s.ID}
	}
	return "scope_id = ? AND " + column + " = ?", []interface{}{s.ID, *s.SubKey}
}

// RootStat is a visible root comment and the size of its visible subtree.
type RootStat struct {
	RootID      uint
	SubtreeSize int
}

// CommentStore owns the comments table and its dependents.
type CommentStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db, locks: newKeyedMutex()}
}

// WithTx returns a store bound to tx, sharing the in-process lock table.
func (s *CommentStore) WithTx(tx *gorm.DB) *CommentStore {
	return &CommentStore{db: tx, locks: s.locks}
}

// WithAuthorLock runs fn inside a transaction holding the advisory lock for key.
// On Postgres this is pg_advisory_xact_lock, released at commit or rollback.
// Other dialects fall back to an in-process lock held for the transaction.
func (s *CommentStore) WithAuthorLock(ctx context.Context, key string, fn func(tx *CommentStore) error) error {
	if s.db.Dialector.Name() == "postgres" {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", key).Error; err != nil {
				return fmt.Errorf("acquire advisory lock %s: %w", key, err)
			}
			return fn(s.WithTx(tx))
		})
	}

	unlock := s.locks.Lock(key)
	defer unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

// Insert persists c. A reused (author, client request id) pair yields ErrConflict.
func (s *CommentStore) Insert(ctx context.Context, c *models.Comment) error {
	if c.Mentions == nil {
		c.Mentions = []models.MentionMetadata{}
	}
	if c.Status == "" {
		c.Status = models.CommentStatusVisible
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *CommentStore) FindByID(ctx context.Context, id uint) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find comment %d: %w", id, err)
	}
	return &c, nil
}

func (s *CommentStore) RequestExists(ctx context.Context, authorID uint, clientRequestID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("author_id = ? AND client_request_id = ?", authorID, clientRequestID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check request id: %w", err)
	}
	return count > 0, nil
}

// LatestByAuthor returns the author's most recent comment, or nil.
func (s *CommentStore) LatestByAuthor(ctx context.Context, authorID uint) (*models.Comment, error) {
	var list []models.Comment
	err := s.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("latest comment of author %d: %w", authorID, err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// LatestEditByAuthor returns the author's most recently edited comment, or nil.
func (s *CommentStore) LatestEditByAuthor(ctx context.Context, authorID uint) (*models.Comment, error) {
	var list []models.Comment
	err := s.db.WithContext(ctx).
		Where("author_id = ? AND edited_at IS NOT NULL", authorID).
		Order("edited_at DESC, id DESC").
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("latest edit of author %d: %w", authorID, err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// RecentByAuthor returns up to limit comments created at or after since, newest first.
func (s *CommentStore) RecentByAuthor(ctx context.Context, authorID uint, since time.Time, limit int) ([]models.Comment, error) {
	var list []models.Comment
	err := s.db.WithContext(ctx).
		Where("author_id = ? AND created_at >= ?", authorID, since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("recent comments of author %d: %w", authorID, err)
	}
	return list, nil
}

func (s *CommentStore) CountVisible(ctx context.Context, scope Scope) (int64, error) {
	cond, args := scope.where("sub_scope_key")
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where(cond, args...).
		Where("status = ?", models.CommentStatusVisible).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

// RootStats lists visible roots of scope, newest first, with visible subtree
// sizes. A hidden comment hides everything below it.
func (s *CommentStore) RootStats(ctx context.Context, scope Scope) ([]RootStat, error) {
	cond, args := scope.where("sub_scope_key")
	query := `
WITH RECURSIVE tree(id, root_id) AS (
	SELECT id, id FROM comments
	WHERE parent_id IS NULL AND status = ? AND ` + cond + `
	UNION ALL
	SELECT c.id, t.root_id
	FROM comments c
	INNER JOIN tree t ON c.parent_id = t.id
	WHERE c.status = ?
)
SELECT r.id AS root_id, COUNT(t.id) AS subtree_size
FROM tree t
INNER JOIN comments r ON r.id = t.root_id
GROUP BY r.id, r.created_at
ORDER BY r.created_at DESC, r.id DESC`

	params := append([]interface{}{models.CommentStatusVisible}, args...)
	params = append(params, models.CommentStatusVisible)

	var stats []RootStat
	if err := s.db.WithContext(ctx).Raw(query, params...).Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("root stats: %w", err)
	}
	return stats, nil
}

type treeRow struct {
	ID     uint
	RootID uint
}

// FetchSubtrees returns the visible subtrees under rootIDs, each comment
// annotated with its root id, ordered oldest first.
func (s *CommentStore) FetchSubtrees(ctx context.Context, rootIDs []uint) ([]models.Comment, error) {
	if len(rootIDs) == 0 {
		return []models.Comment{}, nil
	}

	var rows []treeRow
	err := s.db.WithContext(ctx).Raw(`
WITH RECURSIVE tree(id, root_id) AS (
	SELECT id, id FROM comments
	WHERE id IN ? AND parent_id IS NULL AND status = ?
	UNION ALL
	SELECT c.id, t.root_id
	FROM comments c
	INNER JOIN tree t ON c.parent_id = t.id
	WHERE c.status = ?
)
SELECT id, root_id FROM tree`, rootIDs, models.CommentStatusVisible, models.CommentStatusVisible).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("walk subtrees: %w", err)
	}
	if len(rows) == 0 {
		return []models.Comment{}, nil
	}

	roots := make(map[uint]uint, len(rows))
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		roots[r.ID] = r.RootID
		ids = append(ids, r.ID)
	}

	var comments []models.Comment
	err = s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("load subtrees: %w", err)
	}
	for i := range comments {
		comments[i].RootID = roots[comments[i].ID]
	}
	return comments, nil
}

const subtreeCTE = `
WITH RECURSIVE subtree(id) AS (
	SELECT id FROM comments WHERE id = ?
	UNION ALL
	SELECT c.id
	FROM comments c
	INNER JOIN subtree s ON c.parent_id = s.id
)`

// CascadeDelete removes the comment, its transitive replies and everything
// that references them, in one transaction. It returns the number of
// comment rows removed.
func (s *CommentStore) CascadeDelete(ctx context.Context, commentID uint) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// postgres: row locks make concurrent replies to the subtree wait and then fail the FK check
		collect := subtreeCTE + "\nSELECT id FROM subtree"
		if tx.Dialector.Name() == "postgres" {
			collect = subtreeCTE + "\nSELECT id FROM comments WHERE id IN (SELECT id FROM subtree) FOR UPDATE"
		}
		var ids []uint
		if err := tx.Raw(collect, commentID).Scan(&ids).Error; err != nil {
			return fmt.Errorf("collect subtree: %w", err)
		}
		if len(ids) == 0 {
			return ErrNotFound
		}

		if err := tx.Where("comment_id IN ?", ids).Delete(&models.CommentLike{}).Error; err != nil {
			return fmt.Errorf("delete likes: %w", err)
		}
		if err := tx.Where("comment_id IN ?", ids).Delete(&models.CommentReport{}).Error; err != nil {
			return fmt.Errorf("delete reports: %w", err)
		}
		if err := tx.Where("source_comment_id IN ?", ids).Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}

		res := tx.Where("id IN ?", ids).Delete(&models.Comment{})
		if res.Error != nil {
			return fmt.Errorf("delete subtree: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	return affected, err
}

// UpdateContent rewrites content and mention metadata after an owner edit.
func (s *CommentStore) UpdateContent(ctx context.Context, c *models.Comment, content string, mentions []models.MentionMetadata, editedAt time.Time) error {
	if mentions == nil {
		mentions = []models.MentionMetadata{}
	}
	c.Content = content
	c.Mentions = mentions
	c.EditedAt = &editedAt
	err := s.db.WithContext(ctx).Model(c).
		Select("content", "mentions", "edited_at").
		Updates(c).Error
	if err != nil {
		return fmt.Errorf("update comment %d: %w", c.ID, err)
	}
	return nil
}

func (s *CommentStore) SetStatus(ctx context.Context, id uint, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ?", id).
		UpdateColumn("status", status)
	if res.Error != nil {
		return fmt.Errorf("set status of comment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleLike adds the user's like, or removes it if present, and returns the
// resulting state and like count.
func (s *CommentStore) ToggleLike(ctx context.Context, userID, commentID uint) (bool, int, error) {
	var liked bool
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND comment_id = ?", userID, commentID).Delete(&models.CommentLike{})
		if res.Error != nil {
			return fmt.Errorf("remove like: %w", res.Error)
		}

		delta := -1
		if res.RowsAffected == 0 {
			if err := tx.Create(&models.CommentLike{UserID: userID, CommentID: commentID}).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConflict
				}
				return fmt.Errorf("add like: %w", err)
			}
			liked = true
			delta = 1
		}

		if err := tx.Model(&models.Comment{}).
			Where("id = ?", commentID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", delta)).Error; err != nil {
			return fmt.Errorf("update like count: %w", err)
		}
		return tx.Model(&models.Comment{}).Where("id = ?", commentID).Select("like_count").Scan(&count).Error
	})
	return liked, count, err
}

// AddReport records a report and hides the comment once report_count reaches
// hideAt (0 disables auto-hide). A repeated report from the same user yields ErrConflict.
func (s *CommentStore) AddReport(ctx context.Context, userID, commentID uint, reason string, hideAt int) (bool, error) {
	var hidden bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report := models.CommentReport{UserID: userID, CommentID: commentID, Reason: reason}
		if err := tx.Create(&report).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}
			return fmt.Errorf("add report: %w", err)
		}

		if err := tx.Model(&models.Comment{}).
			Where("id = ?", commentID).
			UpdateColumn("report_count", gorm.Expr("report_count + 1")).Error; err != nil {
			return fmt.Errorf("update report count: %w", err)
		}
		if hideAt <= 0 {
			return nil
		}

		res := tx.Model(&models.Comment{}).
			Where("id = ? AND report_count >= ? AND status = ?", commentID, hideAt, models.CommentStatusVisible).
			UpdateColumn("status", models.CommentStatusHidden)
		if res.Error != nil {
			return fmt.Errorf("auto-hide comment: %w", res.Error)
		}
		hidden = res.RowsAffected > 0
		return nil
	})
	return hidden, err
}
