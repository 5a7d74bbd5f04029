package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
	"yomu/internal/models"
	"yomu/internal/utils"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultNotificationRetention = 30 * 24 * time.Hour
	DefaultCleanupInterval       = 48 * time.Hour
	MaxNotificationList          = 50
	excerptRunes                 = 120
)

// MentionEvent is the payload of a live mention event.
type MentionEvent struct {
	NotificationID uint                   `json:"notification_id"`
	CommentID      uint                   `json:"comment_id"`
	ScopeID        uint                   `json:"scope_id"`
	SubScopeKey    *string                `json:"sub_scope_key"`
	Actor          models.MentionMetadata `json:"actor"`
	Excerpt        string                 `json:"excerpt"`
}

// NotificationView is a notification decorated for the inbox.
type NotificationView struct {
	models.Notification
	Read    bool        `json:"read"`
	Actor   *AuthorView `json:"actor"`
	Excerpt string      `json:"excerpt"`
}

// NotificationFanout persists mention notifications and pushes them to live
// connections. A failure for one recipient never affects the others or the
// comment that triggered it.
type NotificationFanout struct {
	db        *gorm.DB
	publisher Publisher
	retention time.Duration
	now       func() time.Time
}

func NewNotificationFanout(db *gorm.DB, publisher Publisher, retention time.Duration, now func() time.Time) *NotificationFanout {
	if retention <= 0 {
		retention = DefaultNotificationRetention
	}
	if now == nil {
		now = utcNow
	}
	return &NotificationFanout{db: db, publisher: publisher, retention: retention, now: now}
}

// OnCommentCreated notifies each mentioned user except the author. It returns
// the number of notifications created.
func (f *NotificationFanout) OnCommentCreated(ctx context.Context, actor *models.User, comment *models.Comment, mentions []models.MentionMetadata) int {
	created := 0
	seen := make(map[uint]bool)
	for _, m := range mentions {
		if m.UserID == comment.AuthorID || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true

		n, err := f.insert(ctx, m.UserID, comment)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"recipient_id": m.UserID,
				"comment_id":   comment.ID,
			}).Warn("mention notification failed")
			continue
		}
		if n == nil {
			continue
		}
		created++

		if f.publisher == nil {
			continue
		}
		f.publisher.Publish(m.UserID, StreamEvent{
			Type: EventMention,
			Payload: MentionEvent{
				NotificationID: n.ID,
				CommentID:      comment.ID,
				ScopeID:        comment.ScopeID,
				SubScopeKey:    comment.SubScopeKey,
				Actor:          candidateOf(actor),
				Excerpt:        Excerpt(comment.Content),
			},
		})
	}
	return created
}

// insert returns nil when the notification already exists.
func (f *NotificationFanout) insert(ctx context.Context, recipientID uint, comment *models.Comment) (*models.Notification, error) {
	n := &models.Notification{
		UserID:          recipientID,
		ActorID:         comment.AuthorID,
		Type:            models.NotificationTypeMention,
		SourceCommentID: comment.ID,
		ScopeID:         comment.ScopeID,
		CreatedAt:       f.now(),
	}
	res := f.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return n, nil
}

func (f *NotificationFanout) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := f.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

// List returns the user's newest notifications with actor and excerpt.
func (f *NotificationFanout) List(ctx context.Context, userID uint, limit int) ([]NotificationView, error) {
	limit = clamp(limit, 1, MaxNotificationList)

	var rows []models.Notification
	err := f.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	actorIDs := make([]uint, 0, len(rows))
	commentIDs := make([]uint, 0, len(rows))
	for _, n := range rows {
		actorIDs = append(actorIDs, n.ActorID)
		commentIDs = append(commentIDs, n.SourceCommentID)
	}
	actors, err := loadUsers(ctx, f.db, actorIDs)
	if err != nil {
		return nil, err
	}
	var comments []models.Comment
	if len(commentIDs) > 0 {
		if err := f.db.WithContext(ctx).Select("id", "content").Where("id IN ?", commentIDs).Find(&comments).Error; err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
	}
	excerpts := make(map[uint]string, len(comments))
	for _, c := range comments {
		excerpts[c.ID] = Excerpt(c.Content)
	}

	out := make([]NotificationView, 0, len(rows))
	for _, n := range rows {
		v := NotificationView{Notification: n, Read: n.IsRead(), Excerpt: excerpts[n.SourceCommentID]}
		if u, ok := actors[n.ActorID]; ok {
			v.Actor = authorViewOf(u)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *NotificationFanout) MarkRead(ctx context.Context, userID, id uint) error {
	var n models.Notification
	err := f.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engineError(KindNotFound, "notification not found")
	}
	if err != nil {
		return err
	}
	if n.IsRead() {
		return nil
	}
	return f.db.WithContext(ctx).Model(&n).Update("read_at", f.now()).Error
}

func (f *NotificationFanout) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := f.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", f.now())
	return res.RowsAffected, res.Error
}

func (f *NotificationFanout) Delete(ctx context.Context, userID, id uint) error {
	res := f.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return engineError(KindNotFound, "notification not found")
	}
	return nil
}

// CleanupExpired removes notifications older than the retention period.
func (f *NotificationFanout) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := f.now().Add(-f.retention)
	res := f.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StartScheduledCleanup runs CleanupExpired once at start and then every
// interval until ctx is done.
func (f *NotificationFanout) StartScheduledCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			removed, err := f.CleanupExpired(ctx)
			if err != nil {
				log.WithError(err).Error("notification cleanup failed")
			} else {
				log.WithField("removed", removed).Info("expired notifications removed")
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Excerpt shortens content for previews.
func Excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptRunes {
		return content
	}
	r := []rune(content)
	return string(r[:excerptRunes]) + "…"
}

func loadUsers(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func authorViewOf(u *models.User) *AuthorView {
	return &AuthorView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		Color:       utils.UserColor(u.Username, u.Color),
		Badges:      u.Badges,
	}
}
