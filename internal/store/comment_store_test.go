package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	"yomu/internal/dbtest"
	"yomu/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	store  *CommentStore
	author *models.User
	manga  *models.Manga
	now    time.Time
	n      int
}

func newFixture(t *testing.T) *fixture {
	conn := dbtest.New(t)
	return &fixture{
		db:     conn,
		store:  NewCommentStore(conn),
		author: dbtest.SeedUser(t, conn, "kaori"),
		manga:  dbtest.SeedManga(t, conn, "blue-period"),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// add inserts a comment one second after the previous one.
func (f *fixture) add(t *testing.T, parent *models.Comment) *models.Comment {
	t.Helper()
	f.n++
	c := &models.Comment{
		ScopeID:         f.manga.ID,
		AuthorID:        f.author.ID,
		Content:         fmt.Sprintf("comment %d", f.n),
		ClientRequestID: fmt.Sprintf("req-%d", f.n),
		CreatedAt:       f.now.Add(time.Duration(f.n) * time.Second),
	}
	if parent != nil {
		c.ParentID = &parent.ID
		c.SubScopeKey = parent.SubScopeKey
	}
	require.NoError(t, f.store.Insert(context.Background(), c))
	return c
}

func (f *fixture) scope() Scope {
	return Scope{ID: f.manga.ID}
}

func TestInsertRejectsReusedRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.add(t, nil)
	dup := &models.Comment{
		ScopeID:         f.manga.ID,
		AuthorID:        f.author.ID,
		Content:         "again",
		ClientRequestID: first.ClientRequestID,
		CreatedAt:       f.now.Add(time.Minute),
	}
	assert.ErrorIs(t, f.store.Insert(ctx, dup), ErrConflict)

	var count int64
	require.NoError(t, f.db.Model(&models.Comment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	exists, err := f.store.RequestExists(ctx, f.author.ID, first.ClientRequestID)
	require.NoError(t, err)
	assert.True(t, exists)

	// Same request id from another author is a different key.
	other := dbtest.SeedUser(t, f.db, "mori")
	dup.AuthorID = other.ID
	assert.NoError(t, f.store.Insert(ctx, dup))
}

func TestCascadeDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.add(t, nil)
	a := f.add(t, root)
	f.add(t, a)
	f.add(t, root)
	other := f.add(t, nil)
	leaf := f.add(t, other)

	require.NoError(t, f.db.Create(&models.Notification{
		UserID: f.author.ID, ActorID: f.author.ID, Type: models.NotificationTypeMention,
		SourceCommentID: a.ID, ScopeID: f.manga.ID,
	}).Error)

	affected, err := f.store.CascadeDelete(ctx, root.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, affected)

	affected, err = f.store.CascadeDelete(ctx, leaf.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	var remaining []models.Comment
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].ID)

	var notifications int64
	require.NoError(t, f.db.Model(&models.Notification{}).Count(&notifications).Error)
	assert.Zero(t, notifications)

	_, err = f.store.CascadeDelete(ctx, root.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCascadeDeleteRemovesDependentsOfEveryRemovedComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.add(t, nil)
	mid := f.add(t, root)
	deep := f.add(t, mid)
	kept := f.add(t, nil)

	for _, c := range []*models.Comment{root, deep, kept} {
		require.NoError(t, f.db.Create(&models.CommentLike{UserID: f.author.ID, CommentID: c.ID}).Error)
	}
	require.NoError(t, f.db.Create(&models.CommentReport{UserID: f.author.ID, CommentID: deep.ID, Reason: "spam"}).Error)

	affected, err := f.store.CascadeDelete(ctx, root.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, affected)

	var orphans int64
	require.NoError(t, f.db.Model(&models.CommentLike{}).
		Where("comment_id NOT IN (?)", f.db.Model(&models.Comment{}).Select("id")).
		Count(&orphans).Error)
	assert.Zero(t, orphans)

	var likes []models.CommentLike
	require.NoError(t, f.db.Find(&likes).Error)
	require.Len(t, likes, 1)
	assert.Equal(t, kept.ID, likes[0].CommentID)

	var reports int64
	require.NoError(t, f.db.Model(&models.CommentReport{}).Count(&reports).Error)
	assert.Zero(t, reports)
}

func TestRootStatsAndFetchSubtrees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.add(t, nil)
	r1 := f.add(t, older)
	f.add(t, r1)
	newer := f.add(t, nil)
	hidden := f.add(t, newer)
	f.add(t, hidden)
	require.NoError(t, f.store.SetStatus(ctx, hidden.ID, models.CommentStatusHidden))

	stats, err := f.store.RootStats(ctx, f.scope())
	require.NoError(t, err)
	assert.Equal(t, []RootStat{
		{RootID: newer.ID, SubtreeSize: 1},
		{RootID: older.ID, SubtreeSize: 3},
	}, stats)

	comments, err := f.store.FetchSubtrees(ctx, []uint{older.ID, newer.ID})
	require.NoError(t, err)
	require.Len(t, comments, 4)
	for i := 1; i < len(comments); i++ {
		assert.False(t, comments[i].CreatedAt.Before(comments[i-1].CreatedAt))
	}
	for _, c := range comments {
		if c.ID == newer.ID {
			assert.Equal(t, newer.ID, c.RootID)
		} else {
			assert.Equal(t, older.ID, c.RootID)
		}
	}

	visible, err := f.store.CountVisible(ctx, f.scope())
	require.NoError(t, err)
	assert.EqualValues(t, 5, visible) // the hidden row's child is still status=visible

	empty, err := f.store.FetchSubtrees(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubScopeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chapter := "12"

	f.add(t, nil)
	c := &models.Comment{
		ScopeID: f.manga.ID, SubScopeKey: &chapter, AuthorID: f.author.ID,
		Content: "chapter talk", ClientRequestID: "chapter-1", CreatedAt: f.now,
	}
	require.NoError(t, f.store.Insert(ctx, c))

	wide, err := f.store.RootStats(ctx, f.scope())
	require.NoError(t, err)
	assert.Len(t, wide, 1)

	narrow, err := f.store.RootStats(ctx, Scope{ID: f.manga.ID, SubKey: &chapter})
	require.NoError(t, err)
	require.Len(t, narrow, 1)
	assert.Equal(t, c.ID, narrow[0].RootID)
}

func TestLatestAndRecentByAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	latest, err := f.store.LatestByAuthor(ctx, f.author.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	f.add(t, nil)
	second := f.add(t, nil)
	third := f.add(t, nil)

	latest, err = f.store.LatestByAuthor(ctx, f.author.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, third.ID, latest.ID)

	recent, err := f.store.RecentByAuthor(ctx, f.author.ID, second.CreatedAt, 12)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)
}

func TestToggleLikeAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.add(t, nil)
	reader := dbtest.SeedUser(t, f.db, "reader")

	liked, count, err := f.store.ToggleLike(ctx, reader.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)

	liked, count, err = f.store.ToggleLike(ctx, reader.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, count)

	hidden, err := f.store.AddReport(ctx, reader.ID, c.ID, "spam", 2)
	require.NoError(t, err)
	assert.False(t, hidden)

	_, err = f.store.AddReport(ctx, reader.ID, c.ID, "spam", 2)
	assert.ErrorIs(t, err, ErrConflict)

	hidden, err = f.store.AddReport(ctx, f.author.ID, c.ID, "off-topic", 2)
	require.NoError(t, err)
	assert.True(t, hidden)

	got, err := f.store.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommentStatusHidden, got.Status)
	assert.Equal(t, 2, got.ReportCount)
}

func TestWithAuthorLockSerializesSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.store.WithAuthorLock(ctx, "comment-post:1", func(tx *CommentStore) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				_, err := tx.LatestByAuthor(ctx, f.author.ID)

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Zero(t, f.store.locks.size())
}
