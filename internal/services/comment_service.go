package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
	"yomu/internal/models"
	"yomu/internal/store"
	"yomu/internal/utils"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultMaxContentLength    = 5000
	DefaultReportHideThreshold = 5
)

var validate = validator.New()

// CommentPolicy holds content limits and moderation thresholds.
type CommentPolicy struct {
	MaxContentLength    int
	ReportHideThreshold int
}

func DefaultCommentPolicy() CommentPolicy {
	return CommentPolicy{
		MaxContentLength:    DefaultMaxContentLength,
		ReportHideThreshold: DefaultReportHideThreshold,
	}
}

// CreateInput is a new comment or reply.
type CreateInput struct {
	ScopeID         uint    `validate:"required"`
	SubScopeKey     *string `validate:"omitempty,min=1,max=32,printascii"`
	ParentID        *uint   `validate:"omitempty,min=1"`
	Content         string  `validate:"required"`
	ClientRequestID string  `validate:"required,uuid"`
	ChallengeToken  string
	ClientIP        string
}

// EditInput is the new content of an existing comment.
type EditInput struct {
	Content        string
	ChallengeToken string
	ClientIP       string
}

// ThreadPage is one decorated page of a thread.
type ThreadPage struct {
	Pagination    Pagination     `json:"pagination"`
	Comments      []*CommentNode `json:"comments"`
	TotalComments int64          `json:"total_comments"`
}

// CommentService runs the comment write path and decorates read results.
type CommentService struct {
	db        *gorm.DB
	store     *store.CommentStore
	gate      *AbuseGate
	paginator *ThreadPaginator
	mentions  *MentionResolver
	fanout    *NotificationFanout
	policy    CommentPolicy
	now       func() time.Time
}

func NewCommentService(db *gorm.DB, gate *AbuseGate, mentions *MentionResolver, fanout *NotificationFanout, policy CommentPolicy, now func() time.Time) *CommentService {
	if now == nil {
		now = utcNow
	}
	if policy.MaxContentLength <= 0 {
		policy.MaxContentLength = DefaultMaxContentLength
	}
	st := store.NewCommentStore(db)
	return &CommentService{
		db:        db,
		store:     st,
		gate:      gate,
		paginator: NewThreadPaginator(st),
		mentions:  mentions,
		fanout:    fanout,
		policy:    policy,
		now:       now,
	}
}

// Create validates, gates and stores a comment, then notifies mentioned users.
func (s *CommentService) Create(ctx context.Context, user *models.User, in CreateInput) (*CommentNode, error) {
	if err := s.checkCanPost(ctx, user); err != nil {
		return nil, err
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if err := s.checkContent(in.Content); err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, in.ScopeID); err != nil {
		return nil, err
	}

	if in.ParentID != nil {
		parent, err := s.store.FindByID(ctx, *in.ParentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !parent.IsVisible()) {
			return nil, engineError(KindNotFound, "parent comment not found")
		}
		if err != nil {
			return nil, err
		}
		if parent.ScopeID != in.ScopeID {
			return nil, engineError(KindValidation, "parent comment belongs to another thread")
		}
		in.SubScopeKey = parent.SubScopeKey
	}

	mentions, err := s.mentions.Resolve(ctx, in.ScopeID, in.Content)
	if err != nil {
		log.WithError(err).WithField("scope_id", in.ScopeID).Warn("mention resolution failed")
		mentions = []models.MentionMetadata{}
	}

	attempt := WriteAttempt{
		AuthorID:        user.ID,
		ClientRequestID: in.ClientRequestID,
		Content:         in.Content,
		ChallengeToken:  in.ChallengeToken,
		ClientIP:        in.ClientIP,
	}

	var created *models.Comment
	err = s.store.WithAuthorLock(ctx, LockKey(user.ID), func(tx *store.CommentStore) error {
		if err := s.gate.Check(ctx, tx, attempt); err != nil {
			return err
		}
		c := &models.Comment{
			ParentID:        in.ParentID,
			ScopeID:         in.ScopeID,
			SubScopeKey:     in.SubScopeKey,
			AuthorID:        user.ID,
			Content:         in.Content,
			ClientRequestID: in.ClientRequestID,
			Mentions:        mentions,
			CreatedAt:       s.now(),
		}
		if err := tx.Insert(ctx, c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return engineError(KindReplayed, "this comment was already submitted")
			}
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		if IsKind(err, KindRateLimited) || IsKind(err, KindDuplicateContent) {
			s.gate.RegisterSignal(user.ID)
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"comment_id": created.ID,
		"author_id":  user.ID,
		"scope_id":   created.ScopeID,
		"mentions":   len(mentions),
	}).Info("comment created")

	s.fanout.OnCommentCreated(ctx, user, created, mentions)
	s.mentions.Invalidate(created.ScopeID)

	nodes, err := s.decorate(ctx, []models.Comment{*created})
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// ThreadPage returns one page of the scope's thread as a decorated forest.
func (s *CommentService) ThreadPage(ctx context.Context, scope store.Scope, page, perPage int) (*ThreadPage, error) {
	if err := s.requireScope(ctx, scope.ID); err != nil {
		return nil, err
	}
	res, err := s.paginator.Page(ctx, scope, page, perPage)
	if err != nil {
		return nil, err
	}
	nodes, err := s.decorate(ctx, res.Comments)
	if err != nil {
		return nil, err
	}

	flat := make([]models.Comment, 0, len(nodes))
	byID := make(map[uint]*CommentNode, len(nodes))
	for _, n := range nodes {
		flat = append(flat, n.Comment)
		byID[n.ID] = n
	}
	forest := BuildForest(flat)
	Walk(forest, func(n *CommentNode) {
		d := byID[n.ID]
		n.Author = d.Author
		n.ContentHTML = d.ContentHTML
	})

	return &ThreadPage{
		Pagination:    res.Pagination,
		Comments:      forest,
		TotalComments: res.TotalComments,
	}, nil
}

// Delete removes the comment and all of its replies. Only the author or a
// moderator may delete.
func (s *CommentService) Delete(ctx context.Context, user *models.User, id uint) (int64, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.AuthorID != user.ID && !user.IsModerator() {
		return 0, engineError(KindForbidden, "you cannot delete this comment")
	}

	removed, err := s.store.CascadeDelete(ctx, id)
	if err != nil {
		return 0, storeError(err, "comment not found")
	}
	s.mentions.Invalidate(c.ScopeID)

	log.WithFields(log.Fields{
		"comment_id": id,
		"user_id":    user.ID,
		"removed":    removed,
	}).Info("comment deleted")
	return removed, nil
}

// Edit replaces the content of the author's own comment and notifies users
// newly mentioned by it. Edits pass the cooldown and challenge checks under the
// author's lock.
func (s *CommentService) Edit(ctx context.Context, user *models.User, id uint, in EditInput) (*CommentNode, error) {
	if err := s.checkCanPost(ctx, user); err != nil {
		return nil, err
	}
	c, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.AuthorID != user.ID {
		return nil, engineError(KindForbidden, "you can only edit your own comments")
	}
	if !c.IsVisible() {
		return nil, engineError(KindNotFound, "comment not found")
	}

	content := strings.TrimSpace(in.Content)
	if err := s.checkContent(content); err != nil {
		return nil, err
	}

	mentions, err := s.mentions.Resolve(ctx, c.ScopeID, content)
	if err != nil {
		log.WithError(err).WithField("comment_id", id).Warn("mention resolution failed")
		mentions = []models.MentionMetadata{}
	}

	attempt := WriteAttempt{
		AuthorID:       user.ID,
		Content:        content,
		ChallengeToken: in.ChallengeToken,
		ClientIP:       in.ClientIP,
	}
	err = s.store.WithAuthorLock(ctx, LockKey(user.ID), func(tx *store.CommentStore) error {
		if err := s.gate.CheckEdit(ctx, tx, attempt); err != nil {
			return err
		}
		return tx.UpdateContent(ctx, c, content, mentions, s.now())
	})
	if err != nil {
		if IsKind(err, KindRateLimited) {
			s.gate.RegisterSignal(user.ID)
		}
		return nil, err
	}

	s.fanout.OnCommentCreated(ctx, user, c, mentions)

	nodes, err := s.decorate(ctx, []models.Comment{*c})
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// ToggleLike likes the comment, or removes the user's like.
func (s *CommentService) ToggleLike(ctx context.Context, user *models.User, id uint) (bool, int, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return false, 0, err
	}
	if !c.IsVisible() {
		return false, 0, engineError(KindNotFound, "comment not found")
	}
	liked, count, err := s.store.ToggleLike(ctx, user.ID, id)
	if err != nil {
		return false, 0, storeError(err, "comment not found")
	}
	return liked, count, nil
}

// Report flags the comment. It returns true when the report hid the comment.
func (s *CommentService) Report(ctx context.Context, user *models.User, id uint, reason string) (bool, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return false, err
	}
	if c.AuthorID == user.ID {
		return false, engineError(KindValidation, "you cannot report your own comment")
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > 200 {
		return false, engineError(KindValidation, "report reason is too long")
	}

	hidden, err := s.store.AddReport(ctx, user.ID, id, reason, s.policy.ReportHideThreshold)
	if errors.Is(err, store.ErrConflict) {
		return false, engineError(KindReplayed, "you already reported this comment")
	}
	if err != nil {
		return false, err
	}
	if hidden {
		log.WithField("comment_id", id).Info("comment hidden after reports")
	}
	return hidden, nil
}

// SetStatus hides or restores a comment. Moderators only.
func (s *CommentService) SetStatus(ctx context.Context, user *models.User, id uint, status string) error {
	if !user.IsModerator() {
		return engineError(KindForbidden, "moderator role required")
	}
	if status != models.CommentStatusVisible && status != models.CommentStatusHidden {
		return engineError(KindValidation, "status must be visible or hidden")
	}
	if err := s.store.SetStatus(ctx, id, status); err != nil {
		return storeError(err, "comment not found")
	}
	log.WithFields(log.Fields{"comment_id": id, "moderator_id": user.ID, "status": status}).Info("comment status changed")
	return nil
}

// MentionCandidates lists participants of the scope for autocomplete.
func (s *CommentService) MentionCandidates(ctx context.Context, scopeID uint, prefix string) ([]MentionCandidate, error) {
	if err := s.requireScope(ctx, scopeID); err != nil {
		return nil, err
	}
	return s.mentions.ListCandidates(ctx, scopeID, prefix)
}

// decorate attaches author views, refreshed mentions and rendered HTML.
func (s *CommentService) decorate(ctx context.Context, comments []models.Comment) ([]*CommentNode, error) {
	ids := make([]uint, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.AuthorID)
		for _, m := range c.Mentions {
			ids = append(ids, m.UserID)
		}
	}
	users, err := loadUsers(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*CommentNode, 0, len(comments))
	for _, c := range comments {
		c.Mentions = RefreshMentions(c.Mentions, users)
		n := &CommentNode{Comment: c, Replies: []*CommentNode{}}
		if u, ok := users[c.AuthorID]; ok {
			n.Author = authorViewOf(u)
		}
		n.ContentHTML = string(utils.RenderMarkdown(c.Content, c.Mentions))
		out = append(out, n)
	}
	return out, nil
}

func (s *CommentService) find(ctx context.Context, id uint) (*models.Comment, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "comment not found")
	}
	return c, nil
}

func (s *CommentService) requireScope(ctx context.Context, scopeID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Manga{}).Where("id = ?", scopeID).Count(&count).Error; err != nil {
		return fmt.Errorf("check manga %d: %w", scopeID, err)
	}
	if count == 0 {
		return engineError(KindNotFound, "manga not found")
	}
	return nil
}

func (s *CommentService) checkContent(content string) error {
	if content == "" {
		return engineError(KindValidation, "comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > s.policy.MaxContentLength {
		return engineError(KindValidation, fmt.Sprintf("comment exceeds %d characters", s.policy.MaxContentLength))
	}
	return nil
}

// checkCanPost rejects banned and muted users. An expired punishment is lifted.
func (s *CommentService) checkCanPost(ctx context.Context, user *models.User) error {
	if user.Status == models.UserStatusNormal {
		return nil
	}
	if user.PunishExpires != nil && !user.PunishExpires.After(s.now()) {
		err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
			"status":         models.UserStatusNormal,
			"punish_expires": nil,
		}).Error
		if err != nil {
			return fmt.Errorf("lift punishment of user %d: %w", user.ID, err)
		}
		user.Status = models.UserStatusNormal
		user.PunishExpires = nil
		return nil
	}
	if user.Status == models.UserStatusBanned {
		return engineError(KindForbidden, "your account is banned")
	}
	return engineError(KindForbidden, "you are muted and cannot comment")
}

func storeError(err error, notFound string) error {
	if errors.Is(err, store.ErrNotFound) {
		return engineError(KindNotFound, notFound)
	}
	return err
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Field() {
		case "ClientRequestID":
			return engineError(KindValidation, "client request id must be a UUID")
		case "Content":
			return engineError(KindValidation, "comment cannot be empty")
		case "SubScopeKey":
			return engineError(KindValidation, "invalid chapter key")
		}
		return engineError(KindValidation, fmt.Sprintf("invalid %s", strings.ToLower(fe.Field())))
	}
	return engineError(KindValidation, err.Error())
}
