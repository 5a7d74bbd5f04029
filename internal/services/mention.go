package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"yomu/internal/models"
	"yomu/internal/utils"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gorm.io/gorm"
)

const (
	MaxMentionCandidates = 40
	candidateCacheTTL    = 60 * time.Second
)

// MentionCandidate is a user that can be mentioned inside a scope.
type MentionCandidate = models.MentionMetadata

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_]{0,24}$`)
	mentionMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// ExtractUsernames returns the lowercase @usernames in content, in order of
// first appearance. Mentions inside links, autolinks, images, code and raw
// HTML are ignored.
func ExtractUsernames(content string) []string {
	src := []byte(content)
	doc := mentionMarkdown.Parser().Parse(text.NewReader(src))

	var buf strings.Builder
	lastStop := -1
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindLink, ast.KindAutoLink, ast.KindImage, ast.KindCodeSpan,
			ast.KindCodeBlock, ast.KindFencedCodeBlock, ast.KindHTMLBlock, ast.KindRawHTML:
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			t := n.(*ast.Text)
			// adjacent segments belong to one run of source text
			if t.Segment.Start != lastStop {
				buf.WriteByte('\n')
			}
			buf.Write(t.Segment.Value(src))
			lastStop = t.Segment.Stop
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
				lastStop = -1
			}
		}
		return ast.WalkContinue, nil
	})

	return scanMentions(buf.String())
}

func scanMentions(s string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, m := range utils.MentionPattern.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[0], m[1]
		if start > 0 && utils.IsWordByte(s[start-1]) {
			continue
		}
		if end < len(s) && utils.IsWordByte(s[end]) {
			continue
		}
		name := strings.ToLower(s[m[2]:m[3]])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// MentionResolver resolves mentions against the participants of a scope.
// Lookups never search users globally.
type MentionResolver struct {
	db    *gorm.DB
	cache *utils.GlobalCache
}

func NewMentionResolver(db *gorm.DB, cache *utils.GlobalCache) *MentionResolver {
	return &MentionResolver{db: db, cache: cache}
}

// participants selects the ids of users who commented anywhere in the scope.
func (r *MentionResolver) participants(ctx context.Context, scopeID uint) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Comment{}).
		Select("DISTINCT author_id").
		Where("scope_id = ?", scopeID)
}

// ResolveCandidates maps each username that belongs to a participant of the
// scope to its candidate. Unknown names are absent from the result.
func (r *MentionResolver) ResolveCandidates(ctx context.Context, scopeID uint, usernames []string) (map[string]MentionCandidate, error) {
	out := make(map[string]MentionCandidate)
	if len(usernames) == 0 {
		return out, nil
	}

	var users []models.User
	err := r.db.WithContext(ctx).
		Where("LOWER(username) IN ?", usernames).
		Where("id IN (?)", r.participants(ctx, scopeID)).
		Limit(MaxMentionCandidates).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	for i := range users {
		c := candidateOf(&users[i])
		out[c.Username] = c
	}
	return out, nil
}

// ListCandidates returns up to 40 participants whose username starts with
// prefix, for mention autocomplete.
func (r *MentionResolver) ListCandidates(ctx context.Context, scopeID uint, prefix string) ([]MentionCandidate, error) {
	prefix = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prefix), "@"))
	if !usernamePattern.MatchString(prefix) {
		return []MentionCandidate{}, nil
	}

	key := fmt.Sprintf("%s%s", candidateCachePrefix(scopeID), prefix)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key).([]MentionCandidate); ok {
			return cached, nil
		}
	}

	q := r.db.WithContext(ctx).
		Where("id IN (?)", r.participants(ctx, scopeID))
	if prefix != "" {
		// prefix is [a-z0-9_]; escape the LIKE wildcard
		q = q.Where("LOWER(username) LIKE ? ESCAPE '\\'", strings.ReplaceAll(prefix, "_", `\_`)+"%")
	}

	var users []models.User
	if err := q.Order("username ASC").Limit(MaxMentionCandidates).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list mention candidates: %w", err)
	}

	out := make([]MentionCandidate, 0, len(users))
	for i := range users {
		out = append(out, candidateOf(&users[i]))
	}
	if r.cache != nil {
		r.cache.Set(key, out, candidateCacheTTL)
	}
	return out, nil
}

// Invalidate drops cached candidate lists of the scope.
func (r *MentionResolver) Invalidate(scopeID uint) {
	if r.cache != nil {
		r.cache.DeletePrefix(candidateCachePrefix(scopeID))
	}
}

// Decorate returns metadata for each resolved username present in content,
// in order of first appearance. Unresolved tokens stay plain text.
func Decorate(content string, candidates map[string]MentionCandidate) []models.MentionMetadata {
	out := make([]models.MentionMetadata, 0)
	for _, name := range ExtractUsernames(content) {
		if c, ok := candidates[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Resolve extracts, resolves and decorates in one step.
func (r *MentionResolver) Resolve(ctx context.Context, scopeID uint, content string) ([]models.MentionMetadata, error) {
	names := ExtractUsernames(content)
	if len(names) == 0 {
		return []models.MentionMetadata{}, nil
	}
	candidates, err := r.ResolveCandidates(ctx, scopeID, names)
	if err != nil {
		return nil, err
	}
	return Decorate(content, candidates), nil
}

// RefreshMentions rewrites stored mention metadata with the users' current
// display data; mentions of users that no longer exist are dropped.
func RefreshMentions(mentions []models.MentionMetadata, users map[uint]*models.User) []models.MentionMetadata {
	out := make([]models.MentionMetadata, 0, len(mentions))
	for _, m := range mentions {
		u, ok := users[m.UserID]
		if !ok {
			continue
		}
		out = append(out, candidateOf(u))
	}
	return out
}

func candidateOf(u *models.User) MentionCandidate {
	return MentionCandidate{
		UserID:      u.ID,
		Username:    strings.ToLower(u.Username),
		DisplayName: u.Name(),
		Color:       utils.UserColor(u.Username, u.Color),
	}
}

func candidateCachePrefix(scopeID uint) string {
	return fmt.Sprintf("mention:candidates:%d:", scopeID)
}
