package services

import (
	"context"
	"fmt"
	"sort"
	"yomu/internal/models"
	"yomu/internal/store"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 50
)

// Pagination is the page metadata returned with a thread page.
type Pagination struct {
	Page          int `json:"page"`
	PerPage       int `json:"per_page"`
	TotalPages    int `json:"total_pages"`
	TotalTopLevel int `json:"total_top_level"`
}

// PageSelection is the set of roots that make up one page.
type PageSelection struct {
	Pagination
	RootIDs []uint
}

// SelectPage packs roots (already ordered newest first) into pages without
// splitting a subtree: a page takes roots until it holds at least perPage
// items, so one large subtree fills a page on its own. perPage bounds root
// selection, not the final item count. TotalPages counts the packed pages and
// is not ceil(count/perPage).
func SelectPage(stats []store.RootStat, page, perPage int) PageSelection {
	perPage = clamp(perPage, 1, MaxPerPage)

	var pages [][]uint
	var current []uint
	filled := 0
	for _, st := range stats {
		current = append(current, st.RootID)
		filled += st.SubtreeSize
		if filled >= perPage {
			pages = append(pages, current)
			current = nil
			filled = 0
		}
	}
	if len(current) > 0 {
		pages = append(pages, current)
	}

	totalPages := len(pages)
	if totalPages == 0 {
		totalPages = 1
	}
	page = clamp(page, 1, totalPages)

	sel := PageSelection{
		Pagination: Pagination{
			Page:          page,
			PerPage:       perPage,
			TotalPages:    totalPages,
			TotalTopLevel: len(stats),
		},
		RootIDs: []uint{},
	}
	if len(pages) > 0 {
		sel.RootIDs = pages[page-1]
	}
	return sel
}

// ThreadPaginator reads one page of a scope's comment forest.
type ThreadPaginator struct {
	store *store.CommentStore
}

func NewThreadPaginator(s *store.CommentStore) *ThreadPaginator {
	return &ThreadPaginator{store: s}
}

// PageResult holds the selected page and the flat rows of its subtrees.
type PageResult struct {
	Pagination    Pagination
	Comments      []models.Comment
	TotalComments int64
}

func (p *ThreadPaginator) Page(ctx context.Context, scope store.Scope, page, perPage int) (*PageResult, error) {
	stats, err := p.store.RootStats(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("paginate thread: %w", err)
	}
	sel := SelectPage(stats, page, perPage)

	comments, err := p.store.FetchSubtrees(ctx, sel.RootIDs)
	if err != nil {
		return nil, fmt.Errorf("paginate thread: %w", err)
	}

	total, err := p.store.CountVisible(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("paginate thread: %w", err)
	}

	return &PageResult{
		Pagination:    sel.Pagination,
		Comments:      comments,
		TotalComments: total,
	}, nil
}

// CommentNode is a comment with its nested replies and display decoration.
type CommentNode struct {
	models.Comment
	ContentHTML string         `json:"content_html"`
	Author      *AuthorView    `json:"author"`
	Replies     []*CommentNode `json:"replies"`
}

// AuthorView is the public projection of a comment's author.
type AuthorView struct {
	ID          uint           `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Color       string         `json:"color"`
	Badges      []models.Badge `json:"badges"`
}

// BuildForest assembles flat rows into trees: replies oldest first at every
// level, roots newest first. Rows whose parent is absent are dropped.
func BuildForest(comments []models.Comment) []*CommentNode {
	nodes := make(map[uint]*CommentNode, len(comments))
	for i := range comments {
		nodes[comments[i].ID] = &CommentNode{Comment: comments[i], Replies: []*CommentNode{}}
	}

	roots := make([]*CommentNode, 0)
	for i := range comments {
		n := nodes[comments[i].ID]
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[*n.ParentID]; ok {
			parent.Replies = append(parent.Replies, n)
		}
	}

	// iterative walk over all reply lists
	stack := append([]*CommentNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sort.SliceStable(n.Replies, func(i, j int) bool {
			return olderFirst(&n.Replies[i].Comment, &n.Replies[j].Comment)
		})
		stack = append(stack, n.Replies...)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return olderFirst(&roots[j].Comment, &roots[i].Comment)
	})
	return roots
}

// Walk visits every node of the forest depth first.
func Walk(forest []*CommentNode, fn func(*CommentNode)) {
	stack := append([]*CommentNode(nil), forest...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		stack = append(stack, n.Replies...)
	}
}

func olderFirst(a, b *models.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
