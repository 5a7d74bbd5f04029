package handlers

import (
	"net/http"
	"strings"
	"yomu/internal/services"
	"yomu/internal/store"
	"yomu/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CommentHandler struct {
	comments *services.CommentService
}

func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type createCommentRequest struct {
	Content         string `json:"content" binding:"required"`
	ParentID        *uint  `json:"parent_id" binding:"omitempty,min=1"`
	ClientRequestID string `json:"client_request_id" binding:"required,request_id"`
	ChallengeToken  string `json:"challenge_token"`
}

type editCommentRequest struct {
	Content        string `json:"content" binding:"required"`
	ChallengeToken string `json:"challenge_token"`
}

type reportCommentRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=visible hidden"`
}

// scopeOf reads the manga id and the optional chapter sub-scope.
func scopeOf(c *gin.Context) (store.Scope, bool) {
	mangaID, ok := paramID(c, "mangaId")
	if !ok {
		return store.Scope{}, false
	}
	scope := store.Scope{ID: mangaID}
	if chapter := strings.TrimSpace(c.Query("chapter")); chapter != "" {
		scope.SubKey = &chapter
	}
	return scope, true
}

// List GET /api/manga/:mangaId/comments
func (h *CommentHandler) List(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	page := utils.StringToIntOr(c.Query("page"), 1)
	perPage := utils.StringToIntOr(c.Query("per_page"), services.DefaultPerPage)

	result, err := h.comments.ThreadPage(c.Request.Context(), scope, page, perPage)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Create POST /api/manga/:mangaId/comments
func (h *CommentHandler) Create(c *gin.Context) {
	scope, ok := scopeOf(c)
	if !ok {
		return
	}
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	requestID, err := uuid.Parse(req.ClientRequestID)
	if err != nil {
		BadRequest(c, "client_request_id must be a UUID")
		return
	}

	node, err := h.comments.Create(c.Request.Context(), currentUser(c), services.CreateInput{
		ScopeID:         scope.ID,
		SubScopeKey:     scope.SubKey,
		ParentID:        req.ParentID,
		Content:         req.Content,
		ClientRequestID: requestID.String(),
		ChallengeToken:  req.ChallengeToken,
		ClientIP:        c.ClientIP(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": node, "mentions": node.Mentions})
}

// Mentions GET /api/manga/:mangaId/mentions?q=
func (h *CommentHandler) Mentions(c *gin.Context) {
	mangaID, ok := paramID(c, "mangaId")
	if !ok {
		return
	}
	candidates, err := h.comments.MentionCandidates(c.Request.Context(), mangaID, c.Query("q"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// Edit PATCH /api/comments/:id
func (h *CommentHandler) Edit(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req editCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	node, err := h.comments.Edit(c.Request.Context(), currentUser(c), id, services.EditInput{
		Content:        req.Content,
		ChallengeToken: req.ChallengeToken,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": node})
}

// Delete DELETE /api/comments/:id
func (h *CommentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	affected, err := h.comments.Delete(c.Request.Context(), currentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affected": affected})
}

// Like POST /api/comments/:id/like
func (h *CommentHandler) Like(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	liked, count, err := h.comments.ToggleLike(c.Request.Context(), currentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked, "like_count": count})
}

// Report POST /api/comments/:id/report
func (h *CommentHandler) Report(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reportCommentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	hidden, err := h.comments.Report(c.Request.Context(), currentUser(c), id, req.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reported": true, "hidden": hidden})
}

// SetStatus POST /api/comments/:id/status
func (h *CommentHandler) SetStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.comments.SetStatus(c.Request.Context(), currentUser(c), id, req.Status); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}
