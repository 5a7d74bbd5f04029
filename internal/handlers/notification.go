package handlers

import (
	"net/http"
	"yomu/internal/services"
	"yomu/internal/utils"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	fanout *services.NotificationFanout
}

func NewNotificationHandler(fanout *services.NotificationFanout) *NotificationHandler {
	return &NotificationHandler{fanout: fanout}
}

// List GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	user := currentUser(c)
	limit := utils.StringToIntOr(c.Query("limit"), services.MaxNotificationList)

	notifications, err := h.fanout.List(c.Request.Context(), user.ID, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	unread, err := h.fanout.UnreadCount(c.Request.Context(), user.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "unread": unread})
}

// UnreadCount GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.fanout.UnreadCount(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// Read POST /api/notifications/:id/read
func (h *NotificationHandler) Read(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.fanout.MarkRead(c.Request.Context(), currentUser(c).ID, id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadAll POST /api/notifications/read-all
func (h *NotificationHandler) ReadAll(c *gin.Context) {
	updated, err := h.fanout.MarkAllRead(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Delete DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.fanout.Delete(c.Request.Context(), currentUser(c).ID, id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
