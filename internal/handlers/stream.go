package handlers

import (
	"io"
	"net/http"
	"yomu/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type StreamHandler struct {
	hub *services.StreamHub
}

func NewStreamHandler(hub *services.StreamHub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream GET /api/notifications/stream
// Server-sent events for the current user until the client goes away.
func (h *StreamHandler) Stream(c *gin.Context) {
	user := currentUser(c)
	handle := h.hub.Subscribe(user.ID)
	defer h.hub.Unsubscribe(handle)

	log.WithFields(log.Fields{"user_id": user.ID, "handle": handle.ID}).Debug("stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-handle.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Payload)
			return true
		}
	})

	log.WithFields(log.Fields{"user_id": user.ID, "handle": handle.ID}).Debug("stream closed")
}
