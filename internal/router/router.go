package router

import (
	"yomu/internal/handlers"
	"yomu/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers bundles the HTTP handlers served by the engine.
type Handlers struct {
	Comments      *handlers.CommentHandler
	Notifications *handlers.NotificationHandler
	Stream        *handlers.StreamHandler
}

// RegisterRoutes mounts the API. loadUser populates the current user from
// the request; routes that write require one.
func RegisterRoutes(r *gin.Engine, h Handlers, loadUser gin.HandlerFunc) {
	handlers.RegisterValidators()

	api := r.Group("/api")
	api.Use(loadUser)

	// 公共路由 (Public Routes)
	api.GET("/manga/:mangaId/comments", h.Comments.List)     // 评论分页
	api.GET("/manga/:mangaId/mentions", h.Comments.Mentions) // @提及候选

	// 受保护路由 (Protected Routes)
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.POST("/manga/:mangaId/comments", h.Comments.Create) // 发表评论
		authorized.PATCH("/comments/:id", h.Comments.Edit)             // 编辑评论
		authorized.DELETE("/comments/:id", h.Comments.Delete)          // 删除评论
		authorized.POST("/comments/:id/like", h.Comments.Like)         // 点赞/取消点赞
		authorized.POST("/comments/:id/report", h.Comments.Report)     // 举报
		authorized.POST("/comments/:id/status", h.Comments.SetStatus)  // 版主隐藏/恢复

		authorized.GET("/notifications", h.Notifications.List)                     // 我的通知列表
		authorized.GET("/notifications/unread-count", h.Notifications.UnreadCount) // 未读数
		authorized.GET("/notifications/stream", h.Stream.Stream)                   // 实时推送
		authorized.POST("/notifications/read-all", h.Notifications.ReadAll)        // 全部通知标记为已读
		authorized.POST("/notifications/:id/read", h.Notifications.Read)           // 标记单条通知为已读
		authorized.DELETE("/notifications/:id", h.Notifications.Delete)            // 删除单条通知
	}
}
