package middleware

import (
	"net/http"
	"yomu/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const CheckUserKey = "user"

// SessionUserKey is the session key the identity provider stores the user id under.
const SessionUserKey = "user_id"

// AuthRequired rejects requests without a loaded user
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(CheckUserKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "please log in first"},
			})
			return
		}
		c.Next()
	}
}

// LoadUser retrieves user from session and sets to context
func LoadUser(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(SessionUserKey)

		if userID != nil {
			var user models.User
			result := conn.WithContext(c.Request.Context()).First(&user, userID)
			if result.Error == nil {
				c.Set(CheckUserKey, &user)
			} else if result.Error != gorm.ErrRecordNotFound {
				log.WithError(result.Error).Warn("load session user failed")
			}
		}
		c.Next()
	}
}
