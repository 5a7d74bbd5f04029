package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"yomu/internal/middleware"
	"yomu/internal/models"
	"yomu/internal/services"
	"yomu/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// RespondError renders err as the JSON error envelope. Engine errors keep
// their kind and retry hint; anything else is logged and hidden behind a 500.
func RespondError(c *gin.Context, err error) {
	if e, ok := services.AsEngineError(err); ok {
		body := gin.H{"code": string(e.Kind), "message": e.Message}
		if e.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.Itoa(e.RetryAfterSeconds))
			body["retry_after"] = e.RetryAfterSeconds
		}
		c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{"error": body})
		return
	}

	log.WithError(err).WithFields(log.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": "internal", "message": "something went wrong, please try again later"},
	})
}

// BadRequest renders a validation error.
func BadRequest(c *gin.Context, message string) {
	RespondError(c, &services.EngineError{Kind: services.KindValidation, Message: message})
}

// bindError turns a binding failure into a readable validation message.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		BadRequest(c, msg(fe))
		return
	}
	BadRequest(c, "invalid request body")
}

func msg(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "request_id":
		return field + " must be a UUID"
	case "max":
		return field + " is too long"
	case "oneof":
		return field + " must be one of " + fe.Param()
	}
	return "invalid " + field
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(middleware.CheckUserKey).(*models.User)
}

// paramID reads a positive numeric path parameter, answering 400 when absent.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, ok := utils.StringToUint(c.Param(name))
	if !ok {
		BadRequest(c, "invalid "+name)
	}
	return id, ok
}
