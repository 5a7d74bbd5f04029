package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies expected failures of the comment engine.
type ErrorKind string

const (
	KindReplayed          ErrorKind = "replayed"
	KindRateLimited       ErrorKind = "rate_limited"
	KindDuplicateContent  ErrorKind = "duplicate_content"
	KindChallengeRequired ErrorKind = "challenge_required"
	KindChallengeFailed   ErrorKind = "challenge_failed"
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
)

// EngineError is a typed, expected outcome. Anything else returned by the
// services is an infrastructure failure.
type EngineError struct {
	Kind              ErrorKind
	Message           string
	RetryAfterSeconds int
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s: %s (retry after %ds)", e.Kind, e.Message, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) HTTPStatus() int {
	switch e.Kind {
	case KindReplayed:
		return http.StatusConflict
	case KindRateLimited, KindDuplicateContent:
		return http.StatusTooManyRequests
	case KindChallengeRequired, KindChallengeFailed, KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func engineError(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

func retryError(kind ErrorKind, message string, retryAfter int) *EngineError {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &EngineError{Kind: kind, Message: message, RetryAfterSeconds: retryAfter}
}

// AsEngineError unwraps err into an *EngineError when it is one.
func AsEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsEngineError(err)
	return ok && e.Kind == kind
}
