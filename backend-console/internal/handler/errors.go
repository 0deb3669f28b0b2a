package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

// errorCode maps a domain error to an HTTP status and error code
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrFunctionNotFound):
		return http.StatusNotFound, "FUNCTION_NOT_FOUND"
	case errors.Is(err, domain.ErrCheckoutDisabled):
		return http.StatusServiceUnavailable, "CHECKOUT_DISABLED"
	case errors.Is(err, domain.ErrEmailNotConfirmed):
		return http.StatusUnauthorized, "EMAIL_NOT_CONFIRMED"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, domain.ErrUserInactive):
		return http.StatusForbidden, "USER_INACTIVE"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case errors.Is(err, domain.ErrUserAlreadyExists):
		return http.StatusConflict, "USER_EXISTS"
	case domain.IsAuthError(err):
		return http.StatusUnauthorized, "INVALID_TOKEN"
	case domain.IsNotFoundError(err):
		return http.StatusNotFound, "NOT_FOUND"
	case domain.IsValidationError(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case domain.IsConflictError(err):
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// respondError writes err with the backend's own message. Unmapped errors
// are logged and reported as internal.
func respondError(c *gin.Context, err error) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		requestID := middleware.GetRequestID(c)
		logger.Get().ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		response.InternalError(c, requestID)
		return
	}
	response.Error(c, status, code, err.Error(), "")
}

// Recovery renders a fallback body when a handler panics, so one broken
// view never takes the console down
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.ErrorContext(c.Request.Context(), "handler panicked",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Any("panic", recovered),
		)
		body := response.Fail("UNEXPECTED_ERROR", "Something went wrong. Please reload the page.")
		body.Meta = gin.H{"fallback": true}
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
	})
}
