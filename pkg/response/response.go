package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope every endpoint returns
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorData `json:"error,omitempty"`
	Meta    any        `json:"meta,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Fail builds an error envelope for AbortWithStatusJSON
func Fail(code, message string) Response {
	return Response{Success: false, Error: &ErrorData{Code: code, Message: message}}
}

// FailWithRedirect is an error envelope that tells the client which route to
// navigate to next, usually the auth page
func FailWithRedirect(code, message, redirect string) Response {
	body := Fail(code, message)
	body.Meta = gin.H{"redirect": redirect}
	return body
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// SuccessWithMeta adds a meta block, used for counts and cache info
func SuccessWithMeta(c *gin.Context, data, meta any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func Error(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message, Details: details},
	})
}

// InternalError hides the cause from the browser. requestID lets support
// find the logged error.
func InternalError(c *gin.Context, requestID string) {
	details := ""
	if requestID != "" {
		details = "request " + requestID
	}
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong. Please try again.", details)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message, "")
}
