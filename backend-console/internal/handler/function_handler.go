package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/functions"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
)

const maxFunctionPayload = 64 << 10

const functionFailedMessage = "Something went wrong. Please try again."

// FunctionInvoker runs named backend functions
type FunctionInvoker interface {
	Invoke(ctx context.Context, name string, call *functions.Call) (any, error)
}

// FunctionHandler exposes backend functions over HTTP
type FunctionHandler struct {
	functions FunctionInvoker
}

// NewFunctionHandler creates a new FunctionHandler
func NewFunctionHandler(fns FunctionInvoker) *FunctionHandler {
	return &FunctionHandler{functions: fns}
}

// Invoke runs a function with the request body as payload
// POST /api/v1/functions/:name
func (h *FunctionHandler) Invoke(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFunctionPayload+1))
	if err != nil || len(body) > maxFunctionPayload {
		c.JSON(http.StatusBadRequest, dto.FunctionResponse{Error: "request body too large or unreadable"})
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		c.JSON(http.StatusBadRequest, dto.FunctionResponse{Error: "request body must be JSON"})
		return
	}

	result, err := h.functions.Invoke(c.Request.Context(), c.Param("name"), &functions.Call{
		UserID:  middleware.UserID(c),
		Email:   middleware.Email(c),
		Payload: body,
	})
	if err != nil {
		status, _ := errorCode(err)
		if status == http.StatusInternalServerError {
			// gateway and SQL errors stay in the log
			logger.Get().ErrorContext(c.Request.Context(), "function failed",
				zap.String("function", c.Param("name")),
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			c.JSON(status, dto.FunctionResponse{Error: functionFailedMessage})
			return
		}
		c.JSON(status, dto.FunctionResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FunctionResponse{Success: true, Result: result})
}
