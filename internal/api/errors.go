package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/copilot-gateway/internal/auth/copilot"
	"github.com/nghyane/copilot-gateway/internal/runtime/executor"
)

// ErrorResponse is the body of every error the gateway returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func newErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: "error"}}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, newErrorResponse(message))
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, newErrorResponse(message))
}

// statusForError maps a failed upstream call to the status and message the
// client sees. Upstream replies keep their status and body.
func statusForError(err error) (int, string) {
	if ue, ok := executor.AsUpstreamError(err); ok {
		if len(ue.Body) > 0 {
			return ue.StatusCode, string(ue.Body)
		}
		return ue.StatusCode, ue.ClientMessage()
	}
	if errors.Is(err, copilot.ErrNotLoggedIn) {
		return http.StatusUnauthorized, "not logged in to GitHub; run the login command first"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}
	return http.StatusInternalServerError, "internal server error"
}

// streamErrorType names the in-band error event type for a status.
func streamErrorType(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusServiceUnavailable, 529:
		return "overloaded_error"
	case http.StatusGatewayTimeout:
		return "timeout_error"
	default:
		return "api_error"
	}
}
