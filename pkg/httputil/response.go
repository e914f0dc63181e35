package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jwalitptl/pos-sync/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// RespondWithError sends an error response. Internal detail never leaves the server.
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	reason := errors.ReasonInternal
	message := "Internal server error"

	if appErr, ok := errors.As(err); ok {
		statusCode = appErr.HTTPStatus()
		reason = appErr.Reason
		if statusCode < http.StatusInternalServerError || appErr.Code == errors.ErrConfiguration {
			message = appErr.Message
		}
	}

	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error: &Error{
			Code:    reason,
			Message: message,
		},
	})
}

// RespondWithStatus aborts with an error body for statuses that carry no AppError.
func RespondWithStatus(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    reason,
			Message: message,
		},
	})
}
