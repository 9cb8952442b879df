package response

import (
	"time"

	"chatcore/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func SendAPIResponse(c *gin.Context, code int, success bool, message string, data any) {
	resp := APIResponse{
		Success:   success,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}

	c.JSON(code, resp)
}

// SendError maps an application error to its HTTP status. Internal errors are
// attached to the gin context so the access log can report the cause.
func SendError(c *gin.Context, err error) {
	code := apperrors.HTTPStatus(err)
	if code >= 500 {
		_ = c.Error(err)
	}
	SendAPIResponse(c, code, false, apperrors.Message(err), nil)
}
