package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go-auth-service/internal/model"
)

const defaultRequestTimeout = 15 * time.Second

// Timeout bounds each request. Store calls see the deadline through the
// request context.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    "REQUEST_TIMEOUT",
			Message: "request timed out",
		},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
