package telegram

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a non-2xx or ok=false Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	// Seconds the platform asked us to wait; only set on 429 responses.
	RetryAfterSecs int
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("telegram %s: http %d", e.Method, e.StatusCode)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfter reports the platform-requested delay, making 429 responses a
// distinguished retryable kind for the call wrapper.
func (e *APIError) RetryAfter() time.Duration {
	if e.StatusCode != 429 {
		return 0
	}
	if e.RetryAfterSecs <= 0 {
		return time.Second
	}
	return time.Duration(e.RetryAfterSecs) * time.Second
}

// IsRateLimited reports whether err is a Telegram 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
