package musicapi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the service answered but the entity does not exist.
	ErrNotFound = errors.New("musicapi: not found")
	// ErrAuthRequired means the call needs an authenticated session and the
	// current one is anonymous.
	ErrAuthRequired = errors.New("musicapi: authentication required")
)

// APIError is a non-2xx response from the metadata service.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("musicapi %s: http %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("musicapi %s: http %d", e.Endpoint, e.StatusCode)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// IsAuthLost reports whether err looks like an expired or revoked session.
func IsAuthLost(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
}
