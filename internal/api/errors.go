package api

import (
	"errors"
	"fmt"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrSessionEnded wraps every refresh failure that cleared the stored
	// credentials.
	ErrSessionEnded = errors.New("session ended")
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 401 || statusErr.StatusCode == 403
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == 401 || apiErr.Status == 403 || apiErr.Code == CodeSessionExpired
	}
	return false
}
