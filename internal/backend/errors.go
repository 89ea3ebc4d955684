package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RequestError describes a non-success response from the backend.
type RequestError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: backend returned %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Operation, e.StatusCode, body)
}

// Permanent reports whether retrying the request could ever succeed.
// Client errors are permanent except request timeout and rate limiting,
// which the backend may resolve on its own.
func (e *RequestError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsPermanent reports whether err is a backend rejection that retries
// cannot fix. Transport failures and 5xx responses are transient.
func IsPermanent(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.Permanent()
}
