package api

import (
	"errors"
	"fmt"
)

// Errors returned by Client. Callers classify failures with errors.Is.
var (
	ErrRequestFailed       = errors.New("tracemoe: request failed")
	ErrJSONFailed          = errors.New("tracemoe: invalid response body")
	ErrResponseEmpty       = errors.New("tracemoe: empty response body")
	ErrImageEmpty          = errors.New("tracemoe: image is empty")
	ErrInvalidToken        = errors.New("tracemoe: invalid token")
	ErrImageTooLarge       = errors.New("tracemoe: image too large")
	ErrRateLimit           = errors.New("tracemoe: rate limit or quota reached")
	ErrInternalServerError = errors.New("tracemoe: server error")
)

// RateLimitError is returned on HTTP 429 and carries the server's message.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: %s", ErrRateLimit, e.Message)
}

// Is reports ErrRateLimit as a match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimit
}
