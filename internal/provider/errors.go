package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstream marks a failure reported by an upstream provider, as
	// opposed to a transport failure.
	ErrUpstream = errors.New("upstream provider error")
	// ErrUnauthorized is returned when the provider rejects the API key.
	ErrUnauthorized = errors.New("provider rejected credentials")
	// ErrRateLimited is returned when the provider quota is exhausted.
	ErrRateLimited = errors.New("provider rate limit exceeded")
)

// CheckStatus maps a non-200 response to an error wrapping one of the
// sentinels above. Returns nil for 200.
func CheckStatus(name, path string, status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s %s returned %d: %w", name, path, status, ErrUnauthorized)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s returned %d: %w", name, path, status, ErrRateLimited)
	default:
		return fmt.Errorf("%s %s returned %d: %s: %w", name, path, status, Truncate(body, 200), ErrUpstream)
	}
}

// Truncate returns a truncated string representation for error messages.
func Truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
