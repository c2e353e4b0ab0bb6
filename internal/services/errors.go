// Package services defines the business logic for conversations and
// messages. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/driftline/livechat-backend/internal/ratelimit"
)

var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current visitor. The two cases
	// are deliberately indistinguishable so that a guessed id leaks nothing.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationClosed is returned when a mutation is attempted against
	// a closed conversation.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrEmptyBody is returned when a message body is empty after trimming.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrBodyTooLong is returned when a message body exceeds the configured
	// rune limit after normalization.
	ErrBodyTooLong = errors.New("message body too long")
)

// RateLimitedError is returned when a fixed-window limit rejects an
// operation. It carries the limiter result so handlers can surface the reset
// time to the client.
type RateLimitedError struct {
	Result ratelimit.Result
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Result.ResetTime.UTC().Format("15:04:05"))
}

// IsRateLimited unwraps err into a RateLimitedError if it is one.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
