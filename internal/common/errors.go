// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Detection errors.
	ErrInvalidPriceFormat = errors.New("invalid price format")
	ErrNoPriceFound       = errors.New("no price found")

	// Backend errors.
	ErrNetworkFailure = errors.New("network failure")
	ErrUnauthorized   = errors.New("unauthorized")

	// Storage errors.
	ErrNotFound      = errors.New("not found")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrDraftExists   = errors.New("a draft is already staged")

	// Page errors.
	ErrUnsupportedPage = errors.New("page is not an http(s) URL")

	// Reconciliation errors.
	ErrInvalidAction  = errors.New("invalid conflict action")
	ErrSyncInProgress = errors.New("sync already in progress")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrNetworkFailure) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
