// Package storage persists the application's state as whole-field JSON values in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/subdupes/internal/service"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrUnknownField = errors.New("unknown store field")
)

var knownFields = map[string]bool{
	service.FieldDetectedDraft:         true,
	service.FieldSubscriptions:         true,
	service.FieldUserProfile:           true,
	service.FieldPendingSubscriptions:  true,
	service.FieldSyncConflicts:         true,
	service.FieldDismissedDomains:      true,
	service.FieldNotificationCooldowns: true,
	service.FieldLastVisited:           true,
}

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateField ensures the field is one of the known store fields.
func validateField(field string) error {
	if err := validateString(field, "field"); err != nil {
		return err
	}
	if !knownFields[field] {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}
