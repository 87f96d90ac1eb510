// Package service defines the interfaces shared between application services.
package service

import (
	"context"
	"time"
)

// Field names of the persistent key-value store. Each field is replaced
// wholesale on write.
const (
	FieldDetectedDraft         = "detectedDraft"
	FieldSubscriptions         = "subscriptions"
	FieldUserProfile           = "userProfile"
	FieldPendingSubscriptions  = "pendingSubscriptions"
	FieldSyncConflicts         = "syncConflicts"
	FieldDismissedDomains      = "dismissedDomains"
	FieldNotificationCooldowns = "notificationCooldowns"
	FieldLastVisited           = "lastVisited"
)

// FieldChange describes a write to a store field.
type FieldChange struct {
	ChangedAt time.Time
	Field     string
	Removed   bool
}

// Store is the persistent key-value store shared by scanners, the reconciler and any UI.
type Store interface {
	// Get decodes the field into dst. It reports false when the field is unset.
	Get(ctx context.Context, field string, dst any) (bool, error)
	// Set replaces the whole field with v.
	Set(ctx context.Context, field string, v any) error
	// Remove deletes the field.
	Remove(ctx context.Context, field string) error
	// Subscribe registers fn for change notifications and returns a cancel func.
	Subscribe(fn func(FieldChange)) func()
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
