package model

import (
	"fmt"
	"time"
)

// ConflictAction is the user's decision for a sync conflict.
type ConflictAction string

// Conflict resolution actions.
const (
	ActionKeepExisting ConflictAction = "keep_existing"
	ActionKeepBoth     ConflictAction = "keep_both"
	ActionMerge        ConflictAction = "merge"
)

// ParseConflictAction validates a user supplied action.
func ParseConflictAction(s string) (ConflictAction, error) {
	switch a := ConflictAction(s); a {
	case ActionKeepExisting, ActionKeepBoth, ActionMerge:
		return a, nil
	default:
		return "", fmt.Errorf("unknown conflict action %q", s)
	}
}

// Conflict pairs a pending subscription with the authoritative record it may duplicate.
type Conflict struct {
	DetectedAt     time.Time            `json:"detectedAt"`
	ResolvedAction *ConflictAction      `json:"resolvedAction"`
	Pending        PendingSubscription  `json:"pending"`
	Existing       ExistingSubscription `json:"existing"`
}

// IsOpen reports whether the conflict still awaits a decision.
func (c Conflict) IsOpen() bool {
	return c.ResolvedAction == nil
}

// Resolution is the outcome of applying a ConflictAction.
type Resolution struct {
	// Created is set when the pending side was created remotely.
	Created *ExistingSubscription `json:"created,omitempty"`
	// Draft is set when a merged draft was staged for review.
	Draft  *Draft         `json:"draft,omitempty"`
	Action ConflictAction `json:"action"`
}

// SyncSummary reports one reconciliation pass.
type SyncSummary struct {
	SyncedCount int `json:"syncedCount"`
	Conflicts   int `json:"conflicts"`
	Failed      int `json:"failed"`
}
