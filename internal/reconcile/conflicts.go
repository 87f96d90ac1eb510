package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

// ConflictList is the persisted list of open conflicts, keyed by pending id.
type ConflictList struct {
	store service.Store
	mu    sync.Mutex
}

// NewConflictList creates a conflict list backed by store.
func NewConflictList(store service.Store) *ConflictList {
	return &ConflictList{store: store}
}

// List returns the open conflicts in the order they were raised.
func (l *ConflictList) List(ctx context.Context) ([]model.Conflict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Find returns the conflict raised for the pending item with id.
func (l *ConflictList) Find(ctx context.Context, pendingID string) (model.Conflict, bool, error) {
	conflicts, err := l.List(ctx)
	if err != nil {
		return model.Conflict{}, false, err
	}
	c, ok := lo.Find(conflicts, func(c model.Conflict) bool { return c.Pending.ID == pendingID })
	return c, ok, nil
}

// Add appends c, replacing any conflict already raised for the same pending item.
func (l *ConflictList) Add(ctx context.Context, c model.Conflict) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	conflicts, err := l.load(ctx)
	if err != nil {
		return err
	}
	conflicts = lo.Reject(conflicts, func(existing model.Conflict, _ int) bool {
		return existing.Pending.ID == c.Pending.ID
	})
	return l.store.Set(ctx, service.FieldSyncConflicts, append(conflicts, c))
}

// Remove deletes the conflict for pendingID and reports whether it was open.
func (l *ConflictList) Remove(ctx context.Context, pendingID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conflicts, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	kept := lo.Reject(conflicts, func(c model.Conflict, _ int) bool { return c.Pending.ID == pendingID })
	if len(kept) == len(conflicts) {
		return false, nil
	}
	return true, l.store.Set(ctx, service.FieldSyncConflicts, kept)
}

func (l *ConflictList) load(ctx context.Context) ([]model.Conflict, error) {
	var conflicts []model.Conflict
	if _, err := l.store.Get(ctx, service.FieldSyncConflicts, &conflicts); err != nil {
		return nil, fmt.Errorf("failed to load conflicts: %w", err)
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	return conflicts, nil
}
