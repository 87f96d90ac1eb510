// Package queue holds subscriptions saved locally that still need to be
// created on the backend.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

// PendingQueue is an ordered, id-keyed list stored as a single field.
// Every mutation rewrites the whole list.
type PendingQueue struct {
	store service.Store
	now   func() time.Time
	newID func() string
	mu    sync.Mutex
}

// Option configures a PendingQueue.
type Option func(*PendingQueue)

// WithClock overrides the time source used for SavedAt.
func WithClock(now func() time.Time) Option {
	return func(q *PendingQueue) {
		q.now = now
	}
}

// New creates a queue backed by store.
func New(store service.Store, opts ...Option) *PendingQueue {
	q := &PendingQueue{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// List returns the queued subscriptions in insertion order.
func (q *PendingQueue) List(ctx context.Context) ([]model.PendingSubscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued subscriptions.
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Get returns the queued subscription with id.
func (q *PendingQueue) Get(ctx context.Context, id string) (model.PendingSubscription, bool, error) {
	items, err := q.List(ctx)
	if err != nil {
		return model.PendingSubscription{}, false, err
	}
	item, ok := lo.Find(items, func(p model.PendingSubscription) bool { return p.ID == id })
	return item, ok, nil
}

// Enqueue assigns an id and save time and appends p. Amounts must be positive.
func (q *PendingQueue) Enqueue(ctx context.Context, p model.PendingSubscription) (model.PendingSubscription, error) {
	if !p.Amount.IsPositive() {
		return model.PendingSubscription{}, fmt.Errorf("%w: %s", common.ErrInvalidAmount, p.Amount.String())
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return model.PendingSubscription{}, err
	}

	p.ID = q.newID()
	p.SavedAt = q.now()
	if p.Source == "" {
		p.Source = model.SourceManual
	}

	if err := q.store.Set(ctx, service.FieldPendingSubscriptions, append(items, p)); err != nil {
		return model.PendingSubscription{}, err
	}

	common.LogDebug("Queued pending subscription", common.Fields{"id": p.ID, "name": p.Name})
	return p, nil
}

// Remove deletes the item with id. It reports whether the item was queued.
func (q *PendingQueue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return false, err
	}

	kept := lo.Reject(items, func(p model.PendingSubscription, _ int) bool { return p.ID == id })
	if len(kept) == len(items) {
		return false, nil
	}

	if err := q.store.Set(ctx, service.FieldPendingSubscriptions, kept); err != nil {
		return false, err
	}
	return true, nil
}

// Clear empties the queue.
func (q *PendingQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Set(ctx, service.FieldPendingSubscriptions, []model.PendingSubscription{})
}

func (q *PendingQueue) load(ctx context.Context) ([]model.PendingSubscription, error) {
	var items []model.PendingSubscription
	if _, err := q.store.Get(ctx, service.FieldPendingSubscriptions, &items); err != nil {
		return nil, fmt.Errorf("failed to load pending queue: %w", err)
	}
	if items == nil {
		items = []model.PendingSubscription{}
	}
	return items, nil
}
