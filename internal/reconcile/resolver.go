package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

// Resolver applies a user decision to a single conflict. It never removes the
// conflict itself; the caller does that once Resolve succeeds.
type Resolver struct {
	store  service.Store
	client backend.Client
	cache  *SubscriptionCache
	now    func() time.Time
}

// NewResolver creates a resolver. A nil now uses time.Now.
func NewResolver(store service.Store, client backend.Client, cache *SubscriptionCache, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, client: client, cache: cache, now: now}
}

// Resolve applies action to c.
//
//   - keep_existing discards the pending side without a remote call.
//   - keep_both creates the pending side remotely, accepting the duplicate.
//   - merge stages a combined draft for review and never writes remotely.
func (r *Resolver) Resolve(ctx context.Context, c model.Conflict, action model.ConflictAction) (model.Resolution, error) {
	action, err := model.ParseConflictAction(string(action))
	if err != nil {
		return model.Resolution{}, fmt.Errorf("%w: %w", common.ErrInvalidAction, err)
	}

	res := model.Resolution{Action: action}

	switch action {
	case model.ActionKeepExisting:
		common.LogInfo("Conflict resolved, keeping existing", common.Fields{"existing": c.Existing.ID})

	case model.ActionKeepBoth:
		req := backend.NewCreateRequest(c.Pending, NextBillingDate(c.Pending.BillingCycle, r.now()))
		created, err := r.client.CreateSubscription(context.WithoutCancel(ctx), req)
		if err != nil {
			return model.Resolution{}, err
		}
		if r.cache != nil {
			if err := r.cache.Append(ctx, created); err != nil {
				common.LogError(err, "Failed to cache created subscription", common.Fields{"id": created.ID})
			}
		}
		res.Created = &created

	case model.ActionMerge:
		draft := MergeDraft(c.Pending, c.Existing)
		if err := r.store.Set(ctx, service.FieldDetectedDraft, draft); err != nil {
			return model.Resolution{}, err
		}
		res.Draft = &draft
	}

	return res, nil
}

// MergeDraft combines both sides, preferring each non-empty pending value.
func MergeDraft(p model.PendingSubscription, e model.ExistingSubscription) model.Draft {
	d := model.Draft{
		Name:         prefer(p.Name, e.Name),
		PlanName:     prefer(p.PlanName, e.PlanName),
		Currency:     prefer(p.Currency, e.Currency),
		BillingCycle: prefer(p.BillingCycle, e.BillingCycle),
		WebsiteURL:   prefer(p.WebsiteURL, e.WebsiteURL),
		Source:       p.Source,
		Notes:        p.Notes,
		Amount:       p.Amount,
	}
	if d.Amount.IsZero() {
		d.Amount = e.Amount
	}
	return d
}

func prefer[T ~string](pending, existing T) T {
	if pending != "" {
		return pending
	}
	return existing
}
