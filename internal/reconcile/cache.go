package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

// SubscriptionCache is the process-wide copy of the authoritative list.
// It is hydrated lazily from the store after a restart and replaced
// wholesale after every successful refresh.
type SubscriptionCache struct {
	store    service.Store
	subs     []model.ExistingSubscription
	mu       sync.RWMutex
	hydrated bool
}

// NewSubscriptionCache creates an empty, unhydrated cache.
func NewSubscriptionCache(store service.Store) *SubscriptionCache {
	return &SubscriptionCache{store: store}
}

// Hydrate loads the persisted list on first use. Later calls are no-ops.
func (c *SubscriptionCache) Hydrate(ctx context.Context) error {
	c.mu.RLock()
	done := c.hydrated
	c.mu.RUnlock()
	if done {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hydrated {
		return nil
	}

	var subs []model.ExistingSubscription
	if _, err := c.store.Get(ctx, service.FieldSubscriptions, &subs); err != nil {
		return fmt.Errorf("failed to hydrate subscription cache: %w", err)
	}
	c.subs = subs
	c.hydrated = true

	common.LogDebug("Hydrated subscription cache", common.Fields{"count": len(subs)})
	return nil
}

// Replace persists subs and makes them the cached list.
func (c *SubscriptionCache) Replace(ctx context.Context, subs []model.ExistingSubscription) error {
	if subs == nil {
		subs = []model.ExistingSubscription{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, service.FieldSubscriptions, subs); err != nil {
		return err
	}
	c.subs = slices.Clone(subs)
	c.hydrated = true
	return nil
}

// Append adds a freshly created record to the cached and persisted list.
func (c *SubscriptionCache) Append(ctx context.Context, sub model.ExistingSubscription) error {
	if err := c.Hydrate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := append(slices.Clone(c.subs), sub)
	if err := c.store.Set(ctx, service.FieldSubscriptions, next); err != nil {
		return err
	}
	c.subs = next
	return nil
}

// Snapshot returns a copy of the cached list, hydrating it if needed.
func (c *SubscriptionCache) Snapshot(ctx context.Context) ([]model.ExistingSubscription, error) {
	if err := c.Hydrate(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.subs), nil
}

// FindBySite returns the first cached subscription whose website is the same
// site as siteURL, allowing subdomains in either direction.
func (c *SubscriptionCache) FindBySite(ctx context.Context, siteURL string) (model.ExistingSubscription, bool, error) {
	host := common.NormalizeHost(siteURL)
	if host == "" {
		return model.ExistingSubscription{}, false, nil
	}

	subs, err := c.Snapshot(ctx)
	if err != nil {
		return model.ExistingSubscription{}, false, err
	}

	sub, ok := lo.Find(subs, func(s model.ExistingSubscription) bool {
		return common.HostMatches(host, common.NormalizeHost(s.WebsiteURL))
	})
	return sub, ok, nil
}
