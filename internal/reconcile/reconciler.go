package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/queue"
	"github.com/Veraticus/subdupes/internal/service"
)

// ProgressFunc is called after each pending item is processed.
type ProgressFunc func(done, total int)

// Reconciler creates clear non-duplicates remotely and raises conflicts for
// possible duplicates. At most one run is in flight per process; a lock file
// extends that to other processes sharing the same database.
type Reconciler struct {
	queue     *queue.PendingQueue
	cache     *SubscriptionCache
	conflicts *ConflictList
	client    backend.Client
	matcher   *DuplicateMatcher
	lock      *flock.Flock
	now       func() time.Time
	progress  ProgressFunc
	group     singleflight.Group

	mu     sync.Mutex
	flight *flight
}

// flight is the shared context of one run. It ends only when every caller
// waiting on the run has had its own context cancelled.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	callers map[int]context.Context
	next    int
}

func (f *flight) add(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.callers[id] = ctx
	return id
}

func (f *flight) remove(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callers, id)
	return len(f.callers)
}

// check cancels the run once no caller is still interested in it.
func (f *flight) check() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.callers) == 0 {
		return
	}
	for _, ctx := range f.callers {
		if ctx.Err() == nil {
			return
		}
	}
	f.cancel()
}

// flightContext re-checks the callers on Err, so abandonment is seen at the
// next item boundary without waiting on the AfterFunc goroutine.
type flightContext struct {
	context.Context
	f *flight
}

func (c flightContext) Err() error {
	c.f.check()
	return c.Context.Err()
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLockFile serializes runs across processes with an advisory file lock.
func WithLockFile(path string) Option {
	return func(r *Reconciler) {
		if path != "" {
			r.lock = flock.New(path)
		}
	}
}

// WithClock overrides the time source for conflict timestamps and billing dates.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithProgress registers a per-item progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Reconciler) {
		r.progress = fn
	}
}

// NewReconciler wires a reconciler.
func NewReconciler(store service.Store, q *queue.PendingQueue, cache *SubscriptionCache, client backend.Client, opts ...Option) *Reconciler {
	r := &Reconciler{
		queue:     q,
		cache:     cache,
		conflicts: NewConflictList(store),
		client:    client,
		matcher:   NewDuplicateMatcher(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Conflicts returns the list conflicts are written to.
func (r *Reconciler) Conflicts() *ConflictList {
	return r.conflicts
}

// Reconcile drains the pending queue. Concurrent callers share the result of
// the run already in flight. The run is cancelled only once every caller's
// context is done, so a joined caller never inherits another's cancellation.
func (r *Reconciler) Reconcile(ctx context.Context) (model.SyncSummary, error) {
	f, id := r.join(ctx)
	stop := context.AfterFunc(ctx, f.check)
	defer func() {
		stop()
		r.leave(f, id)
	}()

	v, err, shared := r.group.Do("reconcile", func() (any, error) {
		return r.run(flightContext{Context: f.ctx, f: f})
	})
	if shared {
		common.LogDebug("Joined in-flight reconciliation", nil)
	}
	summary, _ := v.(model.SyncSummary)
	return summary, err
}

func (r *Reconciler) join(ctx context.Context) (*flight, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flight == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.flight = &flight{ctx: fctx, cancel: cancel, callers: make(map[int]context.Context)}
	}
	return r.flight, r.flight.add(ctx)
}

func (r *Reconciler) leave(f *flight, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.remove(id) > 0 {
		return
	}
	f.cancel()
	if r.flight == f {
		r.flight = nil
	}
}

func (r *Reconciler) run(ctx context.Context) (model.SyncSummary, error) {
	var summary model.SyncSummary

	if r.lock != nil {
		locked, err := r.lock.TryLock()
		if err != nil {
			return summary, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !locked {
			return summary, common.ErrSyncInProgress
		}
		defer func() {
			if err := r.lock.Unlock(); err != nil {
				common.LogError(err, "Failed to release sync lock", nil)
			}
		}()
	}

	items, err := r.queue.List(ctx)
	if err != nil {
		return summary, err
	}
	if len(items) == 0 {
		return summary, nil
	}

	existing, err := r.cache.Snapshot(ctx)
	if err != nil {
		return summary, err
	}

	common.LogInfo("Reconciling pending subscriptions", common.Fields{
		"pending":  len(items),
		"existing": len(existing),
	})

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(items) - i
			return summary, err
		}

		if match, dup := r.matcher.Classify(item, existing); dup {
			if err := r.raiseConflict(ctx, item, match); err != nil {
				return summary, err
			}
			summary.Conflicts++
			r.report(i+1, len(items))
			continue
		}

		created, err := r.create(ctx, item)
		if err != nil {
			summary.Failed++
			common.LogInfo("Pending subscription left queued", common.Fields{
				"id":    item.ID,
				"name":  item.Name,
				"error": err.Error(),
			})
			if errors.Is(err, common.ErrUnauthorized) {
				// Every remaining create would fail the same way.
				summary.Failed += len(items) - i - 1
				r.report(len(items), len(items))
				return summary, nil
			}
			r.report(i+1, len(items))
			continue
		}

		applied, err := r.apply(ctx, item, created)
		if err != nil {
			return summary, err
		}
		if applied {
			summary.SyncedCount++
			existing = append(existing, created)
		}
		r.report(i+1, len(items))
	}

	common.LogInfo("Reconciliation finished", common.Fields{
		"synced":    summary.SyncedCount,
		"conflicts": summary.Conflicts,
		"failed":    summary.Failed,
	})
	return summary, nil
}

func (r *Reconciler) raiseConflict(ctx context.Context, item model.PendingSubscription, match Match) error {
	conflict := model.Conflict{
		DetectedAt: r.now(),
		Pending:    item,
		Existing:   match.Existing,
	}
	if err := r.conflicts.Add(ctx, conflict); err != nil {
		return err
	}
	if _, err := r.queue.Remove(ctx, item.ID); err != nil {
		return err
	}

	common.LogInfo("Possible duplicate moved to conflicts", common.Fields{
		"pending":  item.Name,
		"existing": match.Existing.ID,
		"rule":     string(match.Rule),
	})
	return nil
}

// create calls the backend on a context that cannot be cancelled, so a create
// that reached the server is never abandoned half way.
func (r *Reconciler) create(ctx context.Context, item model.PendingSubscription) (model.ExistingSubscription, error) {
	req := backend.NewCreateRequest(item, NextBillingDate(item.BillingCycle, r.now()))
	return r.client.CreateSubscription(context.WithoutCancel(ctx), req)
}

// apply records a successful create if the item is still queued.
func (r *Reconciler) apply(ctx context.Context, item model.PendingSubscription, created model.ExistingSubscription) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	removed, err := r.queue.Remove(ctx, item.ID)
	if err != nil {
		return false, err
	}
	if !removed {
		common.LogInfo("Created subscription no longer queued, skipping", common.Fields{"id": item.ID})
		return false, nil
	}

	if err := r.cache.Append(ctx, created); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) report(done, total int) {
	if r.progress != nil {
		r.progress(done, total)
	}
}
