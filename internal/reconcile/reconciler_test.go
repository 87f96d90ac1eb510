package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/queue"
	"github.com/Veraticus/subdupes/internal/service"
	"github.com/Veraticus/subdupes/internal/storage"
	"github.com/Veraticus/subdupes/internal/testutil"
)

var fixedNow = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

type harness struct {
	store  *storage.SQLiteStorage
	queue  *queue.PendingQueue
	cache  *SubscriptionCache
	client *backend.MockClient
}

func newHarness(t *testing.T, existing ...model.ExistingSubscription) *harness {
	t.Helper()
	store := testutil.SetupTestStore(t)
	if existing == nil {
		existing = []model.ExistingSubscription{}
	}
	testutil.MustSet(t, store, service.FieldSubscriptions, existing)
	return &harness{
		store:  store,
		queue:  queue.New(store),
		cache:  NewSubscriptionCache(store),
		client: backend.NewMockClient(),
	}
}

func (h *harness) reconciler(opts ...Option) *Reconciler {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewReconciler(h.store, h.queue, h.cache, h.client, opts...)
}

func (h *harness) enqueue(t *testing.T, p model.PendingSubscription) model.PendingSubscription {
	t.Helper()
	saved, err := h.queue.Enqueue(context.Background(), p)
	require.NoError(t, err)
	return saved
}

func TestReconciler_CreatesNonDuplicatesAndRaisesConflicts(t *testing.T) {
	h := newHarness(t, existingSub("e1", "Netflix", "https://www.netflix.com", "15.49"))
	ctx := context.Background()

	dup := h.enqueue(t, pendingSub("Netflix", "netflix.com", "15.99"))
	h.enqueue(t, pendingSub("Hulu", "hulu.com", "7.99"))

	summary, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.SyncSummary{SyncedCount: 1, Conflicts: 1}, summary)
	require.Equal(t, 1, h.client.CreateCount())
	assert.Equal(t, "Hulu", h.client.CreateCalls[0].Name)
	assert.True(t, time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC).Equal(h.client.CreateCalls[0].NextBillingDate))

	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	conflicts, err := NewConflictList(h.store).List(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, dup.ID, conflicts[0].Pending.ID)
	assert.Equal(t, "e1", conflicts[0].Existing.ID)
	assert.True(t, conflicts[0].IsOpen())
	assert.True(t, fixedNow.Equal(conflicts[0].DetectedAt))

	subs, err := h.cache.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "Hulu", subs[1].Name)

	var persisted []model.ExistingSubscription
	require.True(t, testutil.MustGet(t, h.store, service.FieldSubscriptions, &persisted))
	assert.Len(t, persisted, 2)
}

func TestReconciler_DuplicateWithinSameRun(t *testing.T) {
	h := newHarness(t)

	h.enqueue(t, pendingSub("Hulu", "hulu.com", "7.99"))
	h.enqueue(t, pendingSub("Hulu", "hulu.com", "7.99"))

	summary, err := h.reconciler().Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SyncedCount)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 1, h.client.CreateCount())
}

func TestReconciler_FailedCreateStaysQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.client.CreateSubscriptionFn = func(_ context.Context, req backend.CreateRequest) (model.ExistingSubscription, error) {
		if req.Name == "Flaky" {
			return model.ExistingSubscription{}, common.ErrNetworkFailure
		}
		return model.ExistingSubscription{ID: "ok", Name: req.Name, WebsiteURL: req.WebsiteURL, Amount: req.Amount}, nil
	}

	flaky := h.enqueue(t, pendingSub("Flaky", "flaky.io", "3"))
	h.enqueue(t, pendingSub("Fine", "fine.io", "4"))

	summary, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSummary{SyncedCount: 1, Failed: 1}, summary)

	items, err := h.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, flaky.ID, items[0].ID)
}

func TestReconciler_UnauthorizedStopsRun(t *testing.T) {
	h := newHarness(t)
	h.client.CreateSubscriptionFn = func(context.Context, backend.CreateRequest) (model.ExistingSubscription, error) {
		return model.ExistingSubscription{}, common.ErrUnauthorized
	}

	for _, name := range []string{"a", "b", "c"} {
		h.enqueue(t, pendingSub(name, name+".com", "1"))
	}

	var progress [][2]int
	summary, err := h.reconciler(WithProgress(func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})).Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, h.client.CreateCount())
	assert.Equal(t, [][2]int{{3, 3}}, progress)
}

func TestReconciler_EmptyQueueMakesNoCalls(t *testing.T) {
	h := newHarness(t)

	summary, err := h.reconciler().Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SyncSummary{}, summary)
	assert.Zero(t, h.client.CreateCount())
}

func TestReconciler_CreateIsNotCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var createCtxErr error
	h.client.CreateSubscriptionFn = func(createCtx context.Context, req backend.CreateRequest) (model.ExistingSubscription, error) {
		cancel()
		createCtxErr = createCtx.Err()
		return model.ExistingSubscription{ID: "x", Name: req.Name}, nil
	}

	h.enqueue(t, pendingSub("First", "first.com", "1"))
	h.enqueue(t, pendingSub("Second", "second.com", "2"))

	summary, err := h.reconciler().Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, createCtxErr)

	// The in-flight create was applied; the next item was never started.
	assert.Equal(t, 1, summary.SyncedCount)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, h.client.CreateCount())

	items, err := h.queue.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Second", items[0].Name)
}

func TestReconciler_DiscardedDuringCreateIsNotApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.enqueue(t, pendingSub("Gone", "gone.com", "5"))

	h.client.CreateSubscriptionFn = func(_ context.Context, req backend.CreateRequest) (model.ExistingSubscription, error) {
		_, err := h.queue.Remove(ctx, item.ID)
		return model.ExistingSubscription{ID: "remote", Name: req.Name}, err
	}

	summary, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.SyncedCount)

	subs, err := h.cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestReconciler_SequentialRunsDoNotDoubleCreate(t *testing.T) {
	h := newHarness(t)
	r := h.reconciler()
	h.enqueue(t, pendingSub("Once", "once.com", "1"))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.client.CreateCount())
}

func TestReconciler_LockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, pendingSub("Locked", "locked.com", "1"))
	lockPath := filepath.Join(t.TempDir(), "sync.lock")

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = h.reconciler(WithLockFile(lockPath)).Reconcile(context.Background())
	assert.ErrorIs(t, err, common.ErrSyncInProgress)
	assert.Zero(t, h.client.CreateCount())

	require.NoError(t, other.Unlock())
	summary, err := h.reconciler(WithLockFile(lockPath)).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SyncedCount)
}

func TestSubscriptionCache_HydratesLazily(t *testing.T) {
	store := testutil.SetupTestStore(t)
	ctx := context.Background()
	testutil.MustSet(t, store, service.FieldSubscriptions, []model.ExistingSubscription{
		existingSub("e1", "Figma", "figma.com", "12"),
	})

	cache := NewSubscriptionCache(store)
	sub, ok, err := cache.FindBySite(ctx, "https://app.figma.com/files")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e1", sub.ID)

	// Later writes to the field are not picked up until Replace.
	testutil.MustSet(t, store, service.FieldSubscriptions, []model.ExistingSubscription{})
	subs, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, cache.Replace(ctx, nil))
	_, ok, err = cache.FindBySite(ctx, "figma.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriptionCache_SnapshotIsACopy(t *testing.T) {
	store := testutil.SetupTestStore(t)
	ctx := context.Background()
	cache := NewSubscriptionCache(store)
	require.NoError(t, cache.Replace(ctx, []model.ExistingSubscription{existingSub("e1", "A", "a.com", "1")}))

	subs, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	subs[0].Name = "mutated"

	again, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Name)
}

func TestResolver_Actions(t *testing.T) {
	conflict := model.Conflict{
		Pending:  pendingSub("Netflix", "netflix.com", "22.99"),
		Existing: existingSub("e1", "Netflix", "netflix.com", "15.49"),
	}

	t.Run("keep_existing makes no remote call", func(t *testing.T) {
		h := newHarness(t)
		r := NewResolver(h.store, h.client, h.cache, nil)

		res, err := r.Resolve(context.Background(), conflict, model.ActionKeepExisting)
		require.NoError(t, err)
		assert.Equal(t, model.ActionKeepExisting, res.Action)
		assert.Nil(t, res.Created)
		assert.Nil(t, res.Draft)
		assert.Zero(t, h.client.CreateCount())
	})

	t.Run("keep_both creates exactly once", func(t *testing.T) {
		h := newHarness(t)
		r := NewResolver(h.store, h.client, h.cache, func() time.Time { return fixedNow })

		res, err := r.Resolve(context.Background(), conflict, model.ActionKeepBoth)
		require.NoError(t, err)
		require.NotNil(t, res.Created)
		assert.Equal(t, 1, h.client.CreateCount())
		assert.Equal(t, "Netflix", h.client.CreateCalls[0].Name)

		subs, err := h.cache.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})

	t.Run("merge stages a draft without remote calls", func(t *testing.T) {
		h := newHarness(t)
		r := NewResolver(h.store, h.client, h.cache, nil)

		res, err := r.Resolve(context.Background(), conflict, model.ActionMerge)
		require.NoError(t, err)
		require.NotNil(t, res.Draft)
		assert.Zero(t, h.client.CreateCount())

		var draft model.Draft
		require.True(t, testutil.MustGet(t, h.store, service.FieldDetectedDraft, &draft))
		assert.Equal(t, "Netflix", draft.Name)
		assert.True(t, draft.Amount.Equal(decimal.RequireFromString("22.99")))
	})

	t.Run("unknown action", func(t *testing.T) {
		h := newHarness(t)
		r := NewResolver(h.store, h.client, h.cache, nil)

		_, err := r.Resolve(context.Background(), conflict, "delete_everything")
		assert.ErrorIs(t, err, common.ErrInvalidAction)
		assert.Zero(t, h.client.CreateCount())
	})

	t.Run("keep_both failure is returned", func(t *testing.T) {
		h := newHarness(t)
		h.client.CreateSubscriptionFn = func(context.Context, backend.CreateRequest) (model.ExistingSubscription, error) {
			return model.ExistingSubscription{}, errors.New("backend down")
		}
		r := NewResolver(h.store, h.client, h.cache, nil)

		_, err := r.Resolve(context.Background(), conflict, model.ActionKeepBoth)
		assert.Error(t, err)
	})
}

func TestConflictList_AddFindRemove(t *testing.T) {
	store := testutil.SetupTestStore(t)
	ctx := context.Background()
	list := NewConflictList(store)

	c := model.Conflict{Pending: pendingSub("A", "a.com", "1"), Existing: existingSub("e", "A", "a.com", "1")}
	require.NoError(t, list.Add(ctx, c))
	require.NoError(t, list.Add(ctx, c))

	all, err := list.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	found, ok, err := list.Find(ctx, c.Pending.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e", found.Existing.ID)

	removed, err := list.Remove(ctx, c.Pending.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = list.Remove(ctx, c.Pending.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

// joined reports how many callers are attached to the current run.
func joined(r *Reconciler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flight == nil {
		return 0
	}
	r.flight.mu.Lock()
	defer r.flight.mu.Unlock()
	return len(r.flight.callers)
}

func TestReconciler_ConcurrentRunsShareOneCreate(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, pendingSub("Shared", "shared.com", "9.99"))

	started := make(chan struct{})
	release := make(chan struct{})
	h.client.CreateSubscriptionFn = func(_ context.Context, req backend.CreateRequest) (model.ExistingSubscription, error) {
		close(started)
		<-release
		return model.ExistingSubscription{ID: "remote-1", Name: req.Name, Amount: req.Amount}, nil
	}

	r := h.reconciler()
	const callers = 5
	summaries := make([]model.SyncSummary, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = r.Reconcile(context.Background())
		}(i)
	}

	<-started
	require.Eventually(t, func() bool { return joined(r) == callers }, time.Second, 5*time.Millisecond)
	// Let the joined callers reach the shared call before it completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.client.CreateCount())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, model.SyncSummary{SyncedCount: 1}, summaries[i])
	}
}

func TestReconciler_JoinedCallerSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, pendingSub("First", "first.com", "1"))
	h.enqueue(t, pendingSub("Second", "second.com", "2"))

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	h.client.CreateSubscriptionFn = func(_ context.Context, req backend.CreateRequest) (model.ExistingSubscription, error) {
		started <- struct{}{}
		<-release
		return model.ExistingSubscription{ID: "remote-" + req.Name, Name: req.Name}, nil
	}

	r := h.reconciler()
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	type outcome struct {
		summary model.SyncSummary
		err     error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)
	go func() {
		s, err := r.Reconcile(firstCtx)
		first <- outcome{s, err}
	}()
	<-started
	go func() {
		s, err := r.Reconcile(context.Background())
		second <- outcome{s, err}
	}()
	require.Eventually(t, func() bool { return joined(r) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	close(release)

	for _, ch := range []chan outcome{first, second} {
		got := <-ch
		require.NoError(t, got.err)
		assert.Equal(t, 2, got.summary.SyncedCount)
		assert.Zero(t, got.summary.Failed)
	}
	assert.Equal(t, 2, h.client.CreateCount())

	items, err := h.queue.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}
