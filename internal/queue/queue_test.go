package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
	"github.com/Veraticus/subdupes/internal/testutil"
)

func newTestQueue(t *testing.T) (*PendingQueue, time.Time) {
	t.Helper()
	store := testutil.SetupTestStore(t)
	fixed := time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)
	q := New(store, WithClock(func() time.Time { return fixed }))
	seq := 0
	q.newID = func() string {
		seq++
		return fmt.Sprintf("pending-%d", seq)
	}
	return q, fixed
}

func pending(name, amount string) model.PendingSubscription {
	return model.PendingSubscription{
		Name:         name,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		BillingCycle: model.CycleMonthly,
		WebsiteURL:   "https://" + name + ".com",
		Source:       model.SourcePassiveDetection,
	}
}

func TestPendingQueue_EnqueueAssignsIDAndTime(t *testing.T) {
	q, fixed := newTestQueue(t)
	ctx := context.Background()

	saved, err := q.Enqueue(ctx, pending("netflix", "15.99"))
	require.NoError(t, err)
	assert.Equal(t, "pending-1", saved.ID)
	assert.True(t, fixed.Equal(saved.SavedAt))

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "netflix", items[0].Name)
	assert.True(t, items[0].Amount.Equal(decimal.RequireFromString("15.99")))
}

func TestPendingQueue_PreservesOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, pending(name, "1"))
		require.NoError(t, err)
	}

	items, err := q.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPendingQueue_RejectsNonPositiveAmounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5"} {
		_, err := q.Enqueue(ctx, pending("bad", amount))
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPendingQueue_Remove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, pending("a", "1"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, pending("b", "2"))
	require.NoError(t, err)

	removed, err := q.Remove(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	item, ok, err := q.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", item.Name)

	_, ok, err = q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingQueue_WholeFieldWrites(t *testing.T) {
	store := testutil.SetupTestStore(t)
	q := New(store)
	ctx := context.Background()

	var writes int
	cancel := store.Subscribe(func(c service.FieldChange) {
		if c.Field == service.FieldPendingSubscriptions {
			writes++
		}
	})
	defer cancel()

	saved, err := q.Enqueue(ctx, pending("a", "3"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, pending("b", "4"))
	require.NoError(t, err)
	_, err = q.Remove(ctx, saved.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, writes)

	var stored []model.PendingSubscription
	require.True(t, testutil.MustGet(t, store, service.FieldPendingSubscriptions, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "b", stored[0].Name)
	assert.NotEmpty(t, stored[0].ID)
}

func TestPendingQueue_DefaultsSource(t *testing.T) {
	q, _ := newTestQueue(t)
	p := pending("a", "1")
	p.Source = ""

	saved, err := q.Enqueue(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, saved.Source)
}

func TestPendingQueue_Clear(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, pending("a", "1"))
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
