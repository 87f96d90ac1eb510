package background

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/dispatch"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
	"github.com/Veraticus/subdupes/internal/storage"
	"github.com/Veraticus/subdupes/internal/testutil"
)

type fixture struct {
	svc    *Service
	store  *storage.SQLiteStorage
	client *backend.MockClient
	now    time.Time
}

func newFixture(t *testing.T, remote ...model.ExistingSubscription) *fixture {
	t.Helper()
	f := &fixture{
		store:  testutil.SetupTestStore(t),
		client: backend.NewMockClient(),
		now:    time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC),
	}
	f.client.GetSubscriptionsFn = func(context.Context) ([]model.ExistingSubscription, error) {
		return remote, nil
	}
	f.client.GetUserProfileFn = func(context.Context) (model.UserProfile, error) {
		return model.UserProfile{ID: "u1", Email: "me@example.com"}, nil
	}
	f.svc = New(f.store, f.client, Config{
		Now:   func() time.Time { return f.now },
		Retry: service.RetryOptions{MaxAttempts: 1},
	})
	return f
}

func candidate(name, site, amount string) *model.SubscriptionCandidate {
	return &model.SubscriptionCandidate{
		Name:            name,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		BillingCycle:    model.CycleMonthly,
		WebsiteURL:      site,
		ConfidenceScore: 70,
	}
}

func remoteSub(id, name, site, amount string) model.ExistingSubscription {
	return model.ExistingSubscription{
		ID:           id,
		Name:         name,
		WebsiteURL:   site,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		BillingCycle: model.CycleMonthly,
	}
}

func TestService_DetectedStoresDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.svc.Handle(ctx, service.Message{
		Type:      service.MsgSubscriptionDetected,
		Candidate: candidate("Netflix", "https://netflix.com", "15.99"),
	})
	require.True(t, resp.Success, resp.Error)

	var draft model.Draft
	require.True(t, testutil.MustGet(t, f.store, service.FieldDetectedDraft, &draft))
	assert.Equal(t, "Netflix", draft.Name)
	assert.Equal(t, model.SourcePassiveDetection, draft.Source)

	resp = f.svc.Handle(ctx, service.Message{Type: service.MsgDraftConsumed})
	require.True(t, resp.Success)
	assert.False(t, testutil.MustGet(t, f.store, service.FieldDetectedDraft, &draft))
}

func TestService_DetectedWithoutCandidate(t *testing.T) {
	f := newFixture(t)
	resp := f.svc.Handle(context.Background(), service.Message{Type: service.MsgSubscriptionDetected})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestService_SaveAndCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.svc.Handle(ctx, service.Message{
		Type:      service.MsgSaveFromPrompt,
		Candidate: candidate("Hulu", "hulu.com", "7.99"),
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, resp.Count)

	resp = f.svc.Handle(ctx, service.Message{
		Type:   service.MsgSaveFromPrompt,
		Source: model.SourceContextMenu,
		Pending: &model.PendingSubscription{
			Name:   "Notion",
			Amount: decimal.RequireFromString("10"),
		},
	})
	require.True(t, resp.Success, resp.Error)

	resp = f.svc.Handle(ctx, service.Message{Type: service.MsgGetPendingCount})
	require.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)

	items, err := f.svc.Queue().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SourceProactivePrompt, items[0].Source)
	assert.Equal(t, model.SourceContextMenu, items[1].Source)
}

func TestService_SaveRejectsZeroAmount(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Handle(context.Background(), service.Message{
		Type:      service.MsgSaveFromPrompt,
		Candidate: candidate("Free", "free.com", "0"),
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Could not save subscription")
}

func TestService_PromptGating(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Netflix", "www.netflix.com", "15.49"))
	ctx := context.Background()
	_, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	prompt := func(c *model.SubscriptionCandidate) service.Response {
		return f.svc.Handle(ctx, service.Message{Type: service.MsgSubscriptionPromptReady, Candidate: c})
	}

	resp := prompt(candidate("Hulu", "https://hulu.com", "7.99"))
	require.True(t, resp.Success)
	assert.Equal(t, dispatch.ShowPrompt.String(), resp.Notice)

	resp = prompt(candidate("Netflix", "https://netflix.com/signup", "15.99"))
	require.True(t, resp.Success)
	assert.Equal(t, "price_changed", resp.Notice)
	require.NotNil(t, resp.Match)
	assert.Equal(t, "e1", resp.Match.ID)

	resp = prompt(candidate("Netflix", "https://netflix.com/signup", "15.99"))
	assert.Equal(t, dispatch.Suppress.String(), resp.Notice)

	dismiss := f.svc.Handle(ctx, service.Message{Type: service.MsgDismissDomain, URL: "https://www.hulu.com/start"})
	require.True(t, dismiss.Success, dismiss.Error)
	resp = prompt(candidate("Hulu", "https://hulu.com", "7.99"))
	assert.Equal(t, dispatch.Suppress.String(), resp.Notice)
}

func TestService_SyncReconcilesQueue(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Netflix", "https://www.netflix.com", "15.49"))
	ctx := context.Background()

	for _, c := range []*model.SubscriptionCandidate{
		candidate("Netflix", "netflix.com", "15.99"),
		candidate("Hulu", "hulu.com", "7.99"),
	} {
		resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSaveFromPrompt, Candidate: c})
		require.True(t, resp.Success, resp.Error)
	}

	resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSyncPending})
	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, model.SyncSummary{SyncedCount: 1, Conflicts: 1}, *resp.Summary)
	assert.Equal(t, 1, f.client.CreateCount())

	var profile model.UserProfile
	require.True(t, testutil.MustGet(t, f.store, service.FieldUserProfile, &profile))
	assert.Equal(t, "me@example.com", profile.Email)

	conflicts, err := f.svc.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Netflix", conflicts[0].Pending.Name)
}

func TestService_SyncSkipsReconcileWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetSubscriptionsFn = func(context.Context) ([]model.ExistingSubscription, error) {
		return nil, common.ErrUnauthorized
	}

	resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSaveFromPrompt, Candidate: candidate("Hulu", "hulu.com", "7.99")})
	require.True(t, resp.Success)

	_, err := f.svc.Sync(ctx)
	require.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Zero(t, f.client.CreateCount())

	// The fire-and-forget variant swallows the failure.
	resp = f.svc.Handle(ctx, service.Message{Type: service.MsgSyncNow})
	assert.True(t, resp.Success)

	n, err := f.svc.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_SyncWithEmptyQueueOnlyRefreshes(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Netflix", "netflix.com", "15.49"))

	summary, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SyncSummary{}, summary)
	assert.Equal(t, 1, f.client.GetSubscriptionsCalls)
	assert.Equal(t, 1, f.client.GetUserProfileCalls)

	subs, err := f.svc.Cache().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestService_ResolveConflict(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Netflix", "netflix.com", "15.49"))
	ctx := context.Background()

	resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSaveFromPrompt, Candidate: candidate("Netflix", "netflix.com", "15.99")})
	require.True(t, resp.Success)
	_, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	conflicts, err := f.svc.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	pending := conflicts[0].Pending

	// An invalid action leaves the conflict open.
	resp = f.svc.Handle(ctx, service.Message{Type: service.MsgResolveConflict, Pending: &pending, Action: "bogus"})
	assert.False(t, resp.Success)
	conflicts, err = f.svc.Conflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	resp = f.svc.Handle(ctx, service.Message{Type: service.MsgResolveConflict, Pending: &pending, Action: model.ActionKeepBoth})
	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.Resolution)
	require.NotNil(t, resp.Resolution.Created)
	assert.Equal(t, 1, f.client.CreateCount())

	conflicts, err = f.svc.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = f.svc.ResolveConflict(ctx, pending.ID, model.ActionKeepExisting)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_ResolveFailureKeepsConflict(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Netflix", "netflix.com", "15.49"))
	ctx := context.Background()

	resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSaveFromPrompt, Candidate: candidate("Netflix", "netflix.com", "15.99")})
	require.True(t, resp.Success)
	_, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	conflicts, err := f.svc.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	f.client.CreateSubscriptionFn = func(context.Context, backend.CreateRequest) (model.ExistingSubscription, error) {
		return model.ExistingSubscription{}, common.ErrNetworkFailure
	}
	_, err = f.svc.ResolveConflict(ctx, conflicts[0].Pending.ID, model.ActionKeepBoth)
	require.ErrorIs(t, err, common.ErrNetworkFailure)

	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)

	conflicts, err = f.svc.Conflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestService_Discard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Queue().Enqueue(ctx, model.PendingSubscription{Name: "X", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	require.NoError(t, f.svc.Discard(ctx, saved.ID))
	assert.ErrorIs(t, f.svc.Discard(ctx, saved.ID), common.ErrNotFound)
}

func TestService_CheckVisit(t *testing.T) {
	f := newFixture(t, remoteSub("e1", "Figma", "figma.com/pricing", "12"))
	ctx := context.Background()
	_, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	tests := []struct {
		url   string
		match bool
	}{
		{"https://www.figma.com/files", true},
		{"https://app.figma.com", true},
		{"https://notfigma.com", false},
		{"http://localhost:3000/figma.com", false},
		{"http://192.168.1.10/", false},
		{"chrome://settings", false},
		{"figma.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			resp := f.svc.Handle(ctx, service.Message{Type: service.MsgURLVisited, URL: tt.url})
			require.True(t, resp.Success, resp.Error)
			assert.Equal(t, tt.match, resp.Match != nil)
		})
	}

	visits, err := f.svc.LastVisited(ctx)
	require.NoError(t, err)
	assert.True(t, f.now.Equal(visits["e1"]))
}

func TestService_UnknownAndScannerMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.svc.Handle(ctx, service.Message{Type: "NOPE"}).Success)
	assert.False(t, f.svc.Handle(ctx, service.Message{Type: service.MsgScanPage}).Success)
}

func TestService_DispatcherIntegration(t *testing.T) {
	f := newFixture(t)
	d := dispatch.New(f.svc)

	err := d.Dispatch(context.Background(), detect.Result{
		Detected:  true,
		Prompt:    true,
		Candidate: *candidate("Netflix", "https://netflix.com", "15.99"),
	})
	require.NoError(t, err)

	var draft model.Draft
	require.True(t, testutil.MustGet(t, f.store, service.FieldDetectedDraft, &draft))
	assert.Equal(t, "Netflix", draft.Name)
}

func TestService_SaveSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.SaveSelection(ctx, "https://www.spotify.com/premium", "Spotify Premium - Plans | Spotify", "  Individual $11.99/month ", false)
	require.NoError(t, err)
	assert.Equal(t, "Spotify Premium", draft.Name)
	assert.Equal(t, "Individual $11.99/month", draft.Notes)
	assert.Equal(t, "https://www.spotify.com/premium", draft.WebsiteURL)
	assert.Equal(t, model.SourceContextMenu, draft.Source)

	var stored model.Draft
	found, err := f.store.Get(ctx, service.FieldDetectedDraft, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, draft.Name, stored.Name)
	assert.Equal(t, draft.Notes, stored.Notes)
	assert.Equal(t, model.SourceContextMenu, stored.Source)
}

func TestService_SaveSelectionRejectsNonWebPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, pageURL := range []string{"chrome://extensions", "file:///tmp/page.html", "about:blank", ""} {
		_, err := f.svc.SaveSelection(ctx, pageURL, "Extensions", "text", true)
		require.ErrorIs(t, err, common.ErrUnsupportedPage, pageURL)

		var userErr *common.UserError
		assert.ErrorAs(t, err, &userErr)
	}

	exists, err := f.svc.HasDraft(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_SaveSelectionKeepsExistingDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.svc.Handle(ctx, service.Message{Type: service.MsgSubscriptionDetected, Candidate: candidate("Hulu", "hulu.com", "7.99")})
	require.True(t, resp.Success, resp.Error)

	_, err := f.svc.SaveSelection(ctx, "https://www.notion.so", "Notion", "Plus plan", false)
	require.ErrorIs(t, err, common.ErrDraftExists)

	var stored model.Draft
	_, err = f.store.Get(ctx, service.FieldDetectedDraft, &stored)
	require.NoError(t, err)
	assert.Equal(t, "Hulu", stored.Name)

	_, err = f.svc.SaveSelection(ctx, "https://www.notion.so", "Notion", "Plus plan", true)
	require.NoError(t, err)
	_, err = f.store.Get(ctx, service.FieldDetectedDraft, &stored)
	require.NoError(t, err)
	assert.Equal(t, "Notion", stored.Name)
	assert.Equal(t, model.SourceContextMenu, stored.Source)
}
