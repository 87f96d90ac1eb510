// Package background is the long-lived context that owns storage, sync and
// conflict resolution. Scanners and UIs talk to it through service.Message.
package background

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/dispatch"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/queue"
	"github.com/Veraticus/subdupes/internal/reconcile"
	"github.com/Veraticus/subdupes/internal/service"
)

// DefaultRefreshTimeout bounds one refresh of the authoritative list.
const DefaultRefreshTimeout = 10 * time.Second

// Config tunes a Service.
type Config struct {
	Now            func() time.Time
	Progress       reconcile.ProgressFunc
	LockFile       string
	Retry          service.RetryOptions
	RefreshTimeout time.Duration
	PromptCooldown time.Duration
}

// Service handles messages for the background context.
type Service struct {
	store      service.Store
	client     backend.Client
	queue      *queue.PendingQueue
	cache      *reconcile.SubscriptionCache
	conflicts  *reconcile.ConflictList
	reconciler *reconcile.Reconciler
	resolver   *reconcile.Resolver
	gate       *dispatch.PromptGate
	now        func() time.Time
	retry      service.RetryOptions
	timeout    time.Duration
}

var _ service.Handler = (*Service)(nil)

// New wires a Service over store and client.
func New(store service.Store, client backend.Client, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	q := queue.New(store, queue.WithClock(cfg.Now))
	cache := reconcile.NewSubscriptionCache(store)
	reconciler := reconcile.NewReconciler(store, q, cache, client,
		reconcile.WithClock(cfg.Now),
		reconcile.WithLockFile(cfg.LockFile),
		reconcile.WithProgress(cfg.Progress),
	)

	return &Service{
		store:      store,
		client:     client,
		queue:      q,
		cache:      cache,
		conflicts:  reconciler.Conflicts(),
		reconciler: reconciler,
		resolver:   reconcile.NewResolver(store, client, cache, cfg.Now),
		gate:       dispatch.NewPromptGate(store, cache, cfg.PromptCooldown, cfg.Now),
		now:        cfg.Now,
		retry:      cfg.Retry,
		timeout:    cfg.RefreshTimeout,
	}
}

// Queue returns the pending queue.
func (s *Service) Queue() *queue.PendingQueue {
	return s.queue
}

// Cache returns the authoritative subscription cache.
func (s *Service) Cache() *reconcile.SubscriptionCache {
	return s.cache
}

// Handle routes msg to the matching operation.
func (s *Service) Handle(ctx context.Context, msg service.Message) service.Response {
	switch msg.Type {
	case service.MsgSubscriptionDetected:
		return s.handleDetected(ctx, msg)
	case service.MsgSubscriptionPromptReady:
		return s.handlePrompt(ctx, msg)
	case service.MsgSaveFromPrompt:
		return s.handleSave(ctx, msg)
	case service.MsgDismissDomain:
		return s.handleDismiss(ctx, msg)
	case service.MsgSyncPending:
		summary, err := s.Sync(ctx)
		if err != nil {
			return service.Fail(err)
		}
		return service.Response{Success: true, Summary: &summary}
	case service.MsgSyncNow:
		if _, err := s.Sync(ctx); err != nil {
			common.LogWarn(err, "Background sync failed", nil)
		}
		return service.Response{Success: true}
	case service.MsgResolveConflict:
		return s.handleResolve(ctx, msg)
	case service.MsgGetPendingCount:
		n, err := s.queue.Len(ctx)
		if err != nil {
			return service.Fail(err)
		}
		return service.Response{Success: true, Count: n}
	case service.MsgDraftConsumed:
		if err := s.store.Remove(ctx, service.FieldDetectedDraft); err != nil {
			return service.Fail(err)
		}
		return service.Response{Success: true}
	case service.MsgURLVisited:
		match, ok, err := s.CheckVisit(ctx, msg.URL)
		if err != nil {
			return service.Fail(err)
		}
		resp := service.Response{Success: true}
		if ok {
			resp.Match = &match
		}
		return resp
	case service.MsgScanPage:
		return service.Fail(fmt.Errorf("%s is handled by the page scheduler", msg.Type))
	default:
		return service.Fail(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *Service) handleDetected(ctx context.Context, msg service.Message) service.Response {
	if msg.Candidate == nil {
		return service.Fail(errors.New("detection without candidate"))
	}

	draft := model.DraftFromCandidate(*msg.Candidate)
	if err := s.store.Set(ctx, service.FieldDetectedDraft, draft); err != nil {
		common.LogError(err, "Failed to save detected draft", common.Fields{"name": draft.Name})
		return service.Fail(err)
	}

	common.LogInfo("Detected subscription", common.Fields{
		"name":       draft.Name,
		"amount":     draft.Amount.String(),
		"currency":   draft.Currency,
		"confidence": msg.Candidate.ConfidenceScore,
	})
	return service.Response{Success: true}
}

func (s *Service) handlePrompt(ctx context.Context, msg service.Message) service.Response {
	if msg.Candidate == nil {
		return service.Fail(errors.New("prompt without candidate"))
	}

	verdict, err := s.gate.Evaluate(ctx, *msg.Candidate)
	if err != nil {
		return service.Fail(err)
	}

	common.LogDebug("Prompt evaluated", common.Fields{
		"site":     msg.Candidate.WebsiteURL,
		"decision": verdict.Decision.String(),
		"reason":   verdict.Reason,
	})

	resp := service.Response{Success: true, Notice: verdict.Decision.String()}
	if verdict.Decision == dispatch.AlreadyTracked {
		resp.Match = verdict.Existing
		if verdict.PriceChanged {
			resp.Notice = "price_changed"
		}
	}
	return resp
}

func (s *Service) handleSave(ctx context.Context, msg service.Message) service.Response {
	var p model.PendingSubscription
	switch {
	case msg.Pending != nil:
		p = *msg.Pending
	case msg.Candidate != nil:
		p = model.PendingFromCandidate(*msg.Candidate, model.SourceProactivePrompt)
	default:
		return service.Fail(errors.New("save without subscription"))
	}
	if msg.Source != "" {
		p.Source = msg.Source
	}

	saved, err := s.queue.Enqueue(ctx, p)
	if err != nil {
		return service.Fail(common.NewUserError("Could not save subscription", err))
	}

	n, err := s.queue.Len(ctx)
	if err != nil {
		return service.Fail(err)
	}

	common.LogInfo("Saved subscription for sync", common.Fields{"id": saved.ID, "name": saved.Name})
	return service.Response{Success: true, Count: n}
}

func (s *Service) handleDismiss(ctx context.Context, msg service.Message) service.Response {
	target := msg.Domain
	if target == "" {
		target = msg.URL
	}
	if err := s.gate.Dismiss(ctx, target); err != nil {
		return service.Fail(err)
	}
	return service.Response{Success: true}
}

func (s *Service) handleResolve(ctx context.Context, msg service.Message) service.Response {
	if msg.Pending == nil {
		return service.Fail(errors.New("resolve without pending subscription"))
	}

	res, err := s.ResolveConflict(ctx, msg.Pending.ID, msg.Action)
	if err != nil {
		return service.Fail(err)
	}
	return service.Response{Success: true, Resolution: &res}
}

// Sync refreshes the authoritative list and profile, then reconciles the
// pending queue when it is non-empty. Reconciliation only runs after a
// successful refresh.
func (s *Service) Sync(ctx context.Context) (model.SyncSummary, error) {
	if err := s.refresh(ctx); err != nil {
		return model.SyncSummary{}, err
	}

	n, err := s.queue.Len(ctx)
	if err != nil {
		return model.SyncSummary{}, err
	}
	if n == 0 {
		return model.SyncSummary{}, nil
	}

	return s.reconciler.Reconcile(ctx)
}

func (s *Service) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		subs    []model.ExistingSubscription
		profile model.UserProfile
	)

	err := common.WithRetry(ctx, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			subs, err = s.client.GetSubscriptions(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			profile, err = s.client.GetUserProfile(gctx)
			return err
		})
		return g.Wait()
	}, s.retry)
	if err != nil {
		return fmt.Errorf("failed to refresh subscriptions: %w", err)
	}

	if err := s.cache.Replace(ctx, subs); err != nil {
		return err
	}
	if err := s.store.Set(ctx, service.FieldUserProfile, profile); err != nil {
		return err
	}

	common.LogInfo("Refreshed subscriptions", common.Fields{"count": len(subs), "user": profile.Email})
	return nil
}

// RunPeriodicSync syncs immediately and then every interval until ctx ends.
// Failures are logged and never returned.
func (s *Service) RunPeriodicSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			common.LogWarn(err, "Periodic sync failed", nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Conflicts returns the open conflicts.
func (s *Service) Conflicts(ctx context.Context) ([]model.Conflict, error) {
	return s.conflicts.List(ctx)
}

// ResolveConflict applies action to the open conflict raised for pendingID and
// removes it only when the action succeeded.
func (s *Service) ResolveConflict(ctx context.Context, pendingID string, action model.ConflictAction) (model.Resolution, error) {
	conflict, ok, err := s.conflicts.Find(ctx, pendingID)
	if err != nil {
		return model.Resolution{}, err
	}
	if !ok {
		return model.Resolution{}, fmt.Errorf("%w: conflict for %s", common.ErrNotFound, pendingID)
	}

	res, err := s.resolver.Resolve(ctx, conflict, action)
	if err != nil {
		return model.Resolution{}, common.NewUserError("Could not resolve conflict", err)
	}

	if _, err := s.conflicts.Remove(ctx, pendingID); err != nil {
		return res, common.NewUserError("Conflict resolved but could not be cleared", err)
	}
	return res, nil
}

// Discard removes a pending subscription without creating it.
func (s *Service) Discard(ctx context.Context, id string) error {
	removed, err := s.queue.Remove(ctx, id)
	if err != nil {
		return common.NewUserError("Could not discard subscription", err)
	}
	if !removed {
		return fmt.Errorf("%w: pending subscription %s", common.ErrNotFound, id)
	}
	return nil
}

// CheckVisit reports whether rawURL belongs to a tracked subscription and, if
// so, records the visit time for that subscription.
func (s *Service) CheckVisit(ctx context.Context, rawURL string) (model.ExistingSubscription, bool, error) {
	if !isWebURL(rawURL) {
		return model.ExistingSubscription{}, false, nil
	}

	host := common.NormalizeHost(rawURL)
	if host == "" || common.IsLocalHost(host) {
		return model.ExistingSubscription{}, false, nil
	}

	match, ok, err := s.cache.FindBySite(ctx, rawURL)
	if err != nil || !ok {
		return model.ExistingSubscription{}, false, err
	}

	visits := map[string]time.Time{}
	if _, err := s.store.Get(ctx, service.FieldLastVisited, &visits); err != nil {
		return match, true, fmt.Errorf("failed to load visit times: %w", err)
	}
	visits[match.ID] = s.now()
	if err := s.store.Set(ctx, service.FieldLastVisited, visits); err != nil {
		return match, true, err
	}

	common.LogDebug("Visited tracked subscription", common.Fields{"id": match.ID, "host": host})
	return match, true, nil
}

// LastVisited returns when each subscription's site was last visited.
func (s *Service) LastVisited(ctx context.Context) (map[string]time.Time, error) {
	visits := map[string]time.Time{}
	if _, err := s.store.Get(ctx, service.FieldLastVisited, &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

// Draft returns the staged draft, if any.
func (s *Service) Draft(ctx context.Context) (model.Draft, bool, error) {
	var draft model.Draft
	found, err := s.store.Get(ctx, service.FieldDetectedDraft, &draft)
	return draft, found, err
}

// HasDraft reports whether a draft is staged.
func (s *Service) HasDraft(ctx context.Context) (bool, error) {
	_, found, err := s.Draft(ctx)
	return found, err
}

// SaveSelection stages a text selection from a web page as a draft named
// after the page title. A staged draft is replaced only when overwrite is set.
func (s *Service) SaveSelection(ctx context.Context, pageURL, title, selection string, overwrite bool) (model.Draft, error) {
	if !isWebURL(pageURL) {
		return model.Draft{}, common.NewUserError("Cannot save from this page. Use a regular web page.",
			fmt.Errorf("%w: %q", common.ErrUnsupportedPage, pageURL))
	}

	if !overwrite {
		exists, err := s.HasDraft(ctx)
		if err != nil {
			return model.Draft{}, err
		}
		if exists {
			return model.Draft{}, common.ErrDraftExists
		}
	}

	draft := model.Draft{
		Name:       detect.TitleName(title),
		Notes:      strings.TrimSpace(selection),
		WebsiteURL: strings.TrimSpace(pageURL),
		Source:     model.SourceContextMenu,
	}
	if err := s.store.Set(ctx, service.FieldDetectedDraft, draft); err != nil {
		return model.Draft{}, common.NewUserError("Failed to save draft. Please try again.", err)
	}

	common.LogInfo("Saved selection as draft", common.Fields{"name": draft.Name, "site": draft.WebsiteURL})
	return draft, nil
}

func isWebURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
