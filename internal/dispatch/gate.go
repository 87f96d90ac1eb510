package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

// DefaultCooldown is the minimum spacing of "already tracked" notices per site.
const DefaultCooldown = 24 * time.Hour

// Decision is what the receiving side should do with a prompt.
type Decision int

// Prompt decisions.
const (
	// ShowPrompt offers to save the candidate.
	ShowPrompt Decision = iota
	// Suppress drops the prompt silently.
	Suppress
	// AlreadyTracked tells the user the site is already in their list.
	AlreadyTracked
)

func (d Decision) String() string {
	switch d {
	case ShowPrompt:
		return "show_prompt"
	case AlreadyTracked:
		return "already_tracked"
	default:
		return "suppress"
	}
}

// Verdict is the outcome of evaluating a prompt.
type Verdict struct {
	// Existing is the tracked subscription when Decision is AlreadyTracked.
	Existing *model.ExistingSubscription
	Reason   string
	Decision Decision
	// PriceChanged is set when the tracked amount differs from the candidate.
	PriceChanged bool
}

// Tracker finds an already tracked subscription for a site.
type Tracker interface {
	FindBySite(ctx context.Context, siteURL string) (model.ExistingSubscription, bool, error)
}

// PromptGate decides whether a proactive prompt is shown.
type PromptGate struct {
	store    service.Store
	tracker  Tracker
	now      func() time.Time
	cooldown time.Duration
	mu       sync.Mutex
}

// NewPromptGate creates a gate. A zero cooldown uses DefaultCooldown.
func NewPromptGate(store service.Store, tracker Tracker, cooldown time.Duration, now func() time.Time) *PromptGate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &PromptGate{
		store:    store,
		tracker:  tracker,
		cooldown: cooldown,
		now:      now,
	}
}

// Evaluate applies the dismissed-domain list, the tracked-site check and the
// per-site notice cooldown to a candidate.
func (g *PromptGate) Evaluate(ctx context.Context, c model.SubscriptionCandidate) (Verdict, error) {
	host := common.NormalizeHost(c.WebsiteURL)
	if host == "" {
		return Verdict{Decision: Suppress, Reason: "no site"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dismissed, err := g.dismissed(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if slices.Contains(dismissed, host) {
		return Verdict{Decision: Suppress, Reason: "domain dismissed"}, nil
	}

	existing, tracked, err := g.tracker.FindBySite(ctx, c.WebsiteURL)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to look up tracked site: %w", err)
	}
	if !tracked {
		return Verdict{Decision: ShowPrompt}, nil
	}

	cooldowns := map[string]time.Time{}
	if _, err := g.store.Get(ctx, service.FieldNotificationCooldowns, &cooldowns); err != nil {
		return Verdict{}, fmt.Errorf("failed to load notice cooldowns: %w", err)
	}

	now := g.now()
	if last, ok := cooldowns[host]; ok && now.Sub(last) < g.cooldown {
		return Verdict{Decision: Suppress, Reason: "notice cooldown"}, nil
	}

	cooldowns[host] = now
	if err := g.store.Set(ctx, service.FieldNotificationCooldowns, cooldowns); err != nil {
		return Verdict{}, err
	}

	return Verdict{
		Decision:     AlreadyTracked,
		Existing:     &existing,
		PriceChanged: !existing.Amount.IsZero() && !existing.Amount.Equal(c.Amount),
	}, nil
}

// Dismiss stops prompts for the domain of rawURL.
func (g *PromptGate) Dismiss(ctx context.Context, rawURL string) error {
	host := common.NormalizeHost(rawURL)
	if host == "" {
		return fmt.Errorf("no domain in %q", rawURL)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dismissed, err := g.dismissed(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(dismissed, host) {
		return nil
	}
	return g.store.Set(ctx, service.FieldDismissedDomains, append(dismissed, host))
}

// Dismissed returns the dismissed domains.
func (g *PromptGate) Dismissed(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dismissed(ctx)
}

func (g *PromptGate) dismissed(ctx context.Context) ([]string, error) {
	var domains []string
	if _, err := g.store.Get(ctx, service.FieldDismissedDomains, &domains); err != nil {
		return nil, fmt.Errorf("failed to load dismissed domains: %w", err)
	}
	for i, d := range domains {
		domains[i] = common.NormalizeHost(d)
	}
	return domains, nil
}
