// Package detect scores web page snapshots for subscription and checkout
// signals and extracts a subscription candidate from pages that pass.
package detect

import (
	"fmt"
	"time"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

// Result is the outcome of scanning one snapshot.
type Result struct {
	Candidate model.SubscriptionCandidate
	Breakdown Breakdown
	// Detected is true when the total met the detection threshold and a price was extracted.
	Detected bool
	// Prompt is true when the total also met the prompt threshold.
	Prompt bool
}

// Scanner is a pure function of a Snapshot and a rule table.
type Scanner struct {
	now   func() time.Time
	tiers []compiledTier
	rules Rules
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithNow overrides the clock used to stamp candidates.
func WithNow(now func() time.Time) Option {
	return func(s *Scanner) {
		s.now = now
	}
}

// NewScanner creates a scanner for the given rules.
func NewScanner(rules Rules, opts ...Option) *Scanner {
	s := &Scanner{
		rules: rules,
		tiers: compileTiers(rules.Keywords.Tiers),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the rule table the scanner was built with.
func (s *Scanner) Rules() Rules {
	return s.rules
}

// Score computes the channel breakdown for a snapshot.
func (s *Scanner) Score(snap Snapshot) Breakdown {
	return Breakdown{
		URL:      scoreURL(s.rules.URL, snap.URL),
		Keywords: scoreKeywords(s.tiers, s.rules.Keywords.Cap, snap.VisibleText),
		DOM:      scoreDOM(s.rules.DOM, snap.DOM),
		Price:    scorePrices(s.rules.Price, len(FindPrices(snap.VisibleText))),
	}
}

// Scan scores a snapshot and, at or above the detection threshold, extracts a
// candidate. A page that scores high enough but has no usable price returns
// ErrNoPriceFound alongside the breakdown.
func (s *Scanner) Scan(snap Snapshot) (Result, error) {
	breakdown := s.Score(snap)
	total := breakdown.Total()
	result := Result{Breakdown: breakdown}

	common.LogDebug("scored page", common.Fields{
		"url":       snap.URL,
		"breakdown": breakdown.String(),
		"threshold": s.rules.Threshold,
	})

	if total < s.rules.Threshold {
		return result, nil
	}

	match, cycle, err := extractPrice(s.rules.Extraction, snap)
	if err != nil {
		return result, fmt.Errorf("page scored %d: %w", total, err)
	}

	result.Candidate = model.SubscriptionCandidate{
		Name:            resolveName(snap),
		PlanName:        resolvePlanName(s.rules.Extraction, snap.DOM),
		Amount:          match.Price.Amount,
		Currency:        match.Price.Currency,
		BillingCycle:    cycle,
		WebsiteURL:      SiteOrigin(snap.URL),
		ConfidenceScore: total,
		DetectedAt:      s.now(),
	}
	result.Detected = true
	result.Prompt = total >= s.rules.PromptThreshold

	return result, nil
}
