package detect

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/subdupes/internal/common"
)

// Rules is the weight and selector table driving the scanner.
// It can be overridden from YAML with LoadRules.
type Rules struct {
	URL             URLRules        `yaml:"url"`
	Extraction      ExtractionRules `yaml:"extraction"`
	Keywords        KeywordRules    `yaml:"keywords"`
	DOM             DOMRules        `yaml:"dom"`
	Price           PriceRules      `yaml:"price"`
	Threshold       int             `yaml:"threshold"`
	PromptThreshold int             `yaml:"prompt_threshold"`
}

// URLRules scores keywords found in the page URL.
type URLRules struct {
	Keywords   []string `yaml:"keywords"`
	PerKeyword int      `yaml:"per_keyword"`
	PathBonus  int      `yaml:"path_bonus"`
	Cap        int      `yaml:"cap"`
}

// KeywordTier is a group of phrases sharing a weight.
type KeywordTier struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
	Weight  int      `yaml:"weight"`
	// WholeWord restricts matches to word boundaries. Used for short contextual
	// words that would otherwise match inside unrelated words.
	WholeWord bool `yaml:"whole_word"`
}

// KeywordRules scores phrases found in visible text.
type KeywordRules struct {
	Tiers []KeywordTier `yaml:"tiers"`
	Cap   int           `yaml:"cap"`
}

// DOMCheck is a boolean presence check over a set of CSS selectors.
type DOMCheck struct {
	Name      string   `yaml:"name"`
	Selectors []string `yaml:"selectors"`
	Weight    int      `yaml:"weight"`
}

// DOMRules scores page structure.
type DOMRules struct {
	Checks []DOMCheck `yaml:"checks"`
	Cap    int        `yaml:"cap"`
}

// PriceStep awards Points once at least MinMatches distinct prices are found.
type PriceStep struct {
	MinMatches int `yaml:"min_matches"`
	Points     int `yaml:"points"`
}

// PriceRules scores the number of distinct prices on the page.
// Steps are evaluated in order and the first satisfied step wins.
type PriceRules struct {
	Steps []PriceStep `yaml:"steps"`
	Cap   int         `yaml:"cap"`
}

// ExtractionRules configures field extraction once a page is accepted.
type ExtractionRules struct {
	PriorityKeywords   []string `yaml:"priority_keywords"`
	PlanSelectors      []string `yaml:"plan_selectors"`
	HighlightSelectors []string `yaml:"highlight_selectors"`
	HighlightLabels    string   `yaml:"highlight_labels"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		Threshold:       40,
		PromptThreshold: 55,
		URL: URLRules{
			Keywords: []string{
				"pricing", "billing", "checkout", "plan", "subscription", "upgrade",
				"payment", "cart", "subscribe", "signup", "premium", "membership",
			},
			PerKeyword: 10,
			PathBonus:  5,
			Cap:        25,
		},
		Keywords: KeywordRules{
			Cap: 30,
			Tiers: []KeywordTier{
				{
					Name:   "intent",
					Weight: 5,
					Phrases: []string{
						"subscribe now", "start free trial", "start your free trial", "auto-renew",
						"automatically renews", "renews automatically", "start subscription",
						"confirm subscription", "complete purchase", "place order", "upgrade now",
						"choose plan", "select plan", "order summary", "payment method",
					},
				},
				{
					Name:   "billing",
					Weight: 4,
					Phrases: []string{
						"billed monthly", "billed annually", "billed yearly", "billed weekly",
						"cancel anytime", "per month", "per year", "per week", "/month",
						"/year", "/week", "recurring", "next billing", "billing cycle",
						"renewal date", "free trial", "total due", "due today",
					},
				},
				{
					// Abbreviations are prefixes of the spelled-out forms above.
					Name:      "billing_short",
					Weight:    4,
					WholeWord: true,
					Phrases:   []string{"/mo", "/yr", "/wk"},
				},
				{
					Name:      "context",
					Weight:    1,
					WholeWord: true,
					Phrases: []string{
						"pricing", "price", "premium", "pro", "plan", "plans", "subscription",
						"subscribe", "monthly", "yearly", "annual", "annually", "billing",
						"billed", "upgrade", "trial", "checkout", "payment", "tier",
					},
				},
			},
		},
		DOM: DOMRules{
			Cap: 25,
			Checks: []DOMCheck{
				{
					Name:   "pricing_container",
					Weight: 10,
					Selectors: []string{
						`[class*="pricing"]`, `[id*="pricing"]`, `[class*="price-card"]`,
						`[class*="plan-card"]`, `[class*="pricing-table"]`, `[class*="plans"]`,
						`[data-testid*="pricing"]`, `table[class*="plan"]`,
					},
				},
				{
					Name:   "billing_toggle",
					Weight: 8,
					Selectors: []string{
						`[class*="billing-toggle"]`, `[class*="billing-switch"]`,
						`[class*="interval-toggle"]`, `[class*="cycle-toggle"]`,
						`input[name*="billing"]`, `input[name*="interval"]`,
						`[data-billing-period]`, `[data-interval]`,
					},
				},
				{
					Name:   "payment_form",
					Weight: 12,
					Selectors: []string{
						`form[action*="checkout"]`, `form[action*="payment"]`,
						`input[autocomplete="cc-number"]`, `input[name*="cardnumber"]`,
						`input[name*="card_number"]`, `iframe[src*="js.stripe.com"]`,
						`iframe[name*="__privateStripeFrame"]`, `[class*="StripeElement"]`,
						`iframe[src*="paypal.com"]`, `iframe[src*="braintree"]`,
						`iframe[src*="paddle.com"]`, `iframe[src*="checkout.com"]`,
						`script[src*="js.stripe.com"]`,
					},
				},
			},
		},
		Price: PriceRules{
			Cap: 20,
			Steps: []PriceStep{
				{MinMatches: 3, Points: 20},
				{MinMatches: 2, Points: 15},
				{MinMatches: 1, Points: 10},
			},
		},
		Extraction: ExtractionRules{
			PriorityKeywords: []string{
				"total", "subtotal", "due", "amount", "pay", "charge", "price", "plan", "bill",
				"/mo", "/yr", "/wk", "per month", "annually", "weekly", "subscription",
			},
			PlanSelectors: []string{
				`[class*="plan-name"]`, `[class*="planName"]`, `[class*="plan-title"]`,
				`[class*="tier-name"]`, `[data-testid*="plan-name"]`, `[data-plan-name]`,
			},
			HighlightSelectors: []string{
				`[class*="selected"]`, `[class*="active"]`, `[class*="highlighted"]`,
				`[class*="popular"]`, `[class*="recommended"]`, `[class*="featured"]`,
			},
			HighlightLabels: `h1, h2, h3, h4, [class*="title"], [class*="name"], strong`,
		},
	}
}

// LoadRules reads a YAML overlay onto the default rule table.
// Sections present in the file replace their default counterparts.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied rules file
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}

	return rules, nil
}

// Validate checks the table for values that would break the score bounds.
func (r Rules) Validate() error {
	if r.URL.Cap+r.Keywords.Cap+r.DOM.Cap+r.Price.Cap > 100 {
		return fmt.Errorf("%w: channel caps exceed 100", common.ErrInvalidConfig)
	}
	if r.Threshold <= 0 || r.Threshold > 100 {
		return fmt.Errorf("%w: threshold %d out of range", common.ErrInvalidConfig, r.Threshold)
	}
	if r.PromptThreshold < r.Threshold {
		return fmt.Errorf("%w: prompt threshold %d below detection threshold %d",
			common.ErrInvalidConfig, r.PromptThreshold, r.Threshold)
	}
	for _, tier := range r.Keywords.Tiers {
		if tier.Weight < 0 {
			return fmt.Errorf("%w: negative weight in tier %q", common.ErrInvalidConfig, tier.Name)
		}
	}
	for _, check := range r.DOM.Checks {
		if check.Weight < 0 {
			return fmt.Errorf("%w: negative weight in check %q", common.ErrInvalidConfig, check.Name)
		}
	}
	return nil
}

// IsInterestingURL reports whether the URL contains any URL keyword.
func (r Rules) IsInterestingURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range r.URL.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsInterestingURL applies the default URL heuristic.
func IsInterestingURL(rawURL string) bool {
	return DefaultRules().IsInterestingURL(rawURL)
}

// SiteOrigin reduces a page URL to scheme://host.
func SiteOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
