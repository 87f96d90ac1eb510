// Package reconcile drains the pending queue against the authoritative
// subscription list and resolves the conflicts it raises.
package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

// DefaultTolerance is the relative amount difference still treated as the same price.
var DefaultTolerance = decimal.NewFromFloat(0.10)

// Rule names the duplicate rule that matched.
type Rule string

// Duplicate rules, evaluated in this order against each existing record.
const (
	// RuleHostAmount matches the same host with amounts within tolerance or unknown.
	RuleHostAmount Rule = "host_amount"
	// RuleHostName matches the same host and name regardless of amount.
	RuleHostName Rule = "host_name"
	// RuleNameAmount matches the same name with amounts within tolerance on any host.
	RuleNameAmount Rule = "name_amount"
)

// Match is a possible duplicate found by DuplicateMatcher.
type Match struct {
	Existing model.ExistingSubscription
	Rule     Rule
}

// DuplicateMatcher decides whether a pending subscription is already tracked.
type DuplicateMatcher struct {
	tolerance decimal.Decimal
}

// NewDuplicateMatcher creates a matcher using DefaultTolerance.
func NewDuplicateMatcher() *DuplicateMatcher {
	return &DuplicateMatcher{tolerance: DefaultTolerance}
}

// Classify returns the first existing record that p duplicates.
func (m *DuplicateMatcher) Classify(p model.PendingSubscription, existing []model.ExistingSubscription) (Match, bool) {
	host := common.NormalizeHost(p.WebsiteURL)
	name := normalizeName(p.Name)

	for _, e := range existing {
		sameHost := host != "" && host == common.NormalizeHost(e.WebsiteURL)
		sameName := name != "" && name == normalizeName(e.Name)

		switch {
		case sameHost && (p.Amount.IsZero() || e.Amount.IsZero() || m.withinTolerance(p.Amount, e.Amount)):
			return Match{Existing: e, Rule: RuleHostAmount}, true
		case sameHost && sameName:
			return Match{Existing: e, Rule: RuleHostName}, true
		case sameName && m.withinTolerance(p.Amount, e.Amount):
			return Match{Existing: e, Rule: RuleNameAmount}, true
		}
	}

	return Match{}, false
}

// withinTolerance reports |a-b| <= tolerance * max(|a|,|b|).
func (m *DuplicateMatcher) withinTolerance(a, b decimal.Decimal) bool {
	a, b = a.Abs(), b.Abs()
	larger := decimal.Max(a, b)
	return a.Sub(b).Abs().LessThanOrEqual(larger.Mul(m.tolerance))
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
