package detect

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

const (
	unknownServiceName = "Unknown Service"
	maxPlanNameLength  = 60
)

// extractPrice picks the price that most likely represents the amount charged.
// A line that carries both a billing keyword and a price wins over the first
// price anywhere on the page.
func extractPrice(rules ExtractionRules, snap Snapshot) (PriceMatch, model.BillingCycle, error) {
	for _, line := range snap.Lines() {
		lower := strings.ToLower(line)
		hasKeyword := lo.ContainsBy(rules.PriorityKeywords, func(kw string) bool {
			return strings.Contains(lower, kw)
		})
		if !hasKeyword {
			continue
		}
		if m, ok := firstNonZero(FindPrices(line)); ok {
			return m, resolveCycle(m, line), nil
		}
	}

	if m, ok := firstNonZero(FindPrices(snap.VisibleText)); ok {
		return m, resolveCycle(m, lineContaining(snap, m.Raw)), nil
	}

	return PriceMatch{}, "", common.ErrNoPriceFound
}

func resolveCycle(m PriceMatch, line string) model.BillingCycle {
	if m.Cycle != "" {
		return m.Cycle
	}
	if c := cycleFromText(line); c != "" {
		return c
	}
	return model.CycleMonthly
}

func lineContaining(snap Snapshot, raw string) string {
	line, _ := lo.Find(snap.Lines(), func(l string) bool {
		return strings.Contains(l, raw)
	})
	return line
}

// resolveName returns the service name: og:site_name, then the main hostname
// label, then the title text before the first "-" or "|".
func resolveName(snap Snapshot) string {
	if snap.DOM != nil {
		if content, ok := snap.DOM.Find(`meta[property="og:site_name"]`).First().Attr("content"); ok {
			if name := collapseSpace(content); name != "" {
				return name
			}
		}
	}

	if name := hostnameLabel(snap.URL); name != "" {
		return cases.Title(language.Und).String(name)
	}

	if name := TitleName(snap.Title); name != "" {
		return name
	}

	return unknownServiceName
}

// TitleName returns the page title up to its first "-" or "|", the part
// that usually names the site.
func TitleName(title string) string {
	title = strings.TrimSpace(title)
	if idx := strings.IndexAny(title, "-|"); idx > 0 {
		title = strings.TrimSpace(title[:idx])
	}
	return title
}

func hostnameLabel(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	parts := strings.Split(u.Hostname(), ".")
	switch {
	case len(parts) > 2:
		return parts[len(parts)-2]
	case len(parts) == 2:
		return parts[0]
	default:
		return ""
	}
}

// resolvePlanName looks for an explicit plan label, then for the title of a
// highlighted pricing card.
func resolvePlanName(rules ExtractionRules, doc *goquery.Document) string {
	if doc == nil {
		return ""
	}

	for _, sel := range rules.PlanSelectors {
		if text := collapseSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}

	for _, sel := range rules.HighlightSelectors {
		var plan string
		doc.Find(sel).EachWithBreak(func(_ int, card *goquery.Selection) bool {
			label := collapseSpace(card.Find(rules.HighlightLabels).First().Text())
			if label != "" && len(label) <= maxPlanNameLength {
				plan = label
				return false
			}
			return true
		})
		if plan != "" {
			return plan
		}
	}

	return ""
}
