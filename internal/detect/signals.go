package detect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

// Breakdown holds the four independently capped channel scores.
type Breakdown struct {
	URL      int `json:"url"`
	Keywords int `json:"keywords"`
	DOM      int `json:"dom"`
	Price    int `json:"price"`
}

// Total is the sum of the channel scores.
func (b Breakdown) Total() int {
	return b.URL + b.Keywords + b.DOM + b.Price
}

func (b Breakdown) String() string {
	return fmt.Sprintf("url=%d keywords=%d dom=%d price=%d total=%d",
		b.URL, b.Keywords, b.DOM, b.Price, b.Total())
}

type compiledTier struct {
	tier     KeywordTier
	patterns []*regexp.Regexp
}

func compileTiers(tiers []KeywordTier) []compiledTier {
	out := make([]compiledTier, 0, len(tiers))
	for _, tier := range tiers {
		ct := compiledTier{tier: tier}
		if tier.WholeWord {
			ct.patterns = lo.FilterMap(tier.Phrases, func(p string, _ int) (*regexp.Regexp, bool) {
				if p == "" {
					return nil, false
				}
				return regexp.MustCompile(`(?i)` + wordBoundary(p[0]) + regexp.QuoteMeta(p) + wordBoundary(p[len(p)-1])), true
			})
		}
		out = append(out, ct)
	}
	return out
}

// wordBoundary anchors a phrase edge only when that edge is a word character;
// "/mo" must still match right after a digit.
func wordBoundary(c byte) string {
	if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return `\b`
	}
	return ""
}

func scoreURL(rules URLRules, rawURL string) int {
	lower := strings.ToLower(rawURL)
	path := ""
	if u, err := url.Parse(lower); err == nil {
		path = u.Path
	}

	score := 0
	inPath := false
	for _, kw := range lo.Uniq(rules.Keywords) {
		if !strings.Contains(lower, kw) {
			continue
		}
		score += rules.PerKeyword
		if strings.Contains(path, kw) {
			inPath = true
		}
	}
	if inPath {
		score += rules.PathBonus
	}
	return capScore(score, rules.Cap)
}

func scoreKeywords(tiers []compiledTier, capAt int, text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, ct := range tiers {
		if ct.tier.WholeWord {
			for _, re := range ct.patterns {
				if re.MatchString(lower) {
					score += ct.tier.Weight
				}
			}
			continue
		}
		for _, phrase := range ct.tier.Phrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				score += ct.tier.Weight
			}
		}
	}
	return capScore(score, capAt)
}

func scoreDOM(rules DOMRules, doc *goquery.Document) int {
	if doc == nil {
		return 0
	}
	score := 0
	for _, check := range rules.Checks {
		found := lo.ContainsBy(check.Selectors, func(sel string) bool {
			return doc.Find(sel).Length() > 0
		})
		if found {
			score += check.Weight
		}
	}
	return capScore(score, rules.Cap)
}

func scorePrices(rules PriceRules, matches int) int {
	for _, step := range rules.Steps {
		if matches >= step.MinMatches {
			return capScore(step.Points, rules.Cap)
		}
	}
	return 0
}

func capScore(score, capAt int) int {
	if score < 0 {
		return 0
	}
	return min(score, capAt)
}
