package detect

import (
	"regexp"
	"strings"

	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/price"
)

const (
	currencyCodes  = `USD|EUR|GBP|INR|JPY|AUD|CAD|PKR|BRL|TRY|AED|SAR|BDT|CHF|MXN|ZAR|SGD|HKD|NZD|SEK|NOK|DKK|PLN`
	leadingSymbols = `US\$|CA\$|AU\$|NZ\$|HK\$|A\$|C\$|R\$|S\$|Rs\.?|[$€£¥₹₺₩₽]`
	// trailingSymbols omits the dollar family: "2 $10" would otherwise read as a price of 2.
	trailingSymbols = `[€£¥₹₺₩₽]|zł`
	amountPattern   = `(?:\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?|[.,]\d{2})`
	cyclePattern    = `(?i:\s*(?:/\s*|(?:per|a|an|each|every)\s+)(?:month|mo|year|yr|annum|week|wk)\b|\s+(?:monthly|annually|yearly|weekly)\b)`
)

var (
	leadingCurrency  = `(?:` + leadingSymbols + `|(?:` + currencyCodes + `)\b)`
	trailingCurrency = `(?:` + trailingSymbols + `|(?:` + currencyCodes + `)\b)`

	// Layered cascade, most specific first.
	cycleQualifiedRe = regexp.MustCompile(
		`(?:` + leadingCurrency + `\s?` + amountPattern + `(?:\s?` + trailingCurrency + `)?|` +
			amountPattern + `\s?` + trailingCurrency + `)` + cyclePattern)
	bareCurrencyRe    = regexp.MustCompile(leadingCurrency + `\s?` + amountPattern)
	trailingCodeRe    = regexp.MustCompile(amountPattern + `\s?` + trailingCurrency)
	priceCascade      = []*regexp.Regexp{cycleQualifiedRe, bareCurrencyRe, trailingCodeRe}
	yearlyWordsRe     = regexp.MustCompile(`(?i)\b(?:yr|yrs|year|years|yearly|annual|annually|annum)\b`)
	weeklyWordsRe     = regexp.MustCompile(`(?i)\b(?:wk|wks|week|weeks|weekly)\b`)
	monthlyWordsRe    = regexp.MustCompile(`(?i)\b(?:mo|mos|month|months|monthly)\b`)
)

// PriceMatch is one currency amount found in text.
type PriceMatch struct {
	Raw   string
	Cycle model.BillingCycle
	Price price.Price
}

// FindPrices returns the distinct currency amounts in text. Cycle-qualified
// prices are collected first, then bare currency+amount, then amounts followed
// by a currency code. Matches that fail normalization are skipped.
func FindPrices(text string) []PriceMatch {
	var matches []PriceMatch
	seen := make(map[string]bool)

	for _, re := range priceCascade {
		for _, raw := range re.FindAllString(text, -1) {
			// "Rs." would otherwise leave a stray separator ahead of the digits.
			p, err := price.Parse(strings.Replace(raw, "Rs.", "Rs ", 1))
			if err != nil {
				continue
			}
			key := p.Currency + ":" + p.Amount.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			matches = append(matches, PriceMatch{
				Raw:   raw,
				Price: p,
				Cycle: cycleFromText(raw),
			})
		}
	}

	return matches
}

// firstNonZero returns the first match with a positive amount.
func firstNonZero(matches []PriceMatch) (PriceMatch, bool) {
	for _, m := range matches {
		if m.Price.Amount.IsPositive() {
			return m, true
		}
	}
	return PriceMatch{}, false
}

// cycleFromText returns the billing cycle named in text, or "" when none is.
func cycleFromText(text string) model.BillingCycle {
	switch {
	case yearlyWordsRe.MatchString(text):
		return model.CycleYearly
	case weeklyWordsRe.MatchString(text):
		return model.CycleWeekly
	case monthlyWordsRe.MatchString(text):
		return model.CycleMonthly
	default:
		return ""
	}
}
