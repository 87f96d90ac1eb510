// Package price turns raw price text scraped from a page into canonical amounts.
package price

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subdupes/internal/common"
)

var canonicalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Price is a canonical amount and its ISO-like currency code.
type Price struct {
	Currency string
	Amount   decimal.Decimal
}

// String renders the price with two decimals, e.g. "29.99 USD".
func (p Price) String() string {
	return p.Amount.StringFixed(2) + " " + p.Currency
}

// Normalize parses the numeric part of a raw price substring into a canonical
// decimal string with a period as the decimal separator. Locale conventions are
// resolved as follows: when both separators appear, the right-most one is the
// decimal separator; a lone comma is a decimal comma. Repeated separators of a
// single kind are ambiguous and rejected.
//
// Normalize is idempotent.
func Normalize(raw string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			return r
		}
		return -1
	}, raw)

	if clean == "" {
		return "", fmt.Errorf("%w: no digits in %q", common.ErrInvalidPriceFormat, raw)
	}

	if clean[0] == '.' || clean[0] == ',' {
		clean = "0" + clean
	}

	dots := strings.Count(clean, ".")
	commas := strings.Count(clean, ",")

	if dots > 1 && commas == 0 {
		return "", fmt.Errorf("%w: ambiguous grouping in %q", common.ErrInvalidPriceFormat, raw)
	}
	if commas > 1 && dots == 0 {
		return "", fmt.Errorf("%w: ambiguous grouping in %q", common.ErrInvalidPriceFormat, raw)
	}

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(clean, ".") > strings.LastIndex(clean, ",") {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case commas == 1:
		clean = strings.Replace(clean, ",", ".", 1)
	}

	clean = strings.TrimSuffix(clean, ".")

	if !canonicalPattern.MatchString(clean) {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidPriceFormat, raw)
	}

	return clean, nil
}

// Parse resolves both amount and currency from a raw price substring.
func Parse(raw string) (Price, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return Price{}, err
	}

	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", common.ErrInvalidPriceFormat, err)
	}

	return Price{
		Amount:   amount,
		Currency: DetectCurrency(raw),
	}, nil
}
