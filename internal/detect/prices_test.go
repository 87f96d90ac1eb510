package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

func TestFindPrices(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		amount   string
		currency string
		cycle    model.BillingCycle
	}{
		{"dollar per month", "Only $12/mo", "12", "USD", model.CycleMonthly},
		{"euro spaced slash", "€9,99 / month", "9.99", "EUR", model.CycleMonthly},
		{"real with no cycle", "R$ 39,90 por mês", "39.90", "BRL", ""},
		{"code after number", "Total: 1.299,00 EUR per year", "1299", "EUR", model.CycleYearly},
		{"rupee abbreviation", "Rs. 1500 per month", "1500", "PKR", model.CycleMonthly},
		{"pound weekly", "£3 weekly", "3", "GBP", model.CycleWeekly},
		{"leading code", "USD 49.00 a year", "49", "USD", model.CycleYearly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := FindPrices(tt.text)
			require.Len(t, matches, 1)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(matches[0].Price.Amount),
				"got %s", matches[0].Price.Amount)
			assert.Equal(t, tt.currency, matches[0].Price.Currency)
			assert.Equal(t, tt.cycle, matches[0].Cycle)
		})
	}
}

func TestFindPrices_Deduplicates(t *testing.T) {
	matches := FindPrices("$10/month, that is $10 billed monthly, or $100/year")
	require.Len(t, matches, 2)
	assert.Equal(t, "10", matches[0].Price.Amount.String())
	assert.Equal(t, "100", matches[1].Price.Amount.String())
}

func TestFindPrices_DollarNotTrailing(t *testing.T) {
	matches := FindPrices("Pick 2 $10 seats")
	require.Len(t, matches, 1)
	assert.Equal(t, "10", matches[0].Price.Amount.String())
}

func TestFindPrices_NoPrices(t *testing.T) {
	assert.Empty(t, FindPrices("Call us for a quote, 24/7 support"))
}

func TestFirstNonZero(t *testing.T) {
	m, ok := firstNonZero(FindPrices("Free $0.00 / Pro $12/mo"))
	require.True(t, ok)
	assert.Equal(t, "12", m.Price.Amount.String())

	_, ok = firstNonZero(FindPrices("Free $0"))
	assert.False(t, ok)
}

func TestCycleFromText(t *testing.T) {
	assert.Equal(t, model.CycleYearly, cycleFromText("$99/yr"))
	assert.Equal(t, model.CycleYearly, cycleFromText("billed annually"))
	assert.Equal(t, model.CycleWeekly, cycleFromText("$3 per week"))
	assert.Equal(t, model.CycleMonthly, cycleFromText("$5/mo"))
	assert.Equal(t, model.BillingCycle(""), cycleFromText("$5"))
	// "mo" must not match inside other words.
	assert.Equal(t, model.BillingCycle(""), cycleFromText("more money"))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
threshold: 30
prompt_threshold: 60
price:
  cap: 20
  steps:
    - min_matches: 1
      points: 20
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 30, rules.Threshold)
	assert.Equal(t, 60, rules.PromptThreshold)
	require.Len(t, rules.Price.Steps, 1)
	assert.Equal(t, 20, rules.Price.Steps[0].Points)
	// Untouched sections keep their defaults.
	assert.Equal(t, 25, rules.URL.Cap)
	assert.Equal(t, DefaultRules().Keywords, rules.Keywords)
}

func TestLoadRules_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"prompt below threshold", "threshold: 90\n"},
		{"caps over 100", "url:\n  cap: 50\n"},
		{"zero threshold", "threshold: 0\n"},
		{"negative weight", "dom:\n  cap: 25\n  checks:\n    - name: bad\n      weight: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadRules(path)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}

	_, err := LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultRules_Valid(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())
}
