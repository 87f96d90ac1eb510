package price

import "strings"

// DefaultCurrency is assumed when no symbol or code is present.
const DefaultCurrency = "USD"

type currencyToken struct {
	token string
	code  string
	// word tokens are three-letter codes matched case-insensitively on letter boundaries.
	word bool
}

// currencyTable is scanned in order; the first hit wins. Prefixed dollar signs
// come before the bare "$" so "R$" resolves to BRL rather than USD.
var currencyTable = []currencyToken{
	{token: "US$", code: "USD"},
	{token: "CA$", code: "CAD"},
	{token: "AU$", code: "AUD"},
	{token: "NZ$", code: "NZD"},
	{token: "HK$", code: "HKD"},
	{token: "A$", code: "AUD"},
	{token: "C$", code: "CAD"},
	{token: "R$", code: "BRL"},
	{token: "S$", code: "SGD"},
	{token: "Rs", code: "PKR"},
	{token: "€", code: "EUR"},
	{token: "£", code: "GBP"},
	{token: "₹", code: "INR"},
	{token: "¥", code: "JPY"},
	{token: "₺", code: "TRY"},
	{token: "₩", code: "KRW"},
	{token: "₽", code: "RUB"},
	{token: "zł", code: "PLN"},
	{token: "EUR", code: "EUR", word: true},
	{token: "GBP", code: "GBP", word: true},
	{token: "INR", code: "INR", word: true},
	{token: "JPY", code: "JPY", word: true},
	{token: "YEN", code: "JPY", word: true},
	{token: "AUD", code: "AUD", word: true},
	{token: "CAD", code: "CAD", word: true},
	{token: "PKR", code: "PKR", word: true},
	{token: "BRL", code: "BRL", word: true},
	{token: "TRY", code: "TRY", word: true},
	{token: "AED", code: "AED", word: true},
	{token: "SAR", code: "SAR", word: true},
	{token: "BDT", code: "BDT", word: true},
	{token: "CHF", code: "CHF", word: true},
	{token: "MXN", code: "MXN", word: true},
	{token: "ZAR", code: "ZAR", word: true},
	{token: "SGD", code: "SGD", word: true},
	{token: "HKD", code: "HKD", word: true},
	{token: "NZD", code: "NZD", word: true},
	{token: "SEK", code: "SEK", word: true},
	{token: "NOK", code: "NOK", word: true},
	{token: "DKK", code: "DKK", word: true},
	{token: "PLN", code: "PLN", word: true},
	{token: "USD", code: "USD", word: true},
	{token: "$", code: "USD"},
}

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"INR": "₹",
	"JPY": "¥",
	"PKR": "Rs",
	"BRL": "R$",
	"TRY": "₺",
	"AUD": "A$",
	"CAD": "C$",
}

// DetectCurrency resolves the currency of a raw price substring, defaulting to USD.
func DetectCurrency(raw string) string {
	upper := strings.ToUpper(raw)
	for _, entry := range currencyTable {
		if entry.word {
			if containsWord(upper, entry.token) {
				return entry.code
			}
			continue
		}
		if strings.Contains(raw, entry.token) {
			return entry.code
		}
	}
	return DefaultCurrency
}

// Symbol returns the display symbol for a currency code, falling back to the code itself.
func Symbol(code string) string {
	if s, ok := symbols[code]; ok {
		return s
	}
	if code == "" {
		return "$"
	}
	return code + " "
}

func containsWord(s, word string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		if (idx == 0 || !isASCIILetter(s[idx-1])) && (end == len(s) || !isASCIILetter(s[end])) {
			return true
		}
		start = idx + 1
	}
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
