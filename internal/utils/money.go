package utils

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders an amount in minor currency units as a localized
// string with its currency symbol, e.g. FormatAmount(3000, "USD") → "$ 30.00".
// Unknown currency codes fall back to "<cents> <CODE>".
func FormatAmount(cents int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d %s", cents, code)
	}
	amount := unit.Amount(float64(cents) / 100)
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(amount))
}
