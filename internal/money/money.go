// Package money provides shared amount formatting for error messages and
// audit records. The firewall's data model keeps amounts as plain float64
// currency units (spec §3) rather than a fixed-point ledger type, since
// intents span many currencies (fiat, USDC, ETH, ...); this package only
// normalizes how those floats are printed.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders an amount with its currency code, trimming trailing
// zeros so "100.00" reads as "100" but "12.5" keeps its fraction.
func Format(amount float64, currency string) string {
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if currency == "" {
		return s
	}
	return fmt.Sprintf("%s %s", s, strings.ToUpper(currency))
}

// ParseBareNumber parses a numeral that may contain thousands separators,
// e.g. "10,000" or "10000.50". Returns (0, false) on malformed input.
func ParseBareNumber(s string) (float64, bool) {
	cleaned := strings.ReplaceAll(s, ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
