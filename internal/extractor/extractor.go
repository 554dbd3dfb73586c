// Package extractor implements the structured intent extractor (C1):
// a deterministic, regex-based parser that turns a free-text payment
// purpose into structured fields the firewall can cross-check against
// the caller-supplied PaymentIntent.
//
// Every rule here is a compiled, stateless regex evaluated in a fixed
// priority order. Recipients and deadlines take the first rule that
// matches; for amounts, an "<amount> <currency>" match overrides a
// dollar-form match.
package extractor

import (
	"regexp"
	"strings"

	"github.com/agentpay/firewall/internal/money"
)

// StructuredIntent holds the fields recovered from free text. Any field
// left nil means the extractor found no evidence for it.
type StructuredIntent struct {
	Amount   *float64
	Currency *string
	Recipient *string
	Deadline  *string
	Purpose   *string
	Raw       string
}

// currencyAliases maps a lowercase token to its canonical currency code.
var currencyAliases = map[string]string{
	"usdc":     "USDC",
	"eth":      "ETH",
	"ether":    "ETH",
	"ethereum": "ETH",
	"sol":      "SOL",
	"solana":   "SOL",
	"btc":      "BTC",
	"bitcoin":  "BTC",
	"dai":      "DAI",
	"matic":    "MATIC",
	"avax":     "AVAX",
	"dollar":   "USD",
	"dollars":  "USD",
}

// aliasPattern is currencyAliases' keys joined for regex alternation,
// longest-first so e.g. "ethereum" matches before "eth" would truncate it.
const aliasPattern = `usdc|ethereum|ether|eth|solana|sol|bitcoin|btc|dai|matic|avax|dollars|dollar`

var (
	numeralGroup = `([0-9][0-9,]*(?:\.[0-9]+)?)`

	dollarFormRe       = regexp.MustCompile(`\$\s?` + numeralGroup)
	amountThenCurrency = regexp.MustCompile(`(?i)` + numeralGroup + `\s*(` + aliasPattern + `)\b`)
	currencyThenAmount = regexp.MustCompile(`(?i)\b(` + aliasPattern + `)\s+` + numeralGroup)

	agentRecipientRe = regexp.MustCompile(`agent://[^\s,]+`)
	hexRecipientRe    = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
	ensRecipientRe    = regexp.MustCompile(`(?i)\b[a-z0-9-]+\.eth\b`)
	urlRecipientRe    = regexp.MustCompile(`(?i)https?://[^\s,]+`)

	withinDeadlineRe = regexp.MustCompile(`(?i)\bwithin\s+(\d+)\s*(minutes?|mins?|m\b|hours?|hrs?|h\b|days?|d\b|weeks?|w\b)`)
	byNamedTimeRe    = regexp.MustCompile(`(?i)\bby\s+(tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday|end of day|end of week|end of month)`)
	bareDurationRe   = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|mins?|m\b|hours?|hrs?|h\b|days?|d\b|weeks?|w\b)`)

	fillerWords = map[string]bool{
		"pay": true, "send": true, "transfer": true, "to": true,
		"for": true, "within": true, "by": true,
	}
)

// span is a half-open byte range [start, end) in the original text.
type span struct{ start, end int }

// Extract parses free text into a StructuredIntent. Never returns nil.
func Extract(text string) *StructuredIntent {
	result := &StructuredIntent{Raw: text}
	var spans []span

	amount, currency, amtSpans := extractAmount(text)
	result.Amount = amount
	result.Currency = currency
	spans = append(spans, amtSpans...)

	if recipient, s := extractRecipient(text); recipient != "" {
		result.Recipient = &recipient
		spans = append(spans, s)
	}

	if deadline, s := extractDeadline(text); deadline != "" {
		result.Deadline = &deadline
		spans = append(spans, s)
	}

	if purpose := residualPurpose(text, spans); purpose != "" {
		result.Purpose = &purpose
	}

	return result
}

func extractAmount(text string) (*float64, *string, []span) {
	var amount *float64
	var currency *string
	var spans []span

	if m := dollarFormRe.FindStringSubmatchIndex(text); m != nil {
		if v, ok := parseNumeral(text[m[2]:m[3]]); ok {
			amount = &v
			usd := "USD"
			currency = &usd
			spans = append(spans, span{m[0], m[1]})
		}
	}

	if m := amountThenCurrency.FindStringSubmatchIndex(text); m != nil {
		numStr := text[m[2]:m[3]]
		token := strings.ToLower(text[m[4]:m[5]])
		if v, ok := parseNumeral(numStr); ok {
			canon := currencyAliases[token]
			isDollarWord := token == "dollar" || token == "dollars"
			if !isDollarWord || amount == nil {
				amount = &v
				currency = &canon
			}
			spans = append(spans, span{m[0], m[1]})
		}
	}

	if amount == nil {
		if m := currencyThenAmount.FindStringSubmatchIndex(text); m != nil {
			token := strings.ToLower(text[m[2]:m[3]])
			numStr := text[m[4]:m[5]]
			if v, ok := parseNumeral(numStr); ok {
				canon := currencyAliases[token]
				amount = &v
				currency = &canon
				spans = append(spans, span{m[0], m[1]})
			}
		}
	}

	return amount, currency, spans
}

func parseNumeral(s string) (float64, bool) {
	return money.ParseBareNumber(s)
}

// recipientMatchers runs in priority order; the first regex that matches
// anywhere in the text wins, regardless of match position.
var recipientMatchers = []*regexp.Regexp{
	agentRecipientRe,
	hexRecipientRe,
	ensRecipientRe,
	urlRecipientRe,
}

func extractRecipient(text string) (string, span) {
	for _, re := range recipientMatchers {
		if m := re.FindStringIndex(text); m != nil {
			return text[m[0]:m[1]], span{m[0], m[1]}
		}
	}
	return "", span{}
}

func extractDeadline(text string) (string, span) {
	if m := withinDeadlineRe.FindStringSubmatchIndex(text); m != nil {
		unit := normalizeUnit(text[m[4]:m[5]])
		return text[m[2]:m[3]] + unit, span{m[0], m[1]}
	}
	if m := byNamedTimeRe.FindStringSubmatchIndex(text); m != nil {
		return strings.ToLower(text[m[2]:m[3]]), span{m[0], m[1]}
	}
	if m := bareDurationRe.FindStringSubmatchIndex(text); m != nil {
		unit := normalizeUnit(text[m[4]:m[5]])
		return text[m[2]:m[3]] + unit, span{m[0], m[1]}
	}
	return "", span{}
}

func normalizeUnit(raw string) string {
	u := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(u, "m"):
		return "m"
	case strings.HasPrefix(u, "h"):
		return "h"
	case strings.HasPrefix(u, "d"):
		return "d"
	case strings.HasPrefix(u, "w"):
		return "w"
	}
	return u
}

// residualPurpose removes every matched span, strips filler words and
// dollar signs, and collapses whitespace. Returns "" if nothing remains.
func residualPurpose(text string, spans []span) string {
	buf := []byte(text)
	for _, s := range spans {
		for i := s.start; i < s.end && i < len(buf); i++ {
			buf[i] = ' '
		}
	}
	masked := strings.ReplaceAll(string(buf), "$", " ")

	var kept []string
	for _, word := range strings.Fields(masked) {
		clean := strings.Trim(word, ".,!?;:")
		if clean == "" {
			continue
		}
		if fillerWords[strings.ToLower(clean)] {
			continue
		}
		kept = append(kept, clean)
	}

	return strings.Join(kept, " ")
}
