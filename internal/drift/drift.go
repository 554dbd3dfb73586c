// Package drift implements the intent-drift comparator (C3): it holds
// the agent's original natural-language instruction, extracts a
// StructuredIntent from it once, and compares that baseline
// field-by-field against whatever PaymentIntent the agent ultimately
// tries to execute.
//
// Every field present in the baseline is scored independently and the
// overall result is the mean of those field scores, never a single
// opaque distance.
package drift

import (
	"strconv"
	"strings"

	"github.com/agentpay/firewall/internal/extractor"
	"github.com/agentpay/firewall/internal/intent"
)

// Severity is the drift indicator's severity class.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Indicator flags one field whose value drifted from the original
// instruction.
type Indicator struct {
	Field    string
	Original string
	Current  string
	Severity Severity
}

// Result is the outcome of comparing a PaymentIntent against the
// original instruction's structured intent.
type Result struct {
	SimilarityScore float64
	Indicators      []Indicator
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "of": true,
	"in": true, "on": true, "at": true, "is": true, "it": true, "and": true,
	"or": true, "but": true, "with": true, "from": true, "by": true, "as": true,
	"this": true, "that": true, "pay": true, "send": true, "transfer": true,
	"please": true, "i": true, "my": true, "me": true, "want": true,
}

// Comparator is constructed once with the user's original instruction
// and memoizes its structured extraction.
type Comparator struct {
	original *extractor.StructuredIntent
}

// New extracts and memoizes the structured intent of the original
// instruction.
func New(originalInstruction string) *Comparator {
	return &Comparator{original: extractor.Extract(originalInstruction)}
}

// Check compares the memoized original against the given intent,
// scoring only the fields present in the original.
func (c *Comparator) Check(current intent.PaymentIntent) Result {
	var scores []float64
	var indicators []Indicator

	if c.original.Amount != nil {
		score := scoreAmount(*c.original.Amount, current.Amount)
		scores = append(scores, score)
		if score < 0.8 {
			indicators = append(indicators, Indicator{
				Field:    "amount",
				Original: formatFloat(*c.original.Amount),
				Current:  formatFloat(current.Amount),
				Severity: severityFor(score, 0.3),
			})
		}
	}

	if c.original.Recipient != nil {
		score := scoreRecipient(*c.original.Recipient, current.Recipient)
		scores = append(scores, score)
		if score < 0.8 {
			indicators = append(indicators, Indicator{
				Field:    "recipient",
				Original: *c.original.Recipient,
				Current:  current.Recipient,
				Severity: severityFor(score, 0.3),
			})
		}
	}

	if c.original.Currency != nil {
		score := scoreCurrency(*c.original.Currency, current.Currency)
		scores = append(scores, score)
		if score < 0.8 {
			indicators = append(indicators, Indicator{
				Field:    "currency",
				Original: *c.original.Currency,
				Current:  current.Currency,
				Severity: SeverityMedium,
			})
		}
	}

	if c.original.Purpose != nil {
		score := scorePurpose(*c.original.Purpose, current.Purpose)
		scores = append(scores, score)
		if score < 0.5 {
			indicators = append(indicators, Indicator{
				Field:    "purpose",
				Original: *c.original.Purpose,
				Current:  current.Purpose,
				Severity: severityFor(score, 0.2),
			})
		}
	}

	return Result{
		SimilarityScore: round3(mean(scores)),
		Indicators:      indicators,
	}
}

// severityFor returns high when score is below lowThreshold, else
// medium.
func severityFor(score, lowThreshold float64) Severity {
	if score < lowThreshold {
		return SeverityHigh
	}
	return SeverityMedium
}

func scoreAmount(original, current float64) float64 {
	if original == 0 && current == 0 {
		return 1.0
	}
	if original == 0 || current == 0 {
		return 0.0
	}
	min, max := original, current
	if min > max {
		min, max = max, min
	}
	r := min / max
	switch {
	case r >= 0.99:
		return 1.0
	case r >= 0.9:
		return 0.8
	case r >= 0.5:
		return 0.5
	default:
		return r
	}
}

func scoreRecipient(original, current string) float64 {
	a := strings.ToLower(strings.TrimSpace(original))
	b := strings.ToLower(strings.TrimSpace(current))
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.7
	}
	if host(a) != "" && host(a) == host(b) {
		return 0.6
	}
	return 0.0
}

// host extracts the domain following "https://", "http://", or
// "agent://", or "" if none of those prefixes are present.
func host(s string) string {
	for _, prefix := range []string{"https://", "http://", "agent://"} {
		if strings.HasPrefix(s, prefix) {
			rest := s[len(prefix):]
			if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
				rest = rest[:idx]
			}
			return rest
		}
	}
	return ""
}

func scoreCurrency(original, current string) float64 {
	if strings.EqualFold(original, current) {
		return 1.0
	}
	return 0.0
}

func scorePurpose(original, current string) float64 {
	a := tokenize(original)
	b := tokenize(current)
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a)
	for tok := range b {
		if !a[tok] {
			union++
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	var b strings.Builder
	flush := func() {
		word := strings.ToLower(b.String())
		b.Reset()
		if len(word) <= 1 {
			return
		}
		if stopWords[word] {
			return
		}
		tokens[word] = true
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func round3(v float64) float64 {
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return rounded
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
