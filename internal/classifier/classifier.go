// Package classifier implements the pattern/classifier layer (C2): a
// weighted regex scanner that scores free text for known
// prompt-injection shapes and returns an injection probability in
// [0,1] plus a match trace.
//
// The rule table has an "ordered, additive, capped score" shape —
// every rule is evaluated, every match contributes, nothing
// short-circuits. (The policy engine in internal/policy differs: its
// first violated rule decides.)
package classifier

import "regexp"

// Severity is the weight class of a pattern rule.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// severityWeight maps a severity to its additive score contribution.
var severityWeight = map[Severity]float64{
	SeverityHigh:   0.4,
	SeverityMedium: 0.2,
	SeverityLow:    0.1,
}

// Rule is one pattern the classifier scores text against.
type Rule struct {
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
}

// Match is one rule that fired during a Classify call.
type Match struct {
	Description string
	Severity    Severity
}

// Result is the outcome of scoring a single piece of text.
type Result struct {
	InjectionProbability float64
	Details              []Match
}

// Classifier scores text against an ordered, additive rule list.
type Classifier struct {
	rules   []Rule
	enabled bool
}

// New builds a classifier from the built-in five-category rule set
// plus any custom rules, which are appended after the built-ins.
// enabled controls whether pattern detection runs at all; when false,
// Classify always returns probability 0 regardless of input.
func New(enabled bool, customRules ...Rule) *Classifier {
	rules := make([]Rule, 0, len(builtinRules)+len(customRules))
	rules = append(rules, builtinRules...)
	rules = append(rules, customRules...)
	return &Classifier{rules: rules, enabled: enabled}
}

// Classify scores text against every rule, summing the weight of each
// match and clamping the total to 1.0. A match never short-circuits
// the scan: every rule is always evaluated.
func (c *Classifier) Classify(text string) Result {
	if !c.enabled {
		return Result{InjectionProbability: 0}
	}

	var score float64
	var details []Match
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(text) {
			score += severityWeight[rule.Severity]
			details = append(details, Match{Description: rule.Description, Severity: rule.Severity})
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return Result{InjectionProbability: score, Details: details}
}

// builtinRules ships the five-category catalogue required by the
// conformance phrases: direct instruction override, financial
// manipulation, hidden content, encoding/eval tricks, and social
// engineering/privilege escalation.
var builtinRules = []Rule{
	// direct instruction override
	{
		Pattern:     regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
		Severity:    SeverityHigh,
		Description: "ignore previous instructions",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions`),
		Severity:    SeverityHigh,
		Description: "disregard previous instructions",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)you\s+are\s+now\b`),
		Severity:    SeverityHigh,
		Description: "role-override: you are now",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|I)\s+(know|said|told)`),
		Severity:    SeverityMedium,
		Description: "forget prior context",
	},

	// financial manipulation
	{
		Pattern:     regexp.MustCompile(`(?i)transfer\s+all\b|\btransfer\s+(the\s+)?funds\b`),
		Severity:    SeverityHigh,
		Description: "transfer all/funds",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)change\s+(the\s+)?(recipient|address|wallet)\b`),
		Severity:    SeverityHigh,
		Description: "change recipient/address/wallet",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)send\s+(everything|all\s+(of\s+)?(my|the)\s+(money|funds|balance))`),
		Severity:    SeverityHigh,
		Description: "send all balance",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)no\s+(spending\s+)?limits?\b`),
		Severity:    SeverityMedium,
		Description: "claims unlimited spend",
	},

	// hidden content
	{
		Pattern:     regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}]`),
		Severity:    SeverityMedium,
		Description: "zero-width hidden characters",
	},
	{
		Pattern:     regexp.MustCompile(`(?s)<!--.*-->`),
		Severity:    SeverityLow,
		Description: "HTML comment block",
	},

	// encoding / eval tricks
	{
		Pattern:     regexp.MustCompile(`(?i)\beval\s*\(`),
		Severity:    SeverityHigh,
		Description: "eval( call",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\batob\s*\(|\bbtoa\s*\(`),
		Severity:    SeverityMedium,
		Description: "base64 decode/encode call",
	},
	{
		Pattern:     regexp.MustCompile(`(?:[A-Za-z0-9+/]{40,}={0,2})`),
		Severity:    SeverityLow,
		Description: "long base64-like blob",
	},
	{
		Pattern:     regexp.MustCompile(`\\x[0-9a-fA-F]{2}(\\x[0-9a-fA-F]{2}){3,}`),
		Severity:    SeverityMedium,
		Description: "hex-escape obfuscation",
	},

	// social engineering / privilege escalation
	{
		Pattern:     regexp.MustCompile(`(?i)bypass\s+(the\s+)?.*\b(limit|approval)\b`),
		Severity:    SeverityHigh,
		Description: "bypass limit/approval",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\bas\s+(an?\s+)?(admin|administrator|root|system)\b`),
		Severity:    SeverityMedium,
		Description: "claims elevated privilege",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)i\s+am\s+the\s+(owner|developer|administrator)\b`),
		Severity:    SeverityMedium,
		Description: "claims authority over the agent",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)this\s+is\s+(an?\s+)?(urgent|emergency)\b.*\b(override|approve|bypass)\b`),
		Severity:    SeverityMedium,
		Description: "urgency-pressure override request",
	},
}
