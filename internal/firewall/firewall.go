// Package firewall implements the transaction firewall (C4): the
// component that composes the pattern classifier (C2), the structured
// extractor (C1), and the drift comparator (C3) into the three-layer
// evaluate() the gate calls before any policy check runs.
package firewall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentpay/firewall/internal/classifier"
	"github.com/agentpay/firewall/internal/drift"
	"github.com/agentpay/firewall/internal/extractor"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/money"
)

const (
	DefaultInjectionThreshold  = 0.7
	DefaultIntentDiffThreshold = 0.6
)

// amountMismatchTolerance is the absolute slack allowed between the
// amount extracted from free text and the amount the intent actually
// carries before it counts as a structured mismatch.
const amountMismatchTolerance = 0.01

// Config configures a Firewall. Classifier is an injectable
// collaborator; a nil value falls back to classifier.New with
// EnablePatternDetection and CustomPatterns applied.
type Config struct {
	Enabled                bool
	Classifier             *classifier.Classifier
	InjectionThreshold     float64
	IntentDiffThreshold    float64
	EnablePatternDetection bool
	OriginalInstruction    string
	CustomPatterns         []classifier.Rule
	OnBlock                func(intent.Verdict)
}

// Firewall evaluates a PaymentIntent against injection, structured
// mismatch, and origin drift layers, in that order, returning the
// first blocking verdict.
type Firewall struct {
	enabled             bool
	classifier          *classifier.Classifier
	injectionThreshold  float64
	intentDiffThreshold float64
	comparator          *drift.Comparator
	onBlock             func(intent.Verdict)
}

// New builds a Firewall from Config, applying the documented defaults
// for any zero-valued threshold.
func New(cfg Config) *Firewall {
	injectionThreshold := cfg.InjectionThreshold
	if injectionThreshold == 0 {
		injectionThreshold = DefaultInjectionThreshold
	}
	intentDiffThreshold := cfg.IntentDiffThreshold
	if intentDiffThreshold == 0 {
		intentDiffThreshold = DefaultIntentDiffThreshold
	}

	c := cfg.Classifier
	if c == nil {
		c = classifier.New(cfg.EnablePatternDetection, cfg.CustomPatterns...)
	}

	fw := &Firewall{
		enabled:             cfg.Enabled,
		classifier:          c,
		injectionThreshold:  injectionThreshold,
		intentDiffThreshold: intentDiffThreshold,
		onBlock:             cfg.OnBlock,
	}
	if cfg.OriginalInstruction != "" {
		fw.comparator = drift.New(cfg.OriginalInstruction)
	}
	return fw
}

// SetOriginalInstruction replaces the memoized origin-drift baseline.
func (f *Firewall) SetOriginalInstruction(instruction string) {
	if instruction == "" {
		f.comparator = nil
		return
	}
	f.comparator = drift.New(instruction)
}

// Evaluate runs the three-layer check and returns the first blocking
// verdict, or an allowed pass if none block.
func (f *Firewall) Evaluate(in intent.PaymentIntent) intent.Verdict {
	injectionPass, blocked := f.scanInjection(in)
	if blocked {
		f.block(injectionPass)
		return injectionPass
	}

	if v, blocked := f.checkStructuredMismatch(in); blocked {
		f.block(v)
		return v
	}

	if v, blocked := f.checkOriginDrift(in); blocked {
		f.block(v)
		return v
	}

	injectionPass.Reason = "no injection detected"
	return injectionPass
}

func (f *Firewall) block(v intent.Verdict) {
	if f.onBlock != nil {
		f.onBlock(v)
	}
}

func (f *Firewall) scanInjection(in intent.PaymentIntent) (intent.Verdict, bool) {
	text := buildScanText(in)
	result := f.classifier.Classify(text)
	if result.InjectionProbability < f.injectionThreshold {
		confidence := 1 - result.InjectionProbability
		return intent.Verdict{Allowed: true, Layer: intent.LayerClassifier, Confidence: &confidence}, false
	}

	confidence := result.InjectionProbability
	descriptions := make([]string, 0, len(result.Details))
	for _, m := range result.Details {
		descriptions = append(descriptions, m.Description)
	}
	return intent.Verdict{
		Allowed:    false,
		Layer:      intent.LayerClassifier,
		Reason:     fmt.Sprintf("injection probability %.2f >= threshold %.2f", result.InjectionProbability, f.injectionThreshold),
		Confidence: &confidence,
		Details:    map[string]any{"matches": descriptions},
	}, true
}

func buildScanText(in intent.PaymentIntent) string {
	parts := []string{in.Purpose, in.Recipient}
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v", in.Metadata[k]))
	}
	return strings.Join(parts, " ")
}

func (f *Firewall) checkStructuredMismatch(in intent.PaymentIntent) (intent.Verdict, bool) {
	extracted := extractor.Extract(in.Purpose)

	var mismatches []string

	if extracted.Amount != nil {
		if diff := *extracted.Amount - in.Amount; diff > amountMismatchTolerance || diff < -amountMismatchTolerance {
			extractedCurrency := in.Currency
			if extracted.Currency != nil {
				extractedCurrency = *extracted.Currency
			}
			mismatches = append(mismatches, fmt.Sprintf("amount: extracted %s vs intent %s",
				money.Format(*extracted.Amount, extractedCurrency), money.Format(in.Amount, in.Currency)))
		}
	}

	if extracted.Recipient != nil && !strings.EqualFold(*extracted.Recipient, in.Recipient) {
		mismatches = append(mismatches, fmt.Sprintf("recipient: extracted %q vs intent %q", *extracted.Recipient, in.Recipient))
	}

	if extracted.Currency != nil && !strings.EqualFold(*extracted.Currency, in.Currency) {
		mismatches = append(mismatches, fmt.Sprintf("currency: extracted %q vs intent %q", *extracted.Currency, in.Currency))
	}

	if len(mismatches) == 0 {
		return intent.Verdict{}, false
	}

	confidence := 0.8
	return intent.Verdict{
		Allowed:    false,
		Layer:      intent.LayerIntentDiff,
		Reason:     "structured mismatch between stated purpose and intent: " + strings.Join(mismatches, "; "),
		Confidence: &confidence,
		Details:    map[string]any{"mismatches": mismatches},
	}, true
}

func (f *Firewall) checkOriginDrift(in intent.PaymentIntent) (intent.Verdict, bool) {
	if f.comparator == nil {
		return intent.Verdict{}, false
	}

	result := f.comparator.Check(in)
	if result.SimilarityScore >= f.intentDiffThreshold {
		return intent.Verdict{}, false
	}

	confidence := 1 - result.SimilarityScore
	return intent.Verdict{
		Allowed:    false,
		Layer:      intent.LayerIntentDiff,
		Reason:     fmt.Sprintf("origin drift similarity %.3f below threshold %.2f", result.SimilarityScore, f.intentDiffThreshold),
		Confidence: &confidence,
		Details:    map[string]any{"indicators": result.Indicators},
	}, true
}
