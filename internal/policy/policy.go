// Package policy implements the deterministic policy engine (C5): a
// set of ordered, additive-free checks (the first violation wins)
// plus the in-memory spend accounting they read from.
//
// Spend counters are deliberately never persisted — spec.md's Non-goals
// defer durability to a future version — so Engine is a plain struct
// around two maps and a timestamp, reset on process restart same as
// the teacher's risk.Engine windows.
package policy

import (
	"fmt"
	"time"

	"github.com/agentpay/firewall/internal/intent"
)

// Rule name constants, also used as the verdict's details["policy"] value.
const (
	RuleMaxPerTransaction  = "maxPerTransaction"
	RuleMaxDaily           = "maxDaily"
	RuleMaxMonthly         = "maxMonthly"
	RuleBlockedRecipients  = "blockedRecipients"
	RuleAllowedRecipients  = "allowedRecipients"
	RuleAllowedCategories  = "allowedCategories"
	RuleCooldownMs         = "cooldownMs"
	RuleRequireEscrowAbove = "requireEscrowAbove"
)

// Engine evaluates a PaymentIntent against a PolicyConfig and owns the
// in-memory spend accounting (daily/monthly totals, last transaction
// time) that rolling caps and cooldowns read from.
type Engine struct {
	cfg     intent.PolicyConfig
	daily   map[string]float64
	monthly map[string]float64
	// lastTransaction is the epoch-ms timestamp of the most recently
	// recorded transaction, or 0 if none has been recorded yet.
	lastTransaction int64
}

// New builds an Engine bound to the given configuration.
func New(cfg intent.PolicyConfig) *Engine {
	return &Engine{
		cfg:     cfg,
		daily:   make(map[string]float64),
		monthly: make(map[string]float64),
	}
}

// Config returns the engine's current policy configuration.
func (e *Engine) Config() intent.PolicyConfig {
	return e.cfg
}

// SetConfig replaces the engine's policy configuration in place. Spend
// accounting (daily/monthly totals, cooldown timestamp) is left
// untouched — only the bounds that Evaluate checks against change.
func (e *Engine) SetConfig(cfg intent.PolicyConfig) {
	e.cfg = cfg
}

// dayKey is the first 10 characters of the UTC RFC3339 timestamp
// ("YYYY-MM-DD").
func dayKey(epochMs int64) string {
	return time.UnixMilli(epochMs).UTC().Format(time.RFC3339)[:10]
}

// monthKey is the first 7 characters of the UTC RFC3339 timestamp
// ("YYYY-MM").
func monthKey(epochMs int64) string {
	return dayKey(epochMs)[:7]
}

// Evaluate runs every check in spec order and returns the first
// blocking verdict, or an allowed pass at layer=policy if none block.
func (e *Engine) Evaluate(in intent.PaymentIntent) intent.Verdict {
	if v, blocked := e.checkMaxPerTransaction(in); blocked {
		return v
	}
	if v, blocked := e.checkMaxDaily(in); blocked {
		return v
	}
	if v, blocked := e.checkMaxMonthly(in); blocked {
		return v
	}
	if v, blocked := e.checkRecipient(in); blocked {
		return v
	}
	if v, blocked := e.checkCategory(in); blocked {
		return v
	}
	if v, blocked := e.checkCooldown(in); blocked {
		return v
	}
	if v, blocked := e.checkRequireEscrow(in); blocked {
		return v
	}

	return intent.Verdict{Allowed: true, Layer: intent.LayerPolicy, Reason: "no policy violation"}
}

func blockVerdict(rule, reason string, current, limit float64, extra map[string]any) intent.Verdict {
	details := map[string]any{
		"policy":  rule,
		"value":   current,
		"limit":   limit,
	}
	for k, v := range extra {
		details[k] = v
	}
	return intent.Verdict{Allowed: false, Layer: intent.LayerPolicy, Reason: reason, Details: details}
}

func (e *Engine) checkMaxPerTransaction(in intent.PaymentIntent) (intent.Verdict, bool) {
	if e.cfg.MaxPerTransaction == nil {
		return intent.Verdict{}, false
	}
	if in.Amount > *e.cfg.MaxPerTransaction {
		reason := fmt.Sprintf("amount %v exceeds per-transaction cap %v", in.Amount, *e.cfg.MaxPerTransaction)
		return blockVerdict(RuleMaxPerTransaction, reason, in.Amount, *e.cfg.MaxPerTransaction, nil), true
	}
	return intent.Verdict{}, false
}

func (e *Engine) checkMaxDaily(in intent.PaymentIntent) (intent.Verdict, bool) {
	if e.cfg.MaxDaily == nil {
		return intent.Verdict{}, false
	}
	key := dayKey(in.CreatedAt)
	projected := e.daily[key] + in.Amount
	if projected > *e.cfg.MaxDaily {
		reason := fmt.Sprintf("daily total %v would exceed cap %v", projected, *e.cfg.MaxDaily)
		return blockVerdict(RuleMaxDaily, reason, projected, *e.cfg.MaxDaily, nil), true
	}
	return intent.Verdict{}, false
}

func (e *Engine) checkMaxMonthly(in intent.PaymentIntent) (intent.Verdict, bool) {
	if e.cfg.MaxMonthly == nil {
		return intent.Verdict{}, false
	}
	key := monthKey(in.CreatedAt)
	projected := e.monthly[key] + in.Amount
	if projected > *e.cfg.MaxMonthly {
		reason := fmt.Sprintf("monthly total %v would exceed cap %v", projected, *e.cfg.MaxMonthly)
		return blockVerdict(RuleMaxMonthly, reason, projected, *e.cfg.MaxMonthly, nil), true
	}
	return intent.Verdict{}, false
}

func (e *Engine) checkRecipient(in intent.PaymentIntent) (intent.Verdict, bool) {
	if matched, pattern := anyGlobMatch(e.cfg.BlockedRecipients, in.Recipient); matched {
		reason := fmt.Sprintf("recipient %q matches blocked pattern %q", in.Recipient, pattern)
		v := intent.Verdict{
			Allowed: false,
			Layer:   intent.LayerPolicy,
			Reason:  reason,
			Details: map[string]any{"policy": RuleBlockedRecipients, "matchedPattern": pattern, "recipient": in.Recipient},
		}
		return v, true
	}

	if len(e.cfg.AllowedRecipients) > 0 {
		if matched, _ := anyGlobMatch(e.cfg.AllowedRecipients, in.Recipient); !matched {
			reason := fmt.Sprintf("recipient %q does not match any allowed pattern", in.Recipient)
			v := intent.Verdict{
				Allowed: false,
				Layer:   intent.LayerPolicy,
				Reason:  reason,
				Details: map[string]any{"policy": RuleAllowedRecipients, "recipient": in.Recipient},
			}
			return v, true
		}
	}

	return intent.Verdict{}, false
}

func (e *Engine) checkCategory(in intent.PaymentIntent) (intent.Verdict, bool) {
	if len(e.cfg.AllowedCategories) == 0 {
		return intent.Verdict{}, false
	}
	raw, ok := in.Metadata["category"]
	if !ok {
		return intent.Verdict{}, false
	}
	category, ok := raw.(string)
	if !ok {
		return intent.Verdict{}, false
	}
	for _, allowed := range e.cfg.AllowedCategories {
		if allowed == category {
			return intent.Verdict{}, false
		}
	}
	reason := fmt.Sprintf("category %q is not in the allowed list", category)
	v := intent.Verdict{
		Allowed: false,
		Layer:   intent.LayerPolicy,
		Reason:  reason,
		Details: map[string]any{"policy": RuleAllowedCategories, "category": category},
	}
	return v, true
}

func (e *Engine) checkCooldown(in intent.PaymentIntent) (intent.Verdict, bool) {
	if e.cfg.CooldownMs == nil || e.lastTransaction == 0 {
		return intent.Verdict{}, false
	}
	now := time.Now().UTC().UnixMilli()
	elapsed := now - e.lastTransaction
	if elapsed < *e.cfg.CooldownMs {
		reason := fmt.Sprintf("cooldown active: %dms since last transaction, require %dms", elapsed, *e.cfg.CooldownMs)
		v := intent.Verdict{
			Allowed: false,
			Layer:   intent.LayerPolicy,
			Reason:  reason,
			Details: map[string]any{
				"policy":  RuleCooldownMs,
				"value":   float64(elapsed),
				"limit":   float64(*e.cfg.CooldownMs),
			},
		}
		return v, true
	}
	return intent.Verdict{}, false
}

func (e *Engine) checkRequireEscrow(in intent.PaymentIntent) (intent.Verdict, bool) {
	if e.cfg.RequireEscrowAbove == nil {
		return intent.Verdict{}, false
	}
	if in.Amount > *e.cfg.RequireEscrowAbove && in.Escrow == nil {
		reason := fmt.Sprintf("amount %v exceeds escrow-required threshold %v with no escrow configured", in.Amount, *e.cfg.RequireEscrowAbove)
		return blockVerdict(RuleRequireEscrowAbove, reason, in.Amount, *e.cfg.RequireEscrowAbove, nil), true
	}
	return intent.Verdict{}, false
}

// RecordTransaction adds the intent's amount to the daily and monthly
// buckets keyed by the intent's own timestamp, and advances
// lastTransaction to that timestamp. Only called by the gate after a
// successful adapter execution.
func (e *Engine) RecordTransaction(in intent.PaymentIntent) {
	e.daily[dayKey(in.CreatedAt)] += in.Amount
	e.monthly[monthKey(in.CreatedAt)] += in.Amount
	e.lastTransaction = in.CreatedAt
}

// Reset clears the daily/monthly buckets and the last-transaction
// timestamp.
func (e *Engine) Reset() {
	e.daily = make(map[string]float64)
	e.monthly = make(map[string]float64)
	e.lastTransaction = 0
}

// RequiresHumanApproval reports whether the intent's amount strictly
// exceeds the configured threshold. The boundary value itself does
// not require approval.
func (e *Engine) RequiresHumanApproval(in intent.PaymentIntent) bool {
	if e.cfg.RequireHumanApprovalAbove == nil {
		return false
	}
	return in.Amount > *e.cfg.RequireHumanApprovalAbove
}
