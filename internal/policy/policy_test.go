package policy

import (
	"testing"
	"time"

	"github.com/agentpay/firewall/internal/intent"
)

func ptr(f float64) *float64 { return &f }

func baseIntent(amount float64) intent.PaymentIntent {
	return intent.PaymentIntent{
		Recipient: "agent://vendor",
		Amount:    amount,
		Currency:  "USD",
		CreatedAt: 1_700_000_000_000, // fixed UTC instant
	}
}

func TestEvaluateAllowsWhenNoRuleConfigured(t *testing.T) {
	e := New(intent.PolicyConfig{})
	v := e.Evaluate(baseIntent(100))
	if !v.Allowed {
		t.Fatalf("expected allowed, got %+v", v)
	}
}

func TestMaxPerTransactionBoundary(t *testing.T) {
	e := New(intent.PolicyConfig{MaxPerTransaction: ptr(100)})

	v := e.Evaluate(baseIntent(100))
	if !v.Allowed {
		t.Fatalf("amount == limit should be allowed, got %+v", v)
	}

	v = e.Evaluate(baseIntent(100.01))
	if v.Allowed {
		t.Fatal("amount > limit should be blocked")
	}
	if v.Details["policy"] != RuleMaxPerTransaction {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleMaxPerTransaction)
	}
}

func TestRequireEscrowAboveBoundary(t *testing.T) {
	e := New(intent.PolicyConfig{RequireEscrowAbove: ptr(500)})

	v := e.Evaluate(baseIntent(500))
	if !v.Allowed {
		t.Fatalf("amount == threshold without escrow should be allowed, got %+v", v)
	}

	v = e.Evaluate(baseIntent(500.01))
	if v.Allowed {
		t.Fatal("amount > threshold without escrow should be blocked")
	}
	if v.Details["policy"] != RuleRequireEscrowAbove {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleRequireEscrowAbove)
	}
}

func TestMaxDailyRollingCap(t *testing.T) {
	e := New(intent.PolicyConfig{MaxDaily: ptr(500)})

	for i := 0; i < 5; i++ {
		in := baseIntent(90)
		if v := e.Evaluate(in); !v.Allowed {
			t.Fatalf("transaction %d unexpectedly blocked: %+v", i, v)
		}
		e.RecordTransaction(in)
	}
	// running total is now 450; evaluating 90 more would be 540 > 500
	v := e.Evaluate(baseIntent(90))
	if v.Allowed {
		t.Fatal("expected sixth transaction to be blocked")
	}
	if v.Details["policy"] != RuleMaxDaily {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleMaxDaily)
	}

	// 49 more fits exactly at the boundary (450+49=499 <= 500)
	v = e.Evaluate(baseIntent(49))
	if !v.Allowed {
		t.Fatalf("expected 450+49=499 to be allowed, got %+v", v)
	}
}

func TestResetReturnsToFreshState(t *testing.T) {
	e := New(intent.PolicyConfig{MaxDaily: ptr(100), CooldownMs: func() *int64 { v := int64(1000); return &v }()})
	in := baseIntent(50)
	e.RecordTransaction(in)

	e.Reset()

	v := e.Evaluate(baseIntent(90))
	if !v.Allowed {
		t.Fatalf("expected fresh-equivalent engine to allow, got %+v", v)
	}
}

func TestBlocklistTakesPriorityOverAllowlist(t *testing.T) {
	e := New(intent.PolicyConfig{
		AllowedRecipients: []string{"agent://*"},
		BlockedRecipients: []string{"agent://vendor"},
	})
	v := e.Evaluate(baseIntent(10))
	if v.Allowed {
		t.Fatal("expected block")
	}
	if v.Details["policy"] != RuleBlockedRecipients {
		t.Fatalf("policy = %v, want %s (blocklist must win over allowlist match)", v.Details["policy"], RuleBlockedRecipients)
	}
}

func TestAllowlistBlocksNonMatchingRecipient(t *testing.T) {
	e := New(intent.PolicyConfig{AllowedRecipients: []string{"agent://known-*"}})
	v := e.Evaluate(baseIntent(10))
	if v.Allowed {
		t.Fatal("expected block: recipient not in allowlist")
	}
	if v.Details["policy"] != RuleAllowedRecipients {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleAllowedRecipients)
	}
}

func TestGlobStarMatchesAnything(t *testing.T) {
	if !globMatch("*", "anything-at-all") {
		t.Fatal("* should match anything")
	}
}

func TestGlobQuestionMarkMatchesExactlyOneChar(t *testing.T) {
	if !globMatch("ab?", "abc") {
		t.Fatal("ab? should match abc")
	}
	if globMatch("ab?", "abcd") {
		t.Fatal("ab? should not match a two-character suffix abcd")
	}
}

func TestGlobEscapesRegexMetacharacters(t *testing.T) {
	if !globMatch("shop.example.com", "shop.example.com") {
		t.Fatal("literal dot should match literally")
	}
	if globMatch("shop.example.com", "shopXexampleXcom") {
		t.Fatal("dot in glob pattern must not act as regex wildcard")
	}
}

func TestCategoryBlocksWhenNotAllowed(t *testing.T) {
	e := New(intent.PolicyConfig{AllowedCategories: []string{"software", "consulting"}})
	in := baseIntent(10)
	in.Metadata = map[string]any{"category": "gambling"}
	v := e.Evaluate(in)
	if v.Allowed {
		t.Fatal("expected block on disallowed category")
	}
	if v.Details["policy"] != RuleAllowedCategories {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleAllowedCategories)
	}
}

func TestCooldownBlocksRapidSuccession(t *testing.T) {
	cooldown := int64(60_000)
	e := New(intent.PolicyConfig{CooldownMs: &cooldown})
	in := baseIntent(10)
	// the cooldown is measured from the recorded intent's timestamp to
	// the wall clock, so record one created now
	in.CreatedAt = time.Now().UTC().UnixMilli()
	e.RecordTransaction(in)

	v := e.Evaluate(baseIntent(10))
	if v.Allowed {
		t.Fatal("expected cooldown to block immediate re-evaluation")
	}
	if v.Details["policy"] != RuleCooldownMs {
		t.Fatalf("policy = %v, want %s", v.Details["policy"], RuleCooldownMs)
	}
}

func TestRequiresHumanApprovalBoundary(t *testing.T) {
	e := New(intent.PolicyConfig{RequireHumanApprovalAbove: ptr(75)})
	if e.RequiresHumanApproval(baseIntent(75)) {
		t.Fatal("boundary value should not require approval")
	}
	if !e.RequiresHumanApproval(baseIntent(75.01)) {
		t.Fatal("above threshold should require approval")
	}
}
