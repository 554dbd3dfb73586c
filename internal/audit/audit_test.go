package audit

import (
	"context"
	"testing"

	"github.com/agentpay/firewall/internal/intent"
)

func TestMemoryStoreRecordAndListRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := FromExecution(intent.PaymentIntent{ID: "pay_1", Recipient: "https://vendor.example/pay", Amount: 10, Currency: "USDC"},
			"0xtx", "", OutcomeExecuted, "")
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recent, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected limit of 2 entries, got %d", len(recent))
	}
}

func TestMemoryStoreListByIntent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	in := intent.PaymentIntent{ID: "pay_xyz", Recipient: "https://vendor.example/pay", Amount: 10, Currency: "USDC"}
	v := intent.Verdict{Layer: intent.LayerClassifier, Reason: "injection detected"}

	_ = s.Record(ctx, FromVerdict(in, v, OutcomeFirewallBlocked))
	_ = s.Record(ctx, FromExecution(intent.PaymentIntent{ID: "pay_other"}, "0xtx", "", OutcomeExecuted, ""))

	entries, err := s.ListByIntent(ctx, "pay_xyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry for pay_xyz, got %d", len(entries))
	}
	if entries[0].Outcome != OutcomeFirewallBlocked {
		t.Fatalf("unexpected outcome: %v", entries[0].Outcome)
	}
	if entries[0].Reason != "injection detected" {
		t.Fatalf("unexpected reason: %q", entries[0].Reason)
	}
}

func TestFromExecutionCarriesEscrowID(t *testing.T) {
	in := intent.PaymentIntent{ID: "pay_esc", Recipient: "https://vendor.example/pay", Amount: 40, Currency: "USDC", Protocol: intent.ProtocolEscrow}
	e := FromExecution(in, "", "esc_123", OutcomeExecuted, "")
	if e.EscrowID != "esc_123" {
		t.Fatalf("expected escrow id to carry through, got %q", e.EscrowID)
	}
	if e.Protocol != string(intent.ProtocolEscrow) {
		t.Fatalf("unexpected protocol: %q", e.Protocol)
	}
}
