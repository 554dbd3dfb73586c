package drift

import (
	"testing"

	"github.com/agentpay/firewall/internal/intent"
)

func TestCheckIdenticalIntentScoresOne(t *testing.T) {
	c := New("pay $100 to agent://vendor for march invoice within 2 hours")
	result := c.Check(intent.PaymentIntent{
		Amount:    100,
		Recipient: "agent://vendor",
		Currency:  "USD",
		Purpose:   "march invoice",
	})
	if result.SimilarityScore != 1.0 {
		t.Fatalf("similarity = %v, want 1.0, indicators=%v", result.SimilarityScore, result.Indicators)
	}
	if len(result.Indicators) != 0 {
		t.Fatalf("expected no indicators, got %v", result.Indicators)
	}
}

func TestCheckAmountDriftEmitsIndicator(t *testing.T) {
	c := New("pay $100 to agent://vendor")
	result := c.Check(intent.PaymentIntent{
		Amount:    10000,
		Recipient: "agent://vendor",
	})
	found := false
	for _, ind := range result.Indicators {
		if ind.Field == "amount" {
			found = true
			if ind.Severity != SeverityHigh {
				t.Errorf("expected high severity for large amount drift, got %v", ind.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected an amount drift indicator")
	}
}

func TestCheckRecipientSubstringMatch(t *testing.T) {
	c := New("pay $10 to agent://vendor-42")
	result := c.Check(intent.PaymentIntent{
		Amount:    10,
		Recipient: "agent://vendor-42-backup",
	})
	// a substring match scores 0.7: below the 0.8 indicator threshold,
	// but not below the 0.3 high-severity threshold
	found := false
	for _, ind := range result.Indicators {
		if ind.Field == "recipient" {
			found = true
			if ind.Severity != SeverityMedium {
				t.Errorf("substring recipient drift severity = %v, want medium", ind.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected a recipient drift indicator for a substring match scoring 0.7")
	}
}

func TestCheckRecipientSameHostDriftsButPartialCredit(t *testing.T) {
	c := New("pay $10 to https://vendor.example/old-path")
	result := c.Check(intent.PaymentIntent{
		Amount:    10,
		Recipient: "https://vendor.example/new-path/totally-different",
	})
	for _, ind := range result.Indicators {
		if ind.Field == "recipient" && ind.Severity == SeverityHigh {
			t.Fatalf("same-host recipient drift should not be high severity, got %v", ind)
		}
	}
}

func TestCheckCurrencyMismatchIsMedium(t *testing.T) {
	c := New("pay 10 usdc to agent://vendor")
	result := c.Check(intent.PaymentIntent{
		Amount:    10,
		Recipient: "agent://vendor",
		Currency:  "ETH",
	})
	found := false
	for _, ind := range result.Indicators {
		if ind.Field == "currency" {
			found = true
			if ind.Severity != SeverityMedium {
				t.Errorf("currency drift severity = %v, want medium", ind.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected a currency drift indicator")
	}
}

func TestCheckOnlyScoresFieldsPresentInOriginal(t *testing.T) {
	c := New("pay $10 to agent://vendor") // no purpose; "$10" extracts currency USD, which matches
	result := c.Check(intent.PaymentIntent{
		Amount:    10,
		Recipient: "agent://vendor",
		Currency:  "USD",
		Purpose:   "totally unrelated new purpose text",
	})
	for _, ind := range result.Indicators {
		if ind.Field == "purpose" || ind.Field == "currency" {
			t.Fatalf("fields absent from original should not be scored, got indicator %v", ind)
		}
	}
}

func TestCheckPurposeJaccardBothEmpty(t *testing.T) {
	c := New("pay $10 to agent://vendor please") // purpose "please" is only a stop word
	result := c.Check(intent.PaymentIntent{
		Amount:    10,
		Recipient: "agent://vendor",
		Purpose:   "",
	})
	for _, ind := range result.Indicators {
		if ind.Field == "purpose" {
			t.Fatalf("both-empty purpose should score 1.0 with no indicator, got %v", ind)
		}
	}
}
