package ap2adapter

import (
	"context"
	"testing"

	"github.com/agentpay/firewall/internal/intent"
)

func TestCanHandleAgentAndDIDRecipients(t *testing.T) {
	a := New("")
	cases := map[string]bool{
		"agent://vendor-1":           true,
		"did:example:123":            true,
		"https://vendor.example/pay": false,
		"merchant:acme":              false,
	}
	for recipient, want := range cases {
		if got := a.CanHandle(intent.PaymentIntent{Recipient: recipient}); got != want {
			t.Errorf("CanHandle(%q) = %v, want %v", recipient, got, want)
		}
	}
}

func TestEndpointForPrefersMetadataOverDefault(t *testing.T) {
	a := New("https://default.example/mcp")

	in := intent.PaymentIntent{
		Recipient: "agent://vendor-1",
		Metadata:  map[string]any{"mcpEndpoint": "https://vendor-1.example/mcp"},
	}
	if got := a.endpointFor(in); got != "https://vendor-1.example/mcp" {
		t.Fatalf("expected metadata endpoint to win, got %q", got)
	}

	in2 := intent.PaymentIntent{Recipient: "agent://vendor-2"}
	if got := a.endpointFor(in2); got != "https://default.example/mcp" {
		t.Fatalf("expected default endpoint, got %q", got)
	}
}

func TestExecuteFailsWithoutAnyEndpoint(t *testing.T) {
	a := New("")
	_, err := a.Execute(context.Background(), intent.PaymentIntent{Recipient: "agent://vendor-1"})
	if err == nil {
		t.Fatal("expected an error when no endpoint is known")
	}
}
