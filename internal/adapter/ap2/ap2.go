// Package ap2adapter dispatches agent-to-agent payments to the
// recipient's own MCP endpoint, for intents addressed with an
// agent:// or did: identifier.
package ap2adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/intent"
)

// Name is the protocol identifier the gate routes on.
const Name = "ap2"

// Adapter calls a counterparty agent's "receive_payment" MCP tool over
// streamable HTTP.
type Adapter struct {
	defaultEndpoint string
}

// New builds an ap2 adapter. defaultEndpoint is used when an intent's
// metadata doesn't carry a more specific mcpEndpoint.
func New(defaultEndpoint string) *Adapter {
	return &Adapter{defaultEndpoint: defaultEndpoint}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CanHandle(in intent.PaymentIntent) bool {
	return strings.HasPrefix(in.Recipient, "agent://") || strings.HasPrefix(in.Recipient, "did:")
}

func (a *Adapter) Execute(ctx context.Context, in intent.PaymentIntent) (adapter.PaymentResult, error) {
	endpoint := a.endpointFor(in)
	if endpoint == "" {
		return adapter.PaymentResult{}, fmt.Errorf("ap2: no MCP endpoint known for recipient %q", in.Recipient)
	}

	mcpClient, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("ap2: connecting to counterparty: %w", err)
	}
	defer mcpClient.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentpay-firewall", Version: "1.0.0"}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("ap2: initializing session with %q: %w", endpoint, err)
	}

	toolReq := mcp.CallToolRequest{}
	toolReq.Params.Name = "receive_payment"
	toolReq.Params.Arguments = map[string]any{
		"intent_id": in.ID,
		"amount":    in.Amount,
		"currency":  in.Currency,
		"purpose":   in.Purpose,
	}

	res, err := mcpClient.CallTool(ctx, toolReq)
	if err != nil {
		return adapter.PaymentResult{}, fmt.Errorf("ap2: counterparty call failed: %w", err)
	}

	result := adapter.PaymentResult{
		Protocol:  Name,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Recipient: in.Recipient,
		Timestamp: time.Now().UTC().UnixMilli(),
	}
	if res.IsError {
		result.Success = false
		result.Error = extractText(res)
	} else {
		result.Success = true
		result.TransactionID = extractText(res)
	}
	return result, nil
}

func (a *Adapter) endpointFor(in intent.PaymentIntent) string {
	if ep, ok := in.Metadata["mcpEndpoint"].(string); ok && ep != "" {
		return ep
	}
	return a.defaultEndpoint
}

func extractText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
