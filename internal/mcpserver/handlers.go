package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentpay/firewall/internal/gate"
	"github.com/agentpay/firewall/internal/intent"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	gate *gate.Gate
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(g *gate.Gate) *Handlers {
	return &Handlers{gate: g}
}

func buildRequest(req mcp.CallToolRequest) gate.Request {
	r := gate.Request{
		Recipient: req.GetString("recipient", ""),
		Amount:    req.GetFloat("amount", 0),
		Currency:  req.GetString("currency", "USDC"),
		Purpose:   req.GetString("purpose", ""),
	}
	if protocol := req.GetString("protocol", ""); protocol != "" {
		r.Protocol = intent.Protocol(protocol)
	}
	if deadline := req.GetString("escrow_deadline", ""); deadline != "" {
		r.Escrow = &intent.EscrowConfig{Deadline: deadline}
	}
	return r
}

// HandleProposePayment runs a payment through the full gate pipeline.
func (h *Handlers) HandleProposePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request := buildRequest(req)
	if request.Recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	if request.Amount <= 0 {
		return mcp.NewToolResultError("amount must be greater than zero"), nil
	}

	result, err := h.gate.Pay(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment blocked: %v", err)), nil
	}

	if !result.Success {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Payment attempted over %s but the adapter reported failure: %s",
			result.Protocol, result.Error)), nil
	}

	if result.EscrowID != "" {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Escrow created for %.2f %s to %s\nEscrow ID: %s\nFunds are held until release, dispute, or auto-release.",
			result.Amount, result.Currency, result.Recipient, result.EscrowID)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Paid %.2f %s to %s over %s\nTransaction: %s",
		result.Amount, result.Currency, result.Recipient, result.Protocol, result.TransactionID)), nil
}

// HandleCheckPayment dry-runs a payment and reports the verdict.
func (h *Handlers) HandleCheckPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request := buildRequest(req)
	if request.Recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	if request.Amount <= 0 {
		return mcp.NewToolResultError("amount must be greater than zero"), nil
	}

	v := h.gate.Check(ctx, request)
	if !v.Allowed {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Would be blocked at the %s layer: %s", v.Layer, v.Reason)), nil
	}

	msg := "Would be allowed."
	if requires, _ := v.Details["requiresHumanApproval"].(bool); requires {
		msg = "Would be allowed, but requires human approval before settling."
	}
	return mcp.NewToolResultText(msg), nil
}
