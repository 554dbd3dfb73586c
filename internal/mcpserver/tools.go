package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the payment firewall's MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolProposePayment = mcp.NewTool("propose_payment",
	mcp.WithDescription(
		"Propose a payment to a recipient. The payment runs through the firewall "+
			"(prompt-injection and intent-drift checks), the policy engine (spend limits, "+
			"recipient allow/block lists, cooldowns), and human approval if the amount "+
			"requires it, before settling over the detected or requested protocol. "+
			"If the firewall or policy engine blocks the payment, no funds move."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Who gets paid: an agent:// or did: identifier, an http(s) URL, a merchant:/shop:/store: address, or a raw on-chain address")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount to pay, in the given currency's units")),
	mcp.WithString("currency",
		mcp.Description("Currency code, e.g. USDC or USD. Defaults to USDC.")),
	mcp.WithString("purpose",
		mcp.Description("Free-text description of what this payment is for; scanned by the firewall for injected instructions")),
	mcp.WithString("protocol",
		mcp.Description("Force a specific settlement protocol instead of letting the gate detect one"),
		mcp.Enum("x402", "ap2", "acp", "escrow")),
	mcp.WithString("escrow_deadline",
		mcp.Description("RFC3339 timestamp after which escrowed funds auto-release to the recipient. Presence of this field routes the payment through escrow.")),
)

var ToolCheckPayment = mcp.NewTool("check_payment",
	mcp.WithDescription(
		"Dry-run a payment through the firewall and policy engine without moving any "+
			"funds or recording spend. Use this to find out in advance whether a payment "+
			"would be blocked, and why."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Who would get paid")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount to check, in the given currency's units")),
	mcp.WithString("currency",
		mcp.Description("Currency code, e.g. USDC or USD. Defaults to USDC.")),
	mcp.WithString("purpose",
		mcp.Description("Free-text description of what this payment would be for")),
)
