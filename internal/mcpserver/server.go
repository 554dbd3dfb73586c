package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentpay/firewall/internal/gate"
)

// NewMCPServer creates a configured MCP server exposing the payment
// firewall's gate as propose_payment and check_payment tools.
func NewMCPServer(g *gate.Gate) *server.MCPServer {
	s := server.NewMCPServer("agentpay-firewall", "1.0.0")
	h := NewHandlers(g)

	s.AddTool(ToolProposePayment, h.HandleProposePayment)
	s.AddTool(ToolCheckPayment, h.HandleCheckPayment)

	return s
}
