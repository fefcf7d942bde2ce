// Package mcpserver exposes the PrepDeck client core as MCP tools so
// LLM agents can check balances and drive credit purchases.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/prepdeck/prepdeck/internal/account"
	"github.com/prepdeck/prepdeck/internal/provider"
	"github.com/prepdeck/prepdeck/internal/purchase"
)

// Deps is the slice of the client core the tools operate on.
type Deps struct {
	Accounts  *account.Client
	Providers *provider.Selector
	Purchases *purchase.Service
}

// NewMCPServer creates a configured MCP server with all PrepDeck tools registered.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer("prepdeck", "1.0.0")
	h := NewHandlers(deps)

	s.AddTool(ToolListPackages, h.HandleListPackages)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolResolveProvider, h.HandleResolveProvider)
	s.AddTool(ToolBuyCredits, h.HandleBuyCredits)
	s.AddTool(ToolVerifyPurchase, h.HandleVerifyPurchase)

	return s
}
