package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PrepDeck MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListPackages = mcp.NewTool("list_packages",
	mcp.WithDescription(
		"List the credit packages available for purchase on PrepDeck. "+
			"Returns each package's id, credit amount, and display price. "+
			"Use this before buy_credits to pick a package."),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check the signed-in user's current interview credit balance."),
	mcp.WithBoolean("fresh",
		mcp.Description("Bypass the client cache and read the authoritative balance from the backend")),
)

var ToolResolveProvider = mcp.NewTool("resolve_provider",
	mcp.WithDescription(
		"Resolve which payment provider serves the current user. "+
			"Selection is geo-based on the backend; failures fall back to the default provider."),
)

var ToolBuyCredits = mcp.NewTool("buy_credits",
	mcp.WithDescription(
		"Buy a credit package. Opens the provider checkout in a browser window "+
			"and verifies the credit grant by polling the balance. "+
			"If verification times out, use verify_purchase to retry."),
	mcp.WithString("package_id",
		mcp.Required(),
		mcp.Description("Package to buy (see list_packages, e.g. 'pack_5')")),
)

var ToolVerifyPurchase = mcp.NewTool("verify_purchase",
	mcp.WithDescription(
		"Retry verification of a purchase whose credit grant did not land in time. "+
			"Runs one more polling cycle against the balance."),
)
