package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prepdeck/prepdeck/internal/pending"
	"github.com/prepdeck/prepdeck/internal/purchase"
	"github.com/prepdeck/prepdeck/internal/reconcile"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleListPackages lists the purchasable credit packages.
func (h *Handlers) HandleListPackages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Available packages (%d):\n\n", len(purchase.Catalog))
	for i, pkg := range purchase.Catalog {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, pkg.ID)
		fmt.Fprintf(&sb, "   Credits: %d | Price: $%s\n", pkg.Credits, pkg.PriceUSD)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance returns the user's interview credit balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := h.deps.Accounts.UserID()
	if userID == "" {
		return mcp.NewToolResultError("No user session. Sign in before checking the balance."), nil
	}

	fresh := req.GetBool("fresh", false)
	balance, err := h.deps.Accounts.CreditBalance(ctx, userID, fresh)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Credit balance: %d", balance)), nil
}

// HandleResolveProvider resolves the payment provider for the user.
func (h *Handlers) HandleResolveProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := h.deps.Providers.Resolve(ctx, h.deps.Accounts.UserID())
	return mcp.NewToolResultText(fmt.Sprintf(
		"Payment provider: %s (%s)", info.DisplayName, info.Provider)), nil
}

// HandleBuyCredits runs a purchase end to end.
func (h *Handlers) HandleBuyCredits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	packageID := req.GetString("package_id", "")
	if packageID == "" {
		return mcp.NewToolResultError("package_id is required"), nil
	}

	result, err := h.deps.Purchases.Buy(ctx, packageID)
	if err != nil {
		switch {
		case errors.Is(err, purchase.ErrAuthRequired):
			return mcp.NewToolResultText(
				"No user session. The purchase was stored and will resume automatically after sign-in."), nil
		case errors.Is(err, purchase.ErrPurchaseInProgress):
			return mcp.NewToolResultError(
				"Another purchase is still being verified. Wait for it to finish or use verify_purchase."), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Purchase failed: %v", err)), nil
		}
	}

	if result.Deferred {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Checkout window was blocked; the page was handed to %s instead.\n"+
				"Complete the payment there. Verification resumes on the next session.",
			result.Provider.DisplayName)), nil
	}

	return mcp.NewToolResultText(formatOutcome(result.Package, result.Outcome)), nil
}

// HandleVerifyPurchase retries verification after a timeout.
func (h *Handlers) HandleVerifyPurchase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outcome, err := h.deps.Purchases.RetryVerification(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Nothing to verify: %v", err)), nil
	}

	switch outcome.Status {
	case reconcile.StatusReconciled:
		return mcp.NewToolResultText(fmt.Sprintf(
			"Credits verified. Balance: %d (after %d checks).", outcome.Balance, outcome.Attempts)), nil
	case reconcile.StatusTimedOut:
		return mcp.NewToolResultText(
			"Still no credit grant observed. The payment may not have settled yet; try verify_purchase again in a minute."), nil
	default:
		return mcp.NewToolResultText(fmt.Sprintf("Verification state: %s", outcome.Status)), nil
	}
}

func formatOutcome(pkg purchase.Package, out *reconcile.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Package: %s (%d credits, $%s)\n", pkg.ID, pkg.Credits, pkg.PriceUSD)

	switch out.Status {
	case reconcile.StatusReconciled:
		fmt.Fprintf(&sb, "Payment: Verified\n")
		fmt.Fprintf(&sb, "Balance: %d (confirmed after %d checks)\n", out.Balance, out.Attempts)
	case reconcile.StatusTimedOut:
		fmt.Fprintf(&sb, "Payment: Not yet verified\n")
		fmt.Fprintf(&sb, "Last observed balance: %d after %d checks.\n", out.Balance, out.Attempts)
		sb.WriteString("Use verify_purchase to run another verification cycle.\n")
	default:
		fmt.Fprintf(&sb, "Verification state: %s\n", out.Status)
	}
	return sb.String()
}

// ResumePendingText replays a stored pre-auth purchase and describes the
// result; used at startup by the stdio server.
func (h *Handlers) ResumePendingText(ctx context.Context) (string, bool) {
	result, err := h.deps.Purchases.ResumePending(ctx)
	if err != nil {
		if errors.Is(err, pending.ErrNoPending) {
			return "", false
		}
		return fmt.Sprintf("Resuming stored purchase failed: %v", err), true
	}
	if result.Deferred {
		return "Stored purchase resumed; checkout handed to the provider page.", true
	}
	return formatOutcome(result.Package, result.Outcome), true
}
