// PrepDeck MCP server - exposes the credit purchase flow as MCP tools for LLMs
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/prepdeck/prepdeck/internal/account"
	"github.com/prepdeck/prepdeck/internal/checkout"
	"github.com/prepdeck/prepdeck/internal/config"
	"github.com/prepdeck/prepdeck/internal/gateway"
	"github.com/prepdeck/prepdeck/internal/logging"
	"github.com/prepdeck/prepdeck/internal/mcpserver"
	"github.com/prepdeck/prepdeck/internal/pending"
	"github.com/prepdeck/prepdeck/internal/provider"
	"github.com/prepdeck/prepdeck/internal/purchase"
	"github.com/prepdeck/prepdeck/internal/reconcile"
	"github.com/prepdeck/prepdeck/internal/retry"
)

func main() {
	// Stdio transport owns stdout; keep logs on stderr.
	logger := logging.New("warn", "text")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	gw := gateway.New(gateway.Options{
		BaseURL: cfg.APIBaseURL,
		Logger:  logger,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Timeout: cfg.CallTimeout,
	})
	if cfg.AuthToken != "" {
		gw.SetAuthToken(cfg.AuthToken)
	}
	if cfg.Locale != "" {
		gw.SetLocale(cfg.Locale)
	}

	accounts := account.New(gw, cfg.UserID)
	providers := provider.New(gw, logger)
	nav := &checkout.BrowserNavigator{}
	co := checkout.New(gw, &checkout.BrowserOpener{}, nav, logger)

	path, err := pending.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pending store path: %v\n", err)
		os.Exit(1)
	}

	pollCfg := reconcile.DefaultConfig(cfg.SuccessURL)
	pollCfg.MaxAttempts = cfg.PollMaxAttempts
	pollCfg.Interval = cfg.PollInterval
	pollCfg.IntervalCap = cfg.PollIntervalCap

	purchases := purchase.New(accounts, providers, co,
		pending.NewFileStore(path), gw, nav, reconcile.RealClock(), pollCfg, logger)

	deps := mcpserver.Deps{Accounts: accounts, Providers: providers, Purchases: purchases}

	// A purchase stored before sign-in resumes as soon as a session exists.
	if cfg.UserID != "" {
		h := mcpserver.NewHandlers(deps)
		if msg, ok := h.ResumePendingText(context.Background()); ok {
			fmt.Fprintln(os.Stderr, msg)
		}
	}

	s := mcpserver.NewMCPServer(deps)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
