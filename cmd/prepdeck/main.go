// PrepDeck CLI - buy and verify interview credits from the terminal
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/prepdeck/prepdeck/internal/account"
	"github.com/prepdeck/prepdeck/internal/checkout"
	"github.com/prepdeck/prepdeck/internal/config"
	"github.com/prepdeck/prepdeck/internal/gateway"
	"github.com/prepdeck/prepdeck/internal/logging"
	"github.com/prepdeck/prepdeck/internal/pending"
	"github.com/prepdeck/prepdeck/internal/provider"
	"github.com/prepdeck/prepdeck/internal/purchase"
	"github.com/prepdeck/prepdeck/internal/reconcile"
	"github.com/prepdeck/prepdeck/internal/retry"
	"github.com/prepdeck/prepdeck/internal/traces"
)

const usage = `prepdeck - interview credit purchases

Usage:
  prepdeck packages              List purchasable credit packages
  prepdeck balance [-fresh]      Show the current credit balance
  prepdeck provider              Show the payment provider for this account
  prepdeck buy <package_id>      Buy a package and verify the credit grant
  prepdeck resume                Replay a purchase stored before sign-in
  prepdeck verify                Retry verification after a timeout

Configuration comes from the environment (or a .env file):
API_BASE_URL, AUTH_TOKEN, USER_ID, LOCALE, SUCCESS_URL, POLL_* and RETRY_*.
`

type app struct {
	cfg       *config.Config
	accounts  *account.Client
	providers *provider.Selector
	purchases *purchase.Service
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := logging.New(getEnvDefault("LOG_LEVEL", "warn"), "text")

	cfg, err := config.Load()
	if err != nil {
		fatal("config error: %v", err)
	}

	ctx := context.Background()
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	} else {
		defer func() { _ = shutdownTraces(context.Background()) }()
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
		fatal("pending store path: %v", err)
	}

	pollCfg := reconcile.DefaultConfig(cfg.SuccessURL)
	pollCfg.MaxAttempts = cfg.PollMaxAttempts
	pollCfg.Interval = cfg.PollInterval
	pollCfg.IntervalCap = cfg.PollIntervalCap

	a := &app{
		cfg:       cfg,
		accounts:  accounts,
		providers: providers,
		purchases: purchase.New(accounts, providers, co,
			pending.NewFileStore(path), gw, nav, reconcile.RealClock(), pollCfg, logger),
	}

	switch os.Args[1] {
	case "packages":
		a.cmdPackages()
	case "balance":
		a.cmdBalance(ctx, os.Args[2:])
	case "provider":
		a.cmdProvider(ctx)
	case "buy":
		a.cmdBuy(ctx, os.Args[2:])
	case "resume":
		a.cmdResume(ctx)
	case "verify":
		a.cmdVerify(ctx)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func (a *app) cmdPackages() {
	for _, p := range purchase.Catalog {
		fmt.Printf("%-10s %3d credits  $%s\n", p.ID, p.Credits, p.PriceUSD)
	}
}

func (a *app) cmdBalance(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	fresh := fs.Bool("fresh", false, "bypass the cached account view")
	_ = fs.Parse(args)

	if a.accounts.UserID() == "" {
		fatal("not signed in: set USER_ID and AUTH_TOKEN")
	}
	balance, err := a.accounts.CreditBalance(ctx, a.accounts.UserID(), *fresh)
	if err != nil {
		fatal("fetch balance: %v", err)
	}
	fmt.Printf("%d credits\n", balance)
}

func (a *app) cmdProvider(ctx context.Context) {
	info := a.providers.Resolve(ctx, a.accounts.UserID())
	fmt.Printf("%s (%s)\n", info.DisplayName, info.Provider)
}

func (a *app) cmdBuy(ctx context.Context, args []string) {
	if len(args) < 1 {
		fatal("usage: prepdeck buy <package_id>")
	}
	res, err := a.purchases.Buy(ctx, args[0])
	a.reportPurchase(res, err)
}

func (a *app) cmdResume(ctx context.Context) {
	res, err := a.purchases.ResumePending(ctx)
	if errors.Is(err, pending.ErrNoPending) {
		fmt.Println("No pending purchase to resume.")
		return
	}
	a.reportPurchase(res, err)
}

func (a *app) cmdVerify(ctx context.Context) {
	out, err := a.purchases.RetryVerification(ctx)
	if err != nil {
		fatal("verify: %v", err)
	}
	printOutcome(out)
}

func (a *app) reportPurchase(res *purchase.Result, err error) {
	switch {
	case errors.Is(err, purchase.ErrAuthRequired):
		fmt.Println("Purchase stored. Sign in, then run `prepdeck resume`.")
	case errors.Is(err, purchase.ErrPurchaseInProgress):
		fatal("another purchase is still being verified")
	case err != nil:
		fatal("purchase: %v", err)
	case res.Deferred:
		fmt.Println("Checkout opened in the browser; credits will be verified on the next run.")
	default:
		fmt.Printf("Bought %s via %s.\n", res.Package.ID, res.Provider.DisplayName)
		printOutcome(res.Outcome)
	}
}

func printOutcome(out *reconcile.Outcome) {
	switch out.Status {
	case reconcile.StatusReconciled:
		fmt.Printf("Credits verified after %d attempt(s). Balance: %d\n", out.Attempts, out.Balance)
	case reconcile.StatusTimedOut:
		fmt.Printf("Verification timed out after %d attempt(s); last balance %d.\n", out.Attempts, out.Balance)
		fmt.Println("Run `prepdeck verify` to retry, or check the dashboard.")
	default:
		fmt.Printf("Verification ended with status %v (balance %d).\n", out.Status, out.Balance)
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
