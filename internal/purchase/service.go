// Package purchase orchestrates the credit-purchase flow: provider
// selection, checkout, and balance reconciliation, with a durable
// pending purchase bridging the authentication redirect.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prepdeck/prepdeck/internal/account"
	"github.com/prepdeck/prepdeck/internal/checkout"
	"github.com/prepdeck/prepdeck/internal/logging"
	"github.com/prepdeck/prepdeck/internal/pending"
	"github.com/prepdeck/prepdeck/internal/provider"
	"github.com/prepdeck/prepdeck/internal/reconcile"
	"github.com/prepdeck/prepdeck/internal/traces"
)

var (
	// ErrAuthRequired is returned when a purchase was requested without
	// a session; the intent is persisted and replayed after sign-in.
	ErrAuthRequired = errors.New("purchase: authentication required")

	// ErrPurchaseInProgress rejects a new purchase while a
	// reconciliation session for a previous one is still polling.
	// Purchases are strictly serialized.
	ErrPurchaseInProgress = errors.New("purchase: another purchase is still being verified")
)

// CacheInvalidator drops cached account views after a purchase lands.
type CacheInvalidator interface {
	Invalidate(pathPrefix string)
}

// Service runs purchases end to end.
type Service struct {
	accounts    *account.Client
	providers   *provider.Selector
	checkout    *checkout.Service
	pending     pending.Store
	invalidator CacheInvalidator
	nav         checkout.Navigator
	clock       reconcile.Clock
	cfg         reconcile.Config
	logger      *slog.Logger

	mu     sync.Mutex
	buying bool
	active *reconcile.Session
}

// New creates a purchase service.
func New(accounts *account.Client, providers *provider.Selector,
	co *checkout.Service, pendingStore pending.Store,
	invalidator CacheInvalidator, nav checkout.Navigator,
	clock reconcile.Clock, cfg reconcile.Config, logger *slog.Logger) *Service {

	if clock == nil {
		clock = reconcile.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts:    accounts,
		providers:   providers,
		checkout:    co,
		pending:     pendingStore,
		invalidator: invalidator,
		nav:         nav,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// Result is the outcome of a purchase attempt.
type Result struct {
	Package  Package
	Provider provider.Info
	// Deferred marks the blocked-window fallback: the purchase continues
	// on the provider page and reconciliation resumes on next load.
	Deferred bool
	// Outcome is nil when Deferred.
	Outcome *reconcile.Outcome
}

// Buy purchases the package and verifies the credit grant. Purchases
// are serialized: a second Buy while one is reconciling returns
// ErrPurchaseInProgress. Without a session, the intent is stored and
// ErrAuthRequired returned; call ResumePending after sign-in.
func (s *Service) Buy(ctx context.Context, packageID string) (*Result, error) {
	pkg, err := FindPackage(packageID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithPurchaseID(ctx, pkg.ID)
	ctx, span := traces.StartSpan(ctx, "purchase.buy", traces.PackageID(pkg.ID))
	defer span.End()

	user, err := s.accounts.Me(ctx)
	if err != nil {
		if errors.Is(err, account.ErrNotAuthenticated) {
			// Persist the intent; it is consumed exactly once after the
			// authentication redirect completes.
			if saveErr := s.pending.Save(ctx, pending.Record{PackageID: pkg.ID, Credits: pkg.Credits}); saveErr != nil {
				return nil, fmt.Errorf("store pending purchase: %w", saveErr)
			}
			s.logger.Info("purchase deferred until sign-in", "package", pkg.ID)
			return nil, ErrAuthRequired
		}
		return nil, err
	}

	return s.buyAuthenticated(ctx, user, pkg)
}

// ResumePending consumes a purchase stored before authentication and
// replays it. The record is cleared before it is acted upon, so
// re-renders and reloads can never double-submit. Returns
// pending.ErrNoPending when there is nothing to resume.
func (s *Service) ResumePending(ctx context.Context) (*Result, error) {
	rec, err := s.pending.Consume(ctx)
	if err != nil {
		return nil, err
	}

	pkg, err := FindPackage(rec.PackageID)
	if err != nil {
		// Stored id no longer in the catalog; drop it rather than wedge.
		s.logger.Warn("pending purchase references unknown package, discarding",
			"package", rec.PackageID)
		return nil, err
	}

	user, err := s.accounts.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume pending purchase: %w", err)
	}

	s.logger.Info("resuming pending purchase", "package", pkg.ID, "user_id", user.ID)
	return s.buyAuthenticated(logging.WithPurchaseID(ctx, pkg.ID), user, pkg)
}

func (s *Service) buyAuthenticated(ctx context.Context, user *account.User, pkg Package) (*Result, error) {
	s.mu.Lock()
	if s.buying || (s.active != nil && s.active.Status() == reconcile.StatusPolling) {
		s.mu.Unlock()
		return nil, ErrPurchaseInProgress
	}
	s.buying = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.buying = false
		s.mu.Unlock()
	}()

	info := s.providers.Resolve(ctx, user.ID)
	s.logger.Info("provider resolved", "provider", info.Provider, "user_id", user.ID)

	session, err := s.checkout.Open(ctx, user.ID, pkg.ID)
	if err != nil {
		return nil, err
	}

	result := &Result{Package: pkg, Provider: info}
	if session.Deferred {
		// Whole page handed to the provider; no polling this lifetime.
		result.Deferred = true
		return result, nil
	}

	// Best-effort initial balance; an unavailable read defaults to 0 so
	// reconciliation still has a target.
	initial, err := s.accounts.CreditBalance(ctx, user.ID, false)
	if err != nil {
		s.logger.Warn("initial balance unavailable, assuming 0", "error", err)
		initial = 0
	}

	rs := reconcile.NewSession(user.ID, initial, pkg.Credits, s.cfg,
		s.accounts, session.Window, s.nav, s.invalidator, s.clock, s.logger)

	s.mu.Lock()
	s.active = rs
	s.mu.Unlock()

	outcome, err := rs.Run(ctx)

	s.mu.Lock()
	if s.active == rs && (err != nil || outcome.Status != reconcile.StatusTimedOut) {
		// Keep timed-out sessions around so RetryVerification can
		// re-enter them; everything else is finished.
		s.active = nil
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	return result, nil
}

// RetryVerification re-enters polling for a timed-out session, one
// more attempt cycle. Returns an error when there is nothing to retry.
func (s *Service) RetryVerification(ctx context.Context) (*reconcile.Outcome, error) {
	s.mu.Lock()
	rs := s.active
	s.mu.Unlock()

	if rs == nil {
		return nil, errors.New("purchase: no session awaiting verification")
	}

	outcome, err := rs.Retry(ctx)

	s.mu.Lock()
	if err != nil || outcome.Status != reconcile.StatusTimedOut {
		s.active = nil
	}
	s.mu.Unlock()

	return outcome, err
}

// Verifying reports whether a reconciliation session is still polling.
func (s *Service) Verifying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.Status() == reconcile.StatusPolling
}
