// Package reconcile confirms that a credit purchase landed.
//
// Payment completes in an external checkout window whose outcome the
// client cannot observe directly, so a session polls the authoritative
// balance until it meets the expected post-purchase value or a bounded
// number of attempts elapses. The secondary window is a UI hint only:
// the polled balance is the single source of truth.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prepdeck/prepdeck/internal/checkout"
	"github.com/prepdeck/prepdeck/internal/traces"
)

// Status is the session state. Transitions:
// idle -> polling -> {reconciled | timedOut}, terminal exactly once.
type Status int

const (
	StatusIdle Status = iota
	StatusPolling
	StatusReconciled
	StatusTimedOut
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPolling:
		return "polling"
	case StatusReconciled:
		return "reconciled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// BalanceFetcher reads the authoritative credit balance. fresh forces a
// read that bypasses any client-side cache.
type BalanceFetcher interface {
	CreditBalance(ctx context.Context, userID string, fresh bool) (int, error)
}

// CacheInvalidator drops cached views by URL path prefix after the
// purchase lands.
type CacheInvalidator interface {
	Invalidate(pathPrefix string)
}

// Config bounds a reconciliation session.
type Config struct {
	MaxAttempts     int
	Interval        time.Duration // delay before the first poll and base for escalation
	IntervalCap     time.Duration // escalation ceiling; never below Interval
	CompletionDelay time.Duration // pause before navigating to the success view
	SuccessURL      string        // success view; credits and status are appended
}

// DefaultConfig polls every 3s escalating to 10s, about two minutes total.
func DefaultConfig(successURL string) Config {
	return Config{
		MaxAttempts:     20,
		Interval:        3 * time.Second,
		IntervalCap:     10 * time.Second,
		CompletionDelay: 1500 * time.Millisecond,
		SuccessURL:      successURL,
	}
}

// Outcome is the result of a finished session.
type Outcome struct {
	Status       Status
	Balance      int // last observed balance
	Attempts     int
	WindowClosed bool   // the user closed the checkout window at some point
	RedirectedTo string // success view URL, set on reconciled
}

// Session drives one purchase verification. Create with NewSession,
// run with Run; after a timeout, Retry re-enters polling for one more
// attempt cycle.
type Session struct {
	userID   string
	initial  int
	expected int
	cfg      Config

	fetcher     BalanceFetcher
	window      checkout.Window     // may be nil (deferred/blocked checkout)
	nav         checkout.Navigator  // may be nil
	invalidator CacheInvalidator    // may be nil
	clock       Clock
	logger      *slog.Logger

	mu           sync.Mutex
	status       Status
	attempt      int
	lastBalance  int
	windowClosed bool
	completed    bool // one-shot guard for completion side effects
}

// NewSession creates a session expecting initialBalance+credits.
// window, nav, and invalidator are optional collaborators.
func NewSession(userID string, initialBalance, credits int, cfg Config,
	fetcher BalanceFetcher, window checkout.Window, nav checkout.Navigator,
	invalidator CacheInvalidator, clock Clock, logger *slog.Logger) *Session {

	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IntervalCap < cfg.Interval {
		cfg.IntervalCap = cfg.Interval
	}
	return &Session{
		userID:      userID,
		initial:     initialBalance,
		expected:    initialBalance + credits,
		cfg:         cfg,
		fetcher:     fetcher,
		window:      window,
		nav:         nav,
		invalidator: invalidator,
		clock:       clock,
		logger:      logger,
		status:      StatusIdle,
		lastBalance: initialBalance,
	}
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExpectedBalance returns initial + purchased credits.
func (s *Session) ExpectedBalance() int { return s.expected }

// Run polls until the balance reconciles, attempts run out, or ctx is
// cancelled. Cancellation schedules no further tick and returns the
// context error.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.run",
		traces.UserID(s.userID), traces.Credits(s.expected-s.initial))
	defer span.End()

	s.mu.Lock()
	if s.status == StatusReconciled {
		// Already terminal; nothing to do.
		out := s.outcomeLocked()
		s.mu.Unlock()
		return out, nil
	}
	s.status = StatusPolling
	s.mu.Unlock()

	s.logger.Info("reconciliation started",
		"user_id", s.userID, "initial", s.initial, "expected", s.expected,
		"max_attempts", s.cfg.MaxAttempts)

	for i := 1; i <= s.cfg.MaxAttempts; i++ {
		select {
		case <-ctx.Done():
			sessionsTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case <-s.clock.After(s.intervalFor(i)):
		}

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		// A closed window is recorded but never stops polling: it says
		// nothing about whether the payment went through.
		if s.window != nil && s.window.Closed() {
			s.mu.Lock()
			first := !s.windowClosed
			s.windowClosed = true
			s.mu.Unlock()
			if first {
				s.logger.Info("checkout window closed by user, continuing to poll",
					"user_id", s.userID, "attempt", attempt)
			}
		}

		pollsTotal.Inc()
		balance, err := s.fetcher.CreditBalance(ctx, s.userID, true)
		if err != nil {
			// Transient: one failed balance check must not cancel an
			// otherwise-successful purchase.
			pollFailures.Inc()
			s.logger.Warn("balance poll failed, continuing",
				"user_id", s.userID, "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		s.lastBalance = balance
		s.mu.Unlock()

		if balance >= s.expected {
			s.complete(balance)
			attemptsToReconcile.Observe(float64(attempt))
			sessionsTotal.WithLabelValues("reconciled").Inc()
			s.mu.Lock()
			out := s.outcomeLocked()
			s.mu.Unlock()
			return out, nil
		}
	}

	s.mu.Lock()
	if s.status == StatusPolling {
		s.status = StatusTimedOut
		sessionsTotal.WithLabelValues("timed_out").Inc()
	}
	out := s.outcomeLocked()
	s.mu.Unlock()

	s.logger.Warn("reconciliation timed out",
		"user_id", s.userID, "expected", s.expected, "last_balance", out.Balance,
		"attempts", out.Attempts)
	return out, nil
}

// Retry re-enters polling for one more attempt cycle after a timeout.
// It is the manual "verify again" action; calling it in any other
// state is an error.
func (s *Session) Retry(ctx context.Context) (*Outcome, error) {
	s.mu.Lock()
	if s.status != StatusTimedOut {
		status := s.status
		s.mu.Unlock()
		return nil, fmt.Errorf("reconcile: retry from %s state", status)
	}
	s.status = StatusPolling
	s.mu.Unlock()
	return s.Run(ctx)
}

// complete runs the one-shot completion side effects: close the window
// if still open, drop cached account views, and after a short delay
// navigate to the success view with the observed balance.
func (s *Session) complete(balance int) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.status = StatusReconciled
	s.mu.Unlock()

	s.logger.Info("credits reconciled",
		"user_id", s.userID, "balance", balance, "expected", s.expected)

	if s.window != nil {
		s.window.Close()
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate("/users")
	}
	if s.nav != nil && s.cfg.SuccessURL != "" {
		if s.cfg.CompletionDelay > 0 {
			<-s.clock.After(s.cfg.CompletionDelay)
		}
		s.nav.Navigate(successURL(s.cfg.SuccessURL, balance))
	}
}

// intervalFor escalates linearly from Interval up to IntervalCap; the
// delay never decreases within a session.
func (s *Session) intervalFor(attempt int) time.Duration {
	d := s.cfg.Interval + time.Duration(attempt-1)*(s.cfg.Interval/2)
	if d > s.cfg.IntervalCap {
		return s.cfg.IntervalCap
	}
	return d
}

func (s *Session) outcomeLocked() *Outcome {
	out := &Outcome{
		Status:       s.status,
		Balance:      s.lastBalance,
		Attempts:     s.attempt,
		WindowClosed: s.windowClosed,
	}
	if s.status == StatusReconciled {
		out.RedirectedTo = successURL(s.cfg.SuccessURL, s.lastBalance)
	}
	return out
}

func successURL(base string, credits int) string {
	return fmt.Sprintf("%s?status=approved&credits=%d", base, credits)
}
