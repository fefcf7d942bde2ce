// Package checkout mints a payment redirect for a chosen package and
// hosts it in a secondary browser window.
//
// The window is an external, weakly-held resource: the app never
// assumes it stays open, or that it opened at all. When it cannot be
// opened the session degrades to a full-page navigation and credit
// reconciliation is deferred to the next page load.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prepdeck/prepdeck/internal/gateway"
	"github.com/prepdeck/prepdeck/internal/traces"
)

// ErrWindowBlocked is returned by an Opener when the secondary window
// cannot be created (popup blocker, headless environment).
var ErrWindowBlocked = errors.New("checkout: secondary window blocked")

// Fixed size of the secondary checkout window.
const (
	WindowWidth  = 480
	WindowHeight = 720
)

// Window is the handle to an open secondary window.
type Window interface {
	// Closed reports whether the user has closed the window. A closed
	// window is a UI hint only, never evidence of payment outcome.
	Closed() bool
	// Close force-closes the window. Safe to call repeatedly or after
	// the user already closed it.
	Close()
}

// Geometry positions the secondary window on the caller's screen.
type Geometry struct {
	Width, Height int
	Left, Top     int
}

// Opener creates secondary windows. Implementations report the screen
// size so the service can center the window.
type Opener interface {
	ScreenSize() (width, height int)
	Open(url string, g Geometry) (Window, error)
}

// Navigator performs a full-page navigation, used both for the blocked-
// window fallback and for the final success view.
type Navigator interface {
	Navigate(url string)
}

// Session is the outcome of opening a checkout.
type Session struct {
	RedirectURL string
	Provider    string
	SandboxMode bool

	// Window is nil when Deferred is true.
	Window Window
	// Deferred marks the full-page fallback: reconciliation must not
	// poll in the current page lifetime.
	Deferred bool
}

// Preference is a minted Mercado Pago checkout preference.
type Preference struct {
	PreferenceID     string `json:"preferenceId"`
	InitPoint        string `json:"initPoint"`
	SandboxInitPoint string `json:"sandboxInitPoint"`
}

// URL picks the init point for the given mode.
func (p Preference) URL(sandbox bool) string {
	if sandbox && p.SandboxInitPoint != "" {
		return p.SandboxInitPoint
	}
	return p.InitPoint
}

// Service opens checkout sessions through the request gateway.
type Service struct {
	gw     *gateway.Client
	opener Opener
	nav    Navigator
	logger *slog.Logger
}

// New creates a checkout service.
func New(gw *gateway.Client, opener Opener, nav Navigator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, opener: opener, nav: nav, logger: logger}
}

type geoRequest struct {
	PackageID string `json:"packageId"`
}

type geoResponse struct {
	Status string `json:"status"`
	Data   *struct {
		RedirectURL string `json:"redirectUrl"`
		Provider    string `json:"provider"`
		SandboxMode bool   `json:"sandboxMode"`
	} `json:"data"`
}

// Open mints a redirect target for the package and opens it in a
// centered secondary window. A blocked window falls back to full-page
// navigation (Deferred). A failed mint is a purchase-initiation error:
// no window is opened and no reconciliation session may start.
func (s *Service) Open(ctx context.Context, userID, packageID string) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.open",
		traces.UserID(userID), traces.PackageID(packageID))
	defer span.End()

	var resp geoResponse
	if err := s.gw.PostJSON(ctx, "/payment/geo", geoRequest{PackageID: packageID}, &resp); err != nil {
		return nil, fmt.Errorf("mint checkout redirect: %w", err)
	}
	if resp.Data == nil || resp.Data.RedirectURL == "" {
		return nil, fmt.Errorf("mint checkout redirect: empty response")
	}

	session := &Session{
		RedirectURL: resp.Data.RedirectURL,
		Provider:    resp.Data.Provider,
		SandboxMode: resp.Data.SandboxMode,
	}

	win, err := s.opener.Open(session.RedirectURL, s.centered())
	if err != nil {
		if !errors.Is(err, ErrWindowBlocked) {
			s.logger.Warn("window open failed, treating as blocked", "error", err)
		}
		// Blocked: hand the whole page to the provider. Reconciliation
		// happens on the next page load, not here.
		s.logger.Info("secondary window blocked, falling back to full-page redirect",
			"provider", session.Provider)
		s.nav.Navigate(session.RedirectURL)
		session.Deferred = true
		return session, nil
	}

	session.Window = win
	return session, nil
}

// Preference mints a Mercado Pago preference for the package.
func (s *Service) Preference(ctx context.Context, userID, userEmail, packageID string) (*Preference, error) {
	body := struct {
		PackageID string `json:"packageId"`
		UserID    string `json:"userId"`
		UserEmail string `json:"userEmail"`
	}{packageID, userID, userEmail}

	var resp struct {
		Status     string      `json:"status"`
		Preference *Preference `json:"preference"`
	}
	if err := s.gw.PostJSON(ctx, "/payment/preference", body, &resp); err != nil {
		return nil, fmt.Errorf("mint payment preference: %w", err)
	}
	if resp.Preference == nil || resp.Preference.InitPoint == "" {
		return nil, fmt.Errorf("mint payment preference: empty response")
	}
	return resp.Preference, nil
}

func (s *Service) centered() Geometry {
	screenW, screenH := s.opener.ScreenSize()
	g := Geometry{Width: WindowWidth, Height: WindowHeight}
	if screenW > WindowWidth {
		g.Left = (screenW - WindowWidth) / 2
	}
	if screenH > WindowHeight {
		g.Top = (screenH - WindowHeight) / 2
	}
	return g
}
