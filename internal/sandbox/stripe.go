package sandbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/prepdeck/prepdeck/internal/purchase"
)

// Minter produces the hosted checkout URL for a package.
type Minter interface {
	Mint(ctx context.Context, pkg purchase.Package, userID, userEmail string) (redirectURL string, sandboxMode bool, err error)
}

// StaticMinter returns canned sandbox URLs. Used when no payment
// provider is configured; the grant endpoint stands in for the webhook.
type StaticMinter struct {
	// BaseURL hosts the fake checkout pages, e.g. "https://pay.sandbox.prepdeck.io".
	BaseURL string
}

func (m *StaticMinter) Mint(_ context.Context, pkg purchase.Package, userID, _ string) (string, bool, error) {
	return fmt.Sprintf("%s/checkout?package=%s&user=%s", m.BaseURL, pkg.ID, userID), true, nil
}

// StripeMinter mints real Stripe Checkout sessions.
type StripeMinter struct {
	api        *client.API
	successURL string
	cancelURL  string
}

// NewStripeMinter creates a minter using the given secret key.
func NewStripeMinter(secretKey, successURL, cancelURL string) *StripeMinter {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeMinter{api: api, successURL: successURL, cancelURL: cancelURL}
}

func (m *StripeMinter) Mint(ctx context.Context, pkg purchase.Package, userID, userEmail string) (string, bool, error) {
	cents, err := priceCents(pkg.PriceUSD)
	if err != nil {
		return "", false, fmt.Errorf("package %s has unparseable price %q: %w", pkg.ID, pkg.PriceUSD, err)
	}

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(m.successURL),
		CancelURL:  stripe.String(m.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(cents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%d interview credits", pkg.Credits)),
				},
			},
		}},
		ClientReferenceID: stripe.String(userID),
	}
	if userEmail != "" {
		params.CustomerEmail = stripe.String(userEmail)
	}

	sess, err := m.api.CheckoutSessions.New(params)
	if err != nil {
		return "", false, fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, sess.Livemode == false, nil
}

// priceCents converts a "4.99"-style display price into cents.
func priceCents(price string) (int64, error) {
	f, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, err
	}
	return int64(f*100 + 0.5), nil
}
