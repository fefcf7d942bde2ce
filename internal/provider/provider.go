// Package provider resolves which payment provider serves the current
// user. Selection is geo-based on the backend and purely advisory on
// the client: any failure falls back to the fixed default instead of
// blocking the purchase.
package provider

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/prepdeck/prepdeck/internal/gateway"
)

// The fallback pair used whenever resolution fails. Centralized here so
// call sites never carry their own copy.
const (
	DefaultProvider    = "mercadopago"
	DefaultDisplayName = "Mercado Pago"
)

// Info identifies a payment provider.
type Info struct {
	Provider    string
	DisplayName string
}

// Default returns the static fallback provider.
func Default() Info {
	return Info{Provider: DefaultProvider, DisplayName: DefaultDisplayName}
}

// Selector resolves the provider for a user.
type Selector struct {
	gw     *gateway.Client
	logger *slog.Logger
}

// New creates a Selector.
func New(gw *gateway.Client, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{gw: gw, logger: logger}
}

type providerResponse struct {
	Status string `json:"status"`
	Data   *struct {
		Provider string `json:"provider"`
		Name     string `json:"name"`
	} `json:"data"`
}

// Resolve asks the backend which provider to use for userID. It never
// returns an error: network failures, malformed responses, and absent
// data all degrade to the default pair.
func (s *Selector) Resolve(ctx context.Context, userID string) Info {
	var resp providerResponse
	err := s.gw.GetJSON(ctx, "/payment/provider?userId="+url.QueryEscape(userID), &resp, gateway.CallOptions{})
	if err != nil {
		s.logger.Warn("provider resolution failed, using default",
			"user_id", userID, "error", err)
		return Default()
	}
	if resp.Data == nil || resp.Data.Provider == "" {
		s.logger.Warn("provider resolution returned no data, using default", "user_id", userID)
		return Default()
	}

	name := resp.Data.Name
	if name == "" {
		name = resp.Data.Provider
	}
	return Info{Provider: resp.Data.Provider, DisplayName: name}
}
