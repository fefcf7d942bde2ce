// Package pending persists an intended purchase across an
// authentication redirect.
//
// At most one pending purchase exists per profile. It is consumed
// (deleted) exactly once, before being acted upon, so a re-render or
// reload can never double-submit the purchase.
package pending

import (
	"context"
	"errors"
)

// ErrNoPending is returned when no pending purchase is stored.
var ErrNoPending = errors.New("pending: no pending purchase")

// Record is the purchase the user intended before signing in.
type Record struct {
	PackageID string `json:"id"`
	Credits   int    `json:"credits,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// Store holds at most one pending purchase.
type Store interface {
	// Save replaces any existing pending purchase.
	Save(ctx context.Context, rec Record) error
	// Consume atomically reads and deletes the pending purchase.
	// Returns ErrNoPending when nothing is stored, including on every
	// call after a successful consume.
	Consume(ctx context.Context) (Record, error)
	// Peek reads without consuming, for display purposes only.
	Peek(ctx context.Context) (Record, error)
}
