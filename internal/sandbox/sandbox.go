// Package sandbox is a local stand-in for the PrepDeck backend.
//
// It implements the endpoints the client core consumes, plus a grant
// endpoint that plays the role of the payment provider's webhook, so the
// whole purchase flow (mint, pay, reconcile) can be exercised without a
// real provider.
package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/prepdeck/prepdeck/internal/pagination"
)

var (
	ErrUserNotFound     = errors.New("sandbox: user not found")
	ErrUserExists       = errors.New("sandbox: user already exists")
	ErrPurchaseNotFound = errors.New("sandbox: purchase not found")
)

// PurchaseStatus tracks a minted checkout through payment.
type PurchaseStatus string

const (
	PurchasePending PurchaseStatus = "pending"
	PurchasePaid    PurchaseStatus = "paid"
)

// User is a sandbox account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Purchase is one minted checkout and its payment state.
type Purchase struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	PackageID string         `json:"packageId"`
	Credits   int            `json:"credits"`
	Provider  string         `json:"provider"`
	Status    PurchaseStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store persists sandbox users and purchases.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// GrantCredits atomically adds credits and returns the new balance.
	GrantCredits(ctx context.Context, userID string, credits int) (int, error)
	CreatePurchase(ctx context.Context, p *Purchase) error
	// MarkPaid settles the most recent pending purchase for the user and
	// package, returning it. ErrPurchaseNotFound when none is pending.
	MarkPaid(ctx context.Context, userID, packageID string) (*Purchase, error)
	// ListPurchases returns up to limit purchases for the user, newest
	// first. A non-nil cursor resumes strictly after that position.
	ListPurchases(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error)
}
