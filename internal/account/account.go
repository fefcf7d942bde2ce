// Package account reads the authenticated user and credit balance.
//
// The backend is the only source of truth for the balance; this package
// only ever observes snapshots of it.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/prepdeck/prepdeck/internal/apierror"
	"github.com/prepdeck/prepdeck/internal/gateway"
)

// ErrNotAuthenticated is returned when no user session exists.
var ErrNotAuthenticated = errors.New("account: not authenticated")

// User is the backend's view of the signed-in user.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Credits int    `json:"credits"`
}

// Client fetches account snapshots through the request gateway.
type Client struct {
	gw     *gateway.Client
	userID string
}

// New creates an account client. userID identifies the current session;
// it may be empty until sign-in completes.
func New(gw *gateway.Client, userID string) *Client {
	return &Client{gw: gw, userID: userID}
}

// SetUserID installs the current session's user id after sign-in.
func (c *Client) SetUserID(userID string) { c.userID = userID }

// UserID returns the current session's user id, empty if signed out.
func (c *Client) UserID() string { return c.userID }

type meResponse struct {
	User *User `json:"user"`
}

// Me returns the current user, or ErrNotAuthenticated when no session
// exists or the backend rejects the credentials.
func (c *Client) Me(ctx context.Context) (*User, error) {
	if c.userID == "" {
		return nil, ErrNotAuthenticated
	}

	var resp meResponse
	err := c.gw.GetJSON(ctx, "/users/me?userId="+url.QueryEscape(c.userID), &resp, gateway.CallOptions{})
	if err != nil {
		if apierror.IsUnauthorized(err) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	if resp.User == nil {
		return nil, fmt.Errorf("fetch current user: empty response")
	}
	return resp.User, nil
}

// CreditBalance returns the user's credit balance. fresh bypasses the
// gateway's conditional cache and in-flight dedup so reconciliation
// polling always observes the authoritative value.
func (c *Client) CreditBalance(ctx context.Context, userID string, fresh bool) (int, error) {
	var resp meResponse
	opts := gateway.CallOptions{}
	if fresh {
		opts.SkipCache = true
		opts.NoDedupe = true
	}
	err := c.gw.GetJSON(ctx, "/users/me?userId="+url.QueryEscape(userID), &resp, opts)
	if err != nil {
		return 0, fmt.Errorf("fetch credit balance: %w", err)
	}
	if resp.User == nil {
		return 0, fmt.Errorf("fetch credit balance: empty response")
	}
	return resp.User.Credits, nil
}
