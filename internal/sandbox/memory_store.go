package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/prepdeck/prepdeck/internal/pagination"
)

// MemoryStore is an in-memory store for demo/development mode.
type MemoryStore struct {
	users     map[string]*User
	purchases map[string][]*Purchase // by user ID, newest last
	mu        sync.RWMutex
}

// NewMemoryStore creates an in-memory sandbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		purchases: make(map[string][]*Purchase),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return ErrUserExists
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GrantCredits(ctx context.Context, userID string, credits int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	u.Credits += credits
	u.UpdatedAt = time.Now()
	return u.Credits, nil
}

func (m *MemoryStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.purchases[p.UserID] = append(m.purchases[p.UserID], &cp)
	return nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, userID, packageID string) (*Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.purchases[userID]
	for i := len(list) - 1; i >= 0; i-- {
		p := list[i]
		if p.PackageID == packageID && p.Status == PurchasePending {
			p.Status = PurchasePaid
			p.UpdatedAt = time.Now()
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPurchaseNotFound
}

func (m *MemoryStore) ListPurchases(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.purchases[userID]
	var result []*Purchase
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		p := list[i]
		if after != nil && !beforeCursor(p, after) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}

// beforeCursor reports whether p sorts after the cursor position in the
// newest-first ordering (created_at DESC, id DESC).
func beforeCursor(p *Purchase, c *pagination.Cursor) bool {
	if p.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return p.CreatedAt.Equal(c.CreatedAt) && p.ID < c.ID
}
