package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prepdeck/prepdeck/internal/pagination"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed sandbox store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sandbox tables if they don't exist. The goose
// migrations under migrations/ are authoritative; this keeps a fresh
// sandbox usable without running them.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         VARCHAR(64) PRIMARY KEY,
			email      VARCHAR(255) NOT NULL DEFAULT '',
			credits    INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS purchases (
			id         VARCHAR(40) PRIMARY KEY,
			user_id    VARCHAR(64) NOT NULL,
			package_id VARCHAR(40) NOT NULL,
			credits    INTEGER NOT NULL,
			provider   VARCHAR(40) NOT NULL,
			status     VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id);
		CREATE INDEX IF NOT EXISTS idx_purchases_status ON purchases(status);
	`)
	return err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	result, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Email, u.Credits, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserExists
	}
	return nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, credits, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Credits, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (p *PostgresStore) GrantCredits(ctx context.Context, userID string, credits int) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `
		UPDATE users SET credits = credits + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`, userID, credits).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

func (p *PostgresStore) CreatePurchase(ctx context.Context, pu *Purchase) error {
	now := time.Now()
	if pu.CreatedAt.IsZero() {
		pu.CreatedAt = now
	}
	pu.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO purchases (id, user_id, package_id, credits, provider, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pu.ID, pu.UserID, pu.PackageID, pu.Credits, pu.Provider, string(pu.Status), pu.CreatedAt, pu.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (p *PostgresStore) MarkPaid(ctx context.Context, userID, packageID string) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE purchases SET status = 'paid', updated_at = NOW()
		WHERE id = (
			SELECT id FROM purchases
			WHERE user_id = $1 AND package_id = $2 AND status = 'pending'
			ORDER BY created_at DESC LIMIT 1
		)
		RETURNING id, user_id, package_id, credits, provider, status, created_at, updated_at
	`, userID, packageID)

	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark purchase paid: %w", err)
	}
	return pu, nil
}

func (p *PostgresStore) ListPurchases(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error) {
	query := `
		SELECT id, user_id, package_id, credits, provider, status, created_at, updated_at
		FROM purchases WHERE user_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`
	args := []any{userID, limit}
	if after != nil {
		query = `
		SELECT id, user_id, package_id, credits, provider, status, created_at, updated_at
		FROM purchases WHERE user_id = $1 AND (created_at, id) < ($3, $4)
		ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, after.CreatedAt, after.ID)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Purchase
	for rows.Next() {
		pu, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pu)
	}
	return result, rows.Err()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...any) error
}

func scanPurchase(row scannable) (*Purchase, error) {
	var pu Purchase
	var status string
	err := row.Scan(&pu.ID, &pu.UserID, &pu.PackageID, &pu.Credits,
		&pu.Provider, &status, &pu.CreatedAt, &pu.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pu.Status = PurchaseStatus(status)
	return &pu, nil
}
