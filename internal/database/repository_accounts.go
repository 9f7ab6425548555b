package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("database: not found")

// ==================== ACCOUNTS ====================

// CreateAccount inserts a new trading account.
func (db *DB) CreateAccount(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (
			name, exchange, quote, vault_path, margin_mode, leverage_cap,
			max_position_pct, notional_per_position, max_concurrent_positions,
			is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := db.Pool.QueryRow(ctx, query,
		a.Name, a.Exchange, a.Quote, a.VaultPath, a.MarginMode, a.LeverageCap,
		a.MaxPositionPct, a.NotionalPerPosition, a.MaxConcurrentPositions,
		a.IsActive,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, name, exchange, quote, vault_path, margin_mode,
	leverage_cap, max_position_pct, notional_per_position,
	max_concurrent_positions, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Exchange, &a.Quote, &a.VaultPath, &a.MarginMode,
		&a.LeverageCap, &a.MaxPositionPct, &a.NotionalPerPosition,
		&a.MaxConcurrentPositions, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return a, nil
}

// GetAccountByID retrieves one account.
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(db.Pool.QueryRow(ctx, query, id))
}

// ListActiveAccounts returns every account the scheduler should drive.
func (db *DB) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE is_active ORDER BY id`
	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListAccounts returns every account, active or not.
func (db *DB) ListAccounts(ctx context.Context) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`
	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountActive toggles an account in or out of the trading set.
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE accounts SET is_active = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
