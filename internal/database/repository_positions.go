package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned before SQL runs when the requested status
// change is not in the lifecycle table.
var ErrInvalidTransition = errors.New("database: invalid position transition")

// ErrStaleTransition is returned when the optimistic WHERE matched no row:
// another workflow moved the position first.
var ErrStaleTransition = errors.New("database: position status changed concurrently")

// ==================== POSITIONS ====================

const positionColumns = `id, account_id, symbol_id, direction, status, leverage,
	leverage_reason, margin_mode, quantity_divider, total_notional,
	entry_mark_price, wap, profit_price, stop_price, realized_pnl,
	close_reason, last_error, opened_at, closed_at, created_at, updated_at`

func scanPosition(row pgx.Row) (*Position, error) {
	p := &Position{}
	err := row.Scan(
		&p.ID, &p.AccountID, &p.SymbolID, &p.Direction, &p.Status, &p.Leverage,
		&p.LeverageReason, &p.MarginMode, &p.QuantityDivider, &p.TotalNotional,
		&p.EntryMarkPrice, &p.Wap, &p.ProfitPrice, &p.StopPrice, &p.RealizedPnl,
		&p.CloseReason, &p.LastError, &p.OpenedAt, &p.ClosedAt, &p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	return p, nil
}

// CreatePosition inserts a fresh position in status new.
func (db *DB) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (account_id, symbol_id, direction, status, margin_mode)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	if p.Status == "" {
		p.Status = StatusNew
	}
	err := db.Pool.QueryRow(ctx, query,
		p.AccountID, p.SymbolID, p.Direction, p.Status, p.MarginMode,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// GetPositionByID retrieves one position.
func (db *DB) GetPositionByID(ctx context.Context, id int64) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`
	return scanPosition(db.Pool.QueryRow(ctx, query, id))
}

// ListPositionsByStatus returns positions in any of the given states.
func (db *DB) ListPositionsByStatus(ctx context.Context, statuses ...PositionStatus) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status = ANY($1) ORDER BY id`
	wire := make([]string, len(statuses))
	for i, s := range statuses {
		wire[i] = string(s)
	}
	rows, err := db.Pool.Query(ctx, query, wire)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// CountOpenPositions counts the account's non-terminal positions, for
// admission control.
func (db *DB) CountOpenPositions(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions
			WHERE account_id = $1 AND status NOT IN ('closed', 'cancelled', 'failed')`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return count, nil
}

// HasOpenPositionOnSymbol reports whether the account already runs a ladder
// on the symbol and direction.
func (db *DB) HasOpenPositionOnSymbol(ctx context.Context, accountID, symbolID int64, direction string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM positions
			WHERE account_id = $1 AND symbol_id = $2 AND direction = $3
			AND status NOT IN ('closed', 'cancelled', 'failed'))`,
		accountID, symbolID, direction,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open position: %w", err)
	}
	return exists, nil
}

// TransitionPosition moves the position from one status to another. The
// transition table is checked first, then the UPDATE carries the expected
// status in its WHERE clause so concurrent workflows cannot both win.
func (db *DB) TransitionPosition(ctx context.Context, id int64, from, to PositionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tag, err := db.Pool.Exec(ctx,
		`UPDATE positions SET status = $3, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("failed to transition position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %d, expected %s", ErrStaleTransition, id, from)
	}
	return nil
}

// UpdatePositionPlan records the sizing decision made while opening.
func (db *DB) UpdatePositionPlan(ctx context.Context, id int64, leverage int, reason string, divider, totalNotional, entryMark decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE positions SET leverage = $2, leverage_reason = $3, quantity_divider = $4,
			total_notional = $5, entry_mark_price = $6, opened_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, leverage, reason, divider, totalNotional, entryMark,
	)
	if err != nil {
		return fmt.Errorf("failed to update position plan: %w", err)
	}
	return nil
}

// UpdatePositionWap records a recalculated weighted average price and the
// derived TP and SL prices.
func (db *DB) UpdatePositionWap(ctx context.Context, id int64, wap, profitPrice, stopPrice decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE positions SET wap = $2, profit_price = $3, stop_price = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, wap, profitPrice, stopPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to update position wap: %w", err)
	}
	return nil
}

// FinalizePosition stamps the terminal bookkeeping fields. The status change
// itself goes through TransitionPosition.
func (db *DB) FinalizePosition(ctx context.Context, id int64, closeReason string, realizedPnl *decimal.Decimal, closedAt time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE positions SET close_reason = $2, realized_pnl = $3, closed_at = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, closeReason, realizedPnl, closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize position: %w", err)
	}
	return nil
}

// SetPositionError records the failure message shown to the operator.
func (db *DB) SetPositionError(ctx context.Context, id int64, message string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE positions SET last_error = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("failed to set position error: %w", err)
	}
	return nil
}
