package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ==================== EXCHANGE SYMBOLS ====================

const symbolColumns = `id, exchange, token, quote, parsed_pair, price_precision,
	quantity_precision, tick_size, min_notional, min_price, max_price,
	gap_long_pct, gap_short_pct, multipliers, profit_pct, stop_pct,
	is_eligible, cooldown_until, last_mark_price, mark_price_updated_at, updated_at`

func scanSymbol(row pgx.Row) (*ExchangeSymbol, error) {
	s := &ExchangeSymbol{}
	err := row.Scan(
		&s.ID, &s.Exchange, &s.Token, &s.Quote, &s.ParsedPair, &s.PricePrecision,
		&s.QuantityPrecision, &s.TickSize, &s.MinNotional, &s.MinPrice, &s.MaxPrice,
		&s.GapLongPct, &s.GapShortPct, &s.Multipliers, &s.ProfitPct, &s.StopPct,
		&s.IsEligible, &s.CooldownUntil, &s.LastMarkPrice, &s.MarkPriceUpdatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan symbol: %w", err)
	}
	return s, nil
}

// UpsertSymbol inserts or refreshes one contract from exchangeInfo. Ladder
// parameters are operator-owned and never overwritten here.
func (db *DB) UpsertSymbol(ctx context.Context, s *ExchangeSymbol) error {
	query := `
		INSERT INTO exchange_symbols (
			exchange, token, quote, parsed_pair, price_precision,
			quantity_precision, tick_size, min_notional, min_price, max_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange, parsed_pair) DO UPDATE SET
			price_precision = EXCLUDED.price_precision,
			quantity_precision = EXCLUDED.quantity_precision,
			tick_size = EXCLUDED.tick_size,
			min_notional = EXCLUDED.min_notional,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`

	err := db.Pool.QueryRow(ctx, query,
		s.Exchange, s.Token, s.Quote, s.ParsedPair, s.PricePrecision,
		s.QuantityPrecision, s.TickSize, s.MinNotional, s.MinPrice, s.MaxPrice,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol: %w", err)
	}
	return nil
}

// GetSymbolByID retrieves one contract.
func (db *DB) GetSymbolByID(ctx context.Context, id int64) (*ExchangeSymbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM exchange_symbols WHERE id = $1`
	return scanSymbol(db.Pool.QueryRow(ctx, query, id))
}

// GetSymbolByPair retrieves one contract by exchange and wire pair.
func (db *DB) GetSymbolByPair(ctx context.Context, exchange, parsedPair string) (*ExchangeSymbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM exchange_symbols
		WHERE exchange = $1 AND parsed_pair = $2`
	return scanSymbol(db.Pool.QueryRow(ctx, query, exchange, parsedPair))
}

// ListEligibleSymbols returns contracts open for new ladders on one
// exchange, excluding those inside a pump cooldown.
func (db *DB) ListEligibleSymbols(ctx context.Context, exchange string) ([]*ExchangeSymbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM exchange_symbols
		WHERE exchange = $1 AND is_eligible
		AND (cooldown_until IS NULL OR cooldown_until < CURRENT_TIMESTAMP)
		ORDER BY parsed_pair`
	rows, err := db.Pool.Query(ctx, query, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*ExchangeSymbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// UpdateMarkPrice caches the latest mark price and its observation time.
func (db *DB) UpdateMarkPrice(ctx context.Context, id int64, mark decimal.Decimal, at time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE exchange_symbols SET last_mark_price = $2, mark_price_updated_at = $3,
			updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, mark, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update mark price: %w", err)
	}
	return nil
}

// SetSymbolCooldown blocks new ladders on the symbol until the deadline.
func (db *DB) SetSymbolCooldown(ctx context.Context, id int64, until time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE exchange_symbols SET cooldown_until = $2, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1`,
		id, until,
	)
	if err != nil {
		return fmt.Errorf("failed to set symbol cooldown: %w", err)
	}
	return nil
}

// SetSymbolEligibility flips a contract in or out of the tradable set.
func (db *DB) SetSymbolEligibility(ctx context.Context, id int64, eligible bool) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE exchange_symbols SET is_eligible = $2, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1`,
		id, eligible,
	)
	if err != nil {
		return fmt.Errorf("failed to set symbol eligibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
