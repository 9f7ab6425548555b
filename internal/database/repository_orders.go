package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ==================== ORDERS ====================

const orderColumns = `id, position_id, purpose, rung_index, client_order_id,
	exchange_order_id, is_algo, side, order_type, status, price, stop_price,
	quantity, filled_quantity, avg_fill_price, reference_price,
	reference_quantity, reference_status, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(
		&o.ID, &o.PositionID, &o.Purpose, &o.RungIndex, &o.ClientOrderID,
		&o.ExchangeOrderID, &o.IsAlgo, &o.Side, &o.OrderType, &o.Status,
		&o.Price, &o.StopPrice, &o.Quantity, &o.FilledQuantity, &o.AvgFillPrice,
		&o.ReferencePrice, &o.ReferenceQuantity, &o.ReferenceStatus,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return o, nil
}

// CreateOrder inserts the local mirror of a freshly placed order. The
// reference columns are seeded from the placed values in the same statement
// so the first observer pass sees no artificial drift.
func (db *DB) CreateOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (
			position_id, purpose, rung_index, client_order_id, exchange_order_id,
			is_algo, side, order_type, status, price, stop_price, quantity,
			reference_price, reference_quantity, reference_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $10, $12, $9)
		RETURNING id, created_at, updated_at`

	err := db.Pool.QueryRow(ctx, query,
		o.PositionID, o.Purpose, o.RungIndex, o.ClientOrderID, o.ExchangeOrderID,
		o.IsAlgo, o.Side, o.OrderType, o.Status, o.Price, o.StopPrice, o.Quantity,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	o.ReferencePrice = o.Price
	refQty := o.Quantity
	o.ReferenceQuantity = &refQty
	refStatus := o.Status
	o.ReferenceStatus = &refStatus
	return nil
}

// GetOrderByID retrieves one order.
func (db *DB) GetOrderByID(ctx context.Context, id int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(db.Pool.QueryRow(ctx, query, id))
}

// GetOrderByExchangeID retrieves one order by its exchange-side id.
func (db *DB) GetOrderByExchangeID(ctx context.Context, positionID int64, exchangeOrderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE position_id = $1 AND exchange_order_id = $2`
	return scanOrder(db.Pool.QueryRow(ctx, query, positionID, exchangeOrderID))
}

// ListOrdersForPosition returns every order row of the ladder.
func (db *DB) ListOrdersForPosition(ctx context.Context, positionID int64) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE position_id = $1 ORDER BY id`
	rows, err := db.Pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderFromExchange records the observed exchange-side state without
// touching the reference columns, so a detected drift stays visible until a
// workflow resolves it.
func (db *DB) UpdateOrderFromExchange(ctx context.Context, id int64, status string, filledQty decimal.Decimal, avgFillPrice *decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, filled_quantity = $3, avg_fill_price = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, status, filledQty, avgFillPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to update order from exchange: %w", err)
	}
	return nil
}

// CommitOrderChange applies an engine-initiated price/quantity change and
// moves the reference columns in the same statement. The observer compares
// live state against the references, so updating both together keeps the
// engine's own writes from ever looking like drift.
func (db *DB) CommitOrderChange(ctx context.Context, id int64, price *decimal.Decimal, quantity decimal.Decimal, status string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE orders SET
			price = $2, quantity = $3, status = $4,
			reference_price = $2, reference_quantity = $3, reference_status = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, price, quantity, status,
	)
	if err != nil {
		return fmt.Errorf("failed to commit order change: %w", err)
	}
	return nil
}

// ReplaceOrderIdentity rebinds the row to a recreated exchange order after a
// cancel-and-recreate, refreshing the references in the same commit.
func (db *DB) ReplaceOrderIdentity(ctx context.Context, id int64, clientOrderID, exchangeOrderID string, price *decimal.Decimal, quantity decimal.Decimal, status string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE orders SET
			client_order_id = $2, exchange_order_id = $3,
			price = $4, quantity = $5, status = $6, filled_quantity = 0,
			reference_price = $4, reference_quantity = $5, reference_status = $6,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, clientOrderID, exchangeOrderID, price, quantity, status,
	)
	if err != nil {
		return fmt.Errorf("failed to replace order identity: %w", err)
	}
	return nil
}
