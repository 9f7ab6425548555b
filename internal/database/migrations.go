package database

import (
	"context"
	"fmt"
)

// RunMigrations executes schema migrations. Every statement is idempotent so
// the engine can run them on every boot.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Trading accounts. Credentials live in Vault; vault_path points at
		// the secret holding key, secret and passphrase.
		`CREATE TABLE IF NOT EXISTS accounts (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE,
			exchange VARCHAR(20) NOT NULL,
			quote VARCHAR(10) NOT NULL DEFAULT 'USDT',
			vault_path VARCHAR(200) NOT NULL,
			margin_mode VARCHAR(10) NOT NULL DEFAULT 'crossed',
			leverage_cap INTEGER NOT NULL DEFAULT 20,
			max_position_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			notional_per_position DECIMAL(20, 8) NOT NULL,
			max_concurrent_positions INTEGER NOT NULL DEFAULT 5,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE accounts ADD COLUMN IF NOT EXISTS max_position_pct DECIMAL(10, 4) NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_exchange ON accounts(exchange)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_is_active ON accounts(is_active)`,

		// Tradable contracts, refreshed from exchangeInfo. Ladder parameters
		// (gaps, multipliers) are configured per symbol.
		`CREATE TABLE IF NOT EXISTS exchange_symbols (
			id SERIAL PRIMARY KEY,
			exchange VARCHAR(20) NOT NULL,
			token VARCHAR(20) NOT NULL,
			quote VARCHAR(10) NOT NULL,
			parsed_pair VARCHAR(30) NOT NULL,
			price_precision INTEGER NOT NULL DEFAULT 0,
			quantity_precision INTEGER NOT NULL DEFAULT 0,
			tick_size DECIMAL(20, 10) NOT NULL DEFAULT 0,
			min_notional DECIMAL(20, 8) NOT NULL DEFAULT 0,
			min_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			max_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			gap_long_pct DECIMAL(10, 4) NOT NULL DEFAULT 1,
			gap_short_pct DECIMAL(10, 4) NOT NULL DEFAULT 1,
			multipliers VARCHAR(100) NOT NULL DEFAULT '2,2,2,2',
			profit_pct DECIMAL(10, 4) NOT NULL DEFAULT 0.36,
			stop_pct DECIMAL(10, 4) NOT NULL DEFAULT 15,
			is_eligible BOOLEAN NOT NULL DEFAULT TRUE,
			cooldown_until TIMESTAMP,
			last_mark_price DECIMAL(20, 8),
			mark_price_updated_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (exchange, parsed_pair)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_symbols_eligible ON exchange_symbols(exchange, is_eligible)`,

		// Positions, one ladder lifecycle each. Status transitions are
		// guarded by the state machine and an optimistic WHERE clause.
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			symbol_id INTEGER NOT NULL REFERENCES exchange_symbols(id),
			direction VARCHAR(5) NOT NULL,
			status VARCHAR(12) NOT NULL DEFAULT 'new',
			leverage INTEGER NOT NULL DEFAULT 1,
			leverage_reason VARCHAR(30),
			margin_mode VARCHAR(10) NOT NULL DEFAULT 'crossed',
			quantity_divider DECIMAL(20, 8),
			total_notional DECIMAL(20, 8),
			entry_mark_price DECIMAL(20, 8),
			wap DECIMAL(20, 10),
			profit_price DECIMAL(20, 8),
			stop_price DECIMAL(20, 8),
			realized_pnl DECIMAL(20, 8),
			close_reason VARCHAR(40),
			last_error TEXT,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol_id)`,

		// Orders, with reference shadow columns: the last state this engine
		// itself wrote, so the observer can tell its own updates apart from
		// exchange-side drift.
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			position_id INTEGER NOT NULL REFERENCES positions(id),
			purpose VARCHAR(10) NOT NULL,
			rung_index INTEGER,
			client_order_id VARCHAR(64) NOT NULL DEFAULT '',
			exchange_order_id VARCHAR(64) NOT NULL DEFAULT '',
			is_algo BOOLEAN NOT NULL DEFAULT FALSE,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(15) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'NEW',
			price DECIMAL(20, 8),
			stop_price DECIMAL(20, 8),
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			filled_quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			avg_fill_price DECIMAL(20, 8),
			reference_price DECIMAL(20, 8),
			reference_quantity DECIMAL(20, 8),
			reference_status VARCHAR(20),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_exchange_order_id ON orders(exchange_order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

		// Durable workflow steps. block_uuid groups steps that run in
		// parallel; index orders blocks sequentially; child_block_uuid
		// fans a step out into a nested block.
		`CREATE TABLE IF NOT EXISTS steps (
			id SERIAL PRIMARY KEY,
			workflow VARCHAR(40) NOT NULL,
			job VARCHAR(60) NOT NULL,
			block_uuid UUID NOT NULL,
			child_block_uuid UUID,
			index INTEGER NOT NULL DEFAULT 0,
			account_id INTEGER REFERENCES accounts(id),
			position_id INTEGER REFERENCES positions(id),
			order_id INTEGER REFERENCES orders(id),
			state VARCHAR(12) NOT NULL DEFAULT 'pending',
			params JSONB NOT NULL DEFAULT '{}',
			last_error TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_block ON steps(block_uuid, index)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_state ON steps(state)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_position ON steps(position_id)`,

		// Notification delivery log, for dedup and audit.
		`CREATE TABLE IF NOT EXISTS notification_logs (
			id SERIAL PRIMARY KEY,
			account_id INTEGER REFERENCES accounts(id),
			group_name VARCHAR(40) NOT NULL,
			level VARCHAR(10) NOT NULL DEFAULT 'info',
			title VARCHAR(200) NOT NULL,
			message TEXT NOT NULL,
			dedup_key VARCHAR(120),
			sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_logs_dedup ON notification_logs(dedup_key, created_at)`,

		// Singleton engine settings row, including the kill switch and the
		// scheduler pause flag.
		`CREATE TABLE IF NOT EXISTS martingalian (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			kill_switch BOOLEAN NOT NULL DEFAULT FALSE,
			kill_switch_reason TEXT,
			scheduler_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE martingalian ADD COLUMN IF NOT EXISTS scheduler_enabled BOOLEAN NOT NULL DEFAULT TRUE`,
		`INSERT INTO martingalian (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("database migrations complete")
	return nil
}
