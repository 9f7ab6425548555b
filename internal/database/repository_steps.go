package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"
)

// ==================== STEPS ====================

const stepColumns = `id, workflow, job, block_uuid, child_block_uuid, index,
	account_id, position_id, order_id, state, params, last_error, retry_count,
	started_at, completed_at, created_at, updated_at`

func scanStep(row pgx.Row) (*Step, error) {
	s := &Step{}
	err := row.Scan(
		&s.ID, &s.Workflow, &s.Job, &s.BlockUUID, &s.ChildBlockUUID, &s.Index,
		&s.AccountID, &s.PositionID, &s.OrderID, &s.State, &s.Params,
		&s.LastError, &s.RetryCount, &s.StartedAt, &s.CompletedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan step: %w", err)
	}
	return s, nil
}

// InsertSteps persists a whole block atomically, so a crash can never leave
// half a workflow enqueued.
func (db *DB) InsertSteps(ctx context.Context, steps []*Step) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin step insert: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO steps (
			workflow, job, block_uuid, child_block_uuid, index,
			account_id, position_id, order_id, state, params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	for _, s := range steps {
		if s.State == "" {
			s.State = StepPending
		}
		params := s.Params
		if len(params) == 0 {
			params = []byte("{}")
		}
		err := tx.QueryRow(ctx, query,
			s.Workflow, s.Job, s.BlockUUID, s.ChildBlockUUID, s.Index,
			s.AccountID, s.PositionID, s.OrderID, s.State, params,
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert step: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ClaimReadyStep atomically claims one runnable step. A step is ready when
// it is pending, every lower-index step of its block is finished, and every
// child block spawned by those steps is finished too. SKIP LOCKED lets
// concurrent workers claim disjoint steps without queueing on each other.
func (db *DB) ClaimReadyStep(ctx context.Context) (*Step, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + stepColumns + ` FROM steps s
		WHERE s.state = 'pending'
		AND NOT EXISTS (
			SELECT 1 FROM steps p
			WHERE p.block_uuid = s.block_uuid AND p.index < s.index
			AND p.state NOT IN ('completed', 'skipped')
		)
		AND NOT EXISTS (
			SELECT 1 FROM steps c
			WHERE c.block_uuid IN (
				SELECT p2.child_block_uuid FROM steps p2
				WHERE p2.block_uuid = s.block_uuid AND p2.index < s.index
				AND p2.child_block_uuid IS NOT NULL
			)
			AND c.state NOT IN ('completed', 'skipped')
		)
		ORDER BY s.id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	step, err := scanStep(tx.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE steps SET state = 'running', started_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		step.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark step running: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	step.State = StepRunning
	return step, nil
}

// CompleteStep marks a step done, optionally fanning out a child block.
func (db *DB) CompleteStep(ctx context.Context, id int64, childBlock *uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE steps SET state = 'completed', child_block_uuid = COALESCE($2, child_block_uuid),
			completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, childBlock,
	)
	if err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}
	return nil
}

// FailStep marks a step failed, freezing the rest of its block.
func (db *DB) FailStep(ctx context.Context, id int64, message string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE steps SET state = 'failed', last_error = $2,
			completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("failed to fail step: %w", err)
	}
	return nil
}

// RetryStep returns a running step to pending after a transient failure.
func (db *DB) RetryStep(ctx context.Context, id int64, message string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE steps SET state = 'pending', last_error = $2,
			retry_count = retry_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("failed to retry step: %w", err)
	}
	return nil
}

// SkipStep marks a step skipped so its block can advance past it.
func (db *DB) SkipStep(ctx context.Context, id int64, reason string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE steps SET state = 'skipped', last_error = $2,
			completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to skip step: %w", err)
	}
	return nil
}

// BlockFinished reports whether every step of the block reached a final
// state.
func (db *DB) BlockFinished(ctx context.Context, block uuid.UUID) (bool, error) {
	var unfinished int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM steps
			WHERE block_uuid = $1 AND state NOT IN ('completed', 'skipped', 'failed')`,
		block,
	).Scan(&unfinished)
	if err != nil {
		return false, fmt.Errorf("failed to inspect block: %w", err)
	}
	return unfinished == 0, nil
}

// BlockFailed reports whether any step of the block failed.
func (db *DB) BlockFailed(ctx context.Context, block uuid.UUID) (bool, error) {
	var failed int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM steps WHERE block_uuid = $1 AND state = 'failed'`,
		block,
	).Scan(&failed)
	if err != nil {
		return false, fmt.Errorf("failed to inspect block: %w", err)
	}
	return failed > 0, nil
}

// CountRunningStepsForAccount is the per-account concurrency gauge.
func (db *DB) CountRunningStepsForAccount(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM steps WHERE account_id = $1 AND state = 'running'`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running steps: %w", err)
	}
	return count, nil
}

// RequeueStaleRunning returns steps stuck in running back to pending, for
// crash recovery at boot.
func (db *DB) RequeueStaleRunning(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE steps SET state = 'pending', retry_count = retry_count + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE state = 'running'`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale steps: %w", err)
	}
	return tag.RowsAffected(), nil
}
