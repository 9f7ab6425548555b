package database

import (
	"context"
	"fmt"
	"time"
)

// ==================== NOTIFICATION LOG ====================

// InsertNotificationLog records a notification before delivery is attempted.
func (db *DB) InsertNotificationLog(ctx context.Context, n *NotificationLog) error {
	query := `
		INSERT INTO notification_logs (account_id, group_name, level, title, message, dedup_key, sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := db.Pool.QueryRow(ctx, query,
		n.AccountID, n.GroupName, n.Level, n.Title, n.Message, n.DedupKey, n.Sent,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

// MarkNotificationSent flips the delivery flag after the sink accepted it.
func (db *DB) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE notification_logs SET sent = TRUE WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// RecentDuplicateExists suppresses repeat notifications inside the window.
func (db *DB) RecentDuplicateExists(ctx context.Context, dedupKey string, window time.Duration) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_logs
			WHERE dedup_key = $1 AND created_at > $2)`,
		dedupKey, time.Now().Add(-window),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification dedup: %w", err)
	}
	return exists, nil
}

// ==================== ENGINE SETTINGS ====================

// GetEngineSettings reads the singleton control row.
func (db *DB) GetEngineSettings(ctx context.Context) (*EngineSettings, error) {
	s := &EngineSettings{}
	err := db.Pool.QueryRow(ctx,
		`SELECT kill_switch, kill_switch_reason, scheduler_enabled, updated_at
		FROM martingalian WHERE id = 1`,
	).Scan(&s.KillSwitch, &s.KillSwitchReason, &s.SchedulerEnabled, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine settings: %w", err)
	}
	return s, nil
}

// SetKillSwitch arms or clears the global kill switch. While armed, the
// scheduler opens no new positions; running workflows finish their current
// block and stop.
func (db *DB) SetKillSwitch(ctx context.Context, on bool, reason string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE martingalian SET kill_switch = $1, kill_switch_reason = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		on, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to set kill switch: %w", err)
	}
	return nil
}

// SetSchedulerEnabled pauses or resumes admission. A paused scheduler keeps
// refreshing mark prices; it just opens no new positions.
func (db *DB) SetSchedulerEnabled(ctx context.Context, enabled bool) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE martingalian SET scheduler_enabled = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to set scheduler flag: %w", err)
	}
	return nil
}
