package db

import (
	"context"
	"fmt"
	"time"
)

// BreakerEvent is a circuit breaker activation record
type BreakerEvent struct {
	ID          int64
	Reason      string
	Details     string
	TriggeredAt time.Time
	ResolvedAt  *time.Time
}

// InsertBreakerEvent records a circuit breaker trip and returns its id
func (db *DB) InsertBreakerEvent(ctx context.Context, reason, details string) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO circuit_breaker_events (reason, details)
		VALUES ($1, $2)
		RETURNING id
	`, reason, details).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert breaker event: %w", err)
	}
	return id, nil
}

// ResolveBreakerEvent stamps a breaker event as resolved
func (db *DB) ResolveBreakerEvent(ctx context.Context, id int64) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE circuit_breaker_events SET resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve breaker event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("breaker event %d not found or already resolved", id)
	}
	return nil
}

// GetUnresolvedBreakerEvents returns open breaker events, oldest first
func (db *DB) GetUnresolvedBreakerEvents(ctx context.Context) ([]BreakerEvent, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, reason, details, triggered_at, resolved_at
		FROM circuit_breaker_events
		WHERE resolved_at IS NULL
		ORDER BY triggered_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query breaker events: %w", err)
	}
	defer rows.Close()

	var events []BreakerEvent
	for rows.Next() {
		var e BreakerEvent
		var details *string
		if err := rows.Scan(&e.ID, &e.Reason, &details, &e.TriggeredAt, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan breaker event: %w", err)
		}
		if details != nil {
			e.Details = *details
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
