package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quantfold/divergent/internal/models"
)

// SignalRecord carries persistence-only fields alongside the signal
type SignalRecord struct {
	Signal           *models.Signal
	Score            float64
	RawPayload       []byte
	Validated        bool
	ValidationReason string
	Broker           string
}

// InsertSignal persists a detected signal and returns its row id
func (db *DB) InsertSignal(ctx context.Context, rec SignalRecord) (int64, error) {
	sig := rec.Signal

	var id int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO signals (
			symbol, timeframe, divergence_type, indicator, confidence, direction,
			entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			score, reasoning, raw_payload, validated, validation_reason, broker
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`,
		sig.Symbol, sig.Timeframe, string(sig.DivergenceType), sig.Indicator,
		sig.Confidence, string(sig.Direction),
		sig.EntryPrice, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		rec.Score, sig.Reasoning, rec.RawPayload, rec.Validated, rec.ValidationReason, rec.Broker,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal for %s/%s: %w", sig.Symbol, sig.Timeframe, err)
	}
	return id, nil
}

// StoredSignal is a signal row as needed by the outcome tracker
type StoredSignal struct {
	ID          int64
	Symbol      string
	Timeframe   string
	Direction   models.SignalDirection
	EntryPrice  *float64
	StopLoss    *float64
	TakeProfit1 *float64
	TakeProfit2 *float64
	TakeProfit3 *float64
	CreatedAt   time.Time
}

// GetSignalsWithoutOutcomes returns validated signals with levels that
// have no outcome row yet, oldest first
func (db *DB) GetSignalsWithoutOutcomes(ctx context.Context, limit int) ([]StoredSignal, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT s.id, s.symbol, s.timeframe, s.direction,
		       s.entry_price, s.stop_loss, s.take_profit_1, s.take_profit_2, s.take_profit_3,
		       s.created_at
		FROM signals s
		LEFT JOIN signal_outcomes o ON o.signal_id = s.id
		WHERE o.id IS NULL
		  AND s.validated
		  AND s.entry_price IS NOT NULL
		  AND s.direction <> ''
		ORDER BY s.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals without outcomes: %w", err)
	}
	defer rows.Close()

	return scanStoredSignals(rows)
}

// GetSignalsWithUnresolvedOutcomes returns signals whose outcome row
// is still being observed, oldest first
func (db *DB) GetSignalsWithUnresolvedOutcomes(ctx context.Context, limit int) ([]StoredSignal, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT s.id, s.symbol, s.timeframe, s.direction,
		       s.entry_price, s.stop_loss, s.take_profit_1, s.take_profit_2, s.take_profit_3,
		       s.created_at
		FROM signals s
		JOIN signal_outcomes o ON o.signal_id = s.id
		WHERE NOT o.fully_resolved
		ORDER BY s.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved outcomes: %w", err)
	}
	defer rows.Close()

	return scanStoredSignals(rows)
}

func scanStoredSignals(rows pgx.Rows) ([]StoredSignal, error) {
	var signals []StoredSignal
	for rows.Next() {
		var s StoredSignal
		var direction string
		if err := rows.Scan(
			&s.ID, &s.Symbol, &s.Timeframe, &direction,
			&s.EntryPrice, &s.StopLoss, &s.TakeProfit1, &s.TakeProfit2, &s.TakeProfit3,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Direction = models.SignalDirection(direction)
		signals = append(signals, s)
	}
	return signals, rows.Err()
}
