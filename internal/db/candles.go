package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quantfold/divergent/internal/models"
)

// UpsertCandles writes candle rows, replacing existing bars for the
// same (time, symbol, timeframe). Re-applying the same rows is a
// no-op, so forming candles can be refreshed safely.
func (db *DB) UpsertCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (time, symbol, timeframe, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (time, symbol, timeframe) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, c.Time, symbol, timeframe, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert candles for %s/%s: %w", symbol, timeframe, err)
		}
	}
	return nil
}

// GetCandles returns stored candles for a range, oldest first
func (db *DB) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND time >= $3 AND time <= $4
		ORDER BY time
	`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LatestCandleTime returns the newest stored bar time, zero time when
// no bars exist
func (db *DB) LatestCandleTime(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var t *time.Time
	err := db.pool.QueryRow(ctx, `
		SELECT MAX(time) FROM candles WHERE symbol = $1 AND timeframe = $2
	`, symbol, timeframe).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest candle time: %w", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
