package db

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/divergent/internal/models"
)

// InsertPortfolioSnapshot records a per-broker equity snapshot
func (db *DB) InsertPortfolioSnapshot(ctx context.Context, state *models.PortfolioState) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO portfolio_snapshots (
			time, broker, total_equity, available_balance,
			open_position_count, daily_pnl, daily_trades
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		time.Now().UTC(), state.Broker, state.TotalEquity, state.AvailableBalance,
		len(state.OpenPositions), state.DailyPnL, state.DailyTrades,
	)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio snapshot for %s: %w", state.Broker, err)
	}
	return nil
}

// PeakEquity returns the highest recorded equity for a broker, zero
// when no snapshots exist
func (db *DB) PeakEquity(ctx context.Context, broker string) (float64, error) {
	var peak *float64
	err := db.pool.QueryRow(ctx, `
		SELECT MAX(total_equity) FROM portfolio_snapshots WHERE broker = $1
	`, broker).Scan(&peak)
	if err != nil {
		return 0, fmt.Errorf("failed to query peak equity for %s: %w", broker, err)
	}
	if peak == nil {
		return 0, nil
	}
	return *peak, nil
}
