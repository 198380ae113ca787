package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantfold/divergent/internal/models"
)

// InsertAnalysisCycle records a completed analysis pass and returns
// its row id
func (db *DB) InsertAnalysisCycle(ctx context.Context, result *models.AnalysisCycleResult) (int64, error) {
	var details []byte
	if len(result.SymbolDetails) > 0 {
		var err error
		details, err = json.Marshal(result.SymbolDetails)
		if err != nil {
			return 0, fmt.Errorf("failed to encode symbol details: %w", err)
		}
	}

	var id int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO analysis_cycles (
			started_at, completed_at, symbols_analyzed,
			signals_found, signals_validated, orders_placed,
			errors, symbol_details, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		result.StartedAt, result.CompletedAt, result.SymbolsAnalyzed,
		result.SignalsFound, result.SignalsValidated, result.OrdersPlaced,
		result.Errors, details, result.DurationMS,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis cycle: %w", err)
	}
	return id, nil
}
