package db

import (
	"context"
	"fmt"

	"github.com/quantfold/divergent/internal/models"
)

// UpsertOutcome writes an outcome row keyed by signal id. The tracker
// recomputes the full row each pass, so conflicting rows are replaced
// wholesale.
func (db *DB) UpsertOutcome(ctx context.Context, o *models.SignalOutcome) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO signal_outcomes (
			signal_id, entry_price, direction,
			price_1h, price_4h, price_12h, price_24h,
			return_1h, return_4h, return_12h, return_24h,
			max_favorable_price, max_favorable_pct, max_adverse_price, max_adverse_pct,
			tp1_hit, tp2_hit, tp3_hit, sl_hit,
			tp1_hit_at, tp2_hit_at, tp3_hit_at, sl_hit_at,
			verdict, fully_resolved, last_checked_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (signal_id) DO UPDATE SET
			price_1h = EXCLUDED.price_1h,
			price_4h = EXCLUDED.price_4h,
			price_12h = EXCLUDED.price_12h,
			price_24h = EXCLUDED.price_24h,
			return_1h = EXCLUDED.return_1h,
			return_4h = EXCLUDED.return_4h,
			return_12h = EXCLUDED.return_12h,
			return_24h = EXCLUDED.return_24h,
			max_favorable_price = EXCLUDED.max_favorable_price,
			max_favorable_pct = EXCLUDED.max_favorable_pct,
			max_adverse_price = EXCLUDED.max_adverse_price,
			max_adverse_pct = EXCLUDED.max_adverse_pct,
			tp1_hit = EXCLUDED.tp1_hit,
			tp2_hit = EXCLUDED.tp2_hit,
			tp3_hit = EXCLUDED.tp3_hit,
			sl_hit = EXCLUDED.sl_hit,
			tp1_hit_at = EXCLUDED.tp1_hit_at,
			tp2_hit_at = EXCLUDED.tp2_hit_at,
			tp3_hit_at = EXCLUDED.tp3_hit_at,
			sl_hit_at = EXCLUDED.sl_hit_at,
			verdict = EXCLUDED.verdict,
			fully_resolved = EXCLUDED.fully_resolved,
			last_checked_at = EXCLUDED.last_checked_at
	`,
		o.SignalID, o.EntryPrice, string(o.Direction),
		o.Price1H, o.Price4H, o.Price12H, o.Price24H,
		o.Return1H, o.Return4H, o.Return12H, o.Return24H,
		o.MaxFavorablePrice, o.MaxFavorablePct, o.MaxAdversePrice, o.MaxAdversePct,
		o.TP1Hit, o.TP2Hit, o.TP3Hit, o.SLHit,
		o.TP1HitAt, o.TP2HitAt, o.TP3HitAt, o.SLHitAt,
		string(o.Verdict), o.FullyResolved, o.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome for signal %d: %w", o.SignalID, err)
	}
	return nil
}

// CountOutcomeVerdicts returns verdict counts across resolved outcomes
func (db *DB) CountOutcomeVerdicts(ctx context.Context) (map[models.Verdict]int, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT verdict, COUNT(*) FROM signal_outcomes GROUP BY verdict
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcome verdicts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Verdict]int)
	for rows.Next() {
		var verdict string
		var count int
		if err := rows.Scan(&verdict, &count); err != nil {
			return nil, fmt.Errorf("failed to scan verdict count: %w", err)
		}
		counts[models.Verdict(verdict)] = count
	}
	return counts, rows.Err()
}
