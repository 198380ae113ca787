package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quantfold/divergent/internal/models"
)

const orderColumns = `
	id, signal_id, exchange_order_id, symbol, direction, state,
	entry_price, stop_loss, original_stop_loss, sl_trail_stage, tp_stage,
	take_profit_1, take_profit_2, take_profit_3,
	quantity, remaining_quantity, filled_quantity, filled_price, pnl, fees,
	broker, created_at, updated_at, closed_at`

// InsertOrder persists a new order
func (db *DB) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`,
		o.ID, o.SignalID, nullIfEmpty(o.ExchangeOrderID), o.Symbol,
		string(o.Direction), string(o.State),
		o.EntryPrice, o.StopLoss, o.OriginalStopLoss, o.SLTrailStage, o.TPStage,
		o.TakeProfit1, o.TakeProfit2, o.TakeProfit3,
		o.Quantity, o.RemainingQuantity, o.FilledQuantity, o.FilledPrice, o.PnL, o.Fees,
		o.Broker, o.CreatedAt, o.UpdatedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrder rewrites the mutable order fields
func (db *DB) UpdateOrder(ctx context.Context, o *models.Order) error {
	o.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx, `
		UPDATE orders SET
			exchange_order_id = $2,
			state = $3,
			stop_loss = $4,
			sl_trail_stage = $5,
			tp_stage = $6,
			remaining_quantity = $7,
			filled_quantity = $8,
			filled_price = $9,
			pnl = $10,
			fees = $11,
			updated_at = $12,
			closed_at = $13
		WHERE id = $1
	`,
		o.ID, nullIfEmpty(o.ExchangeOrderID), string(o.State),
		o.StopLoss, o.SLTrailStage, o.TPStage,
		o.RemainingQuantity, o.FilledQuantity, o.FilledPrice, o.PnL, o.Fees,
		o.UpdatedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found", o.ID)
	}
	return nil
}

// GetOpenOrders returns live positions for a broker: submitted,
// partially filled or filled
func (db *DB) GetOpenOrders(ctx context.Context, broker string) ([]*models.Order, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE broker = $1 AND state IN ($2, $3, $4)
		ORDER BY created_at
	`, broker,
		string(models.OrderSubmitted),
		string(models.OrderPartiallyFilled),
		string(models.OrderFilled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders for %s: %w", broker, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetOrdersClosedSince returns orders closed at or after a cutoff
func (db *DB) GetOrdersClosedSince(ctx context.Context, broker string, since time.Time) ([]*models.Order, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE broker = $1 AND state = $2 AND closed_at >= $3
		ORDER BY closed_at
	`, broker, string(models.OrderClosed), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed orders for %s: %w", broker, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// SumRealizedPnL returns cumulative realised PnL across every closed
// order for a broker
func (db *DB) SumRealizedPnL(ctx context.Context, broker string) (float64, error) {
	var pnl float64
	err := db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pnl), 0)
		FROM orders
		WHERE broker = $1 AND state = $2
	`, broker, string(models.OrderClosed)).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realised pnl for %s: %w", broker, err)
	}
	return pnl, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		var o models.Order
		var exchangeOrderID *string
		var direction, state string
		if err := rows.Scan(
			&o.ID, &o.SignalID, &exchangeOrderID, &o.Symbol, &direction, &state,
			&o.EntryPrice, &o.StopLoss, &o.OriginalStopLoss, &o.SLTrailStage, &o.TPStage,
			&o.TakeProfit1, &o.TakeProfit2, &o.TakeProfit3,
			&o.Quantity, &o.RemainingQuantity, &o.FilledQuantity, &o.FilledPrice, &o.PnL, &o.Fees,
			&o.Broker, &o.CreatedAt, &o.UpdatedAt, &o.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Direction = models.SignalDirection(direction)
		o.State = models.OrderState(state)
		if exchangeOrderID != nil {
			o.ExchangeOrderID = *exchangeOrderID
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
