// Package execution places orders for validated signals and manages
// open positions through their lifecycle.
package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/alerts"
	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/metrics"
	"github.com/quantfold/divergent/internal/models"
	"github.com/quantfold/divergent/internal/risk"
)

// Store is the order persistence surface used by the engine
type Store interface {
	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
}

// RiskChecker is the admission and sizing surface of the risk manager
type RiskChecker interface {
	CheckEntry(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioState, brokerID string) models.RiskCheckResult
	PositionSize(sig *models.Signal, portfolio *models.PortfolioState) float64
}

// Engine turns validated signals into orders
type Engine struct {
	cfg    *config.Config
	router *broker.Router
	risk   RiskChecker
	store  Store // nil in dev mode
	alerts *alerts.Manager
	logger zerolog.Logger
}

// NewEngine creates an execution engine
func NewEngine(cfg *config.Config, router *broker.Router, riskMgr RiskChecker, store Store, alertMgr *alerts.Manager) *Engine {
	return &Engine{
		cfg:    cfg,
		router: router,
		risk:   riskMgr,
		store:  store,
		alerts: alertMgr,
		logger: config.NewLogger("execution"),
	}
}

// ExecuteSignal runs the full signal path: risk admission, optional
// reversal close, sizing, order placement and persistence. A nil order
// with nil error means the signal was declined, not that something broke.
func (e *Engine) ExecuteSignal(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioState, signalID *int64) (*models.Order, error) {
	if !sig.HasLevels() {
		return nil, fmt.Errorf("signal for %s has no levels", sig.Symbol)
	}

	venue, err := e.router.Route(sig.Symbol)
	if err != nil {
		return nil, err
	}

	check := e.risk.CheckEntry(ctx, sig, portfolio, venue.BrokerID())
	if !check.Approved {
		e.logger.Info().Str("symbol", sig.Symbol).Str("reason", check.Reason).Msg("signal declined by risk manager")
		return nil, nil
	}

	if oldID, ok := strings.CutPrefix(check.Reason, risk.ReversalPrefix); ok {
		if err := e.closeForReversal(ctx, venue, portfolio, oldID); err != nil {
			return nil, fmt.Errorf("reversal close failed: %w", err)
		}
	}

	size := e.risk.PositionSize(sig, portfolio)
	if size <= 0 {
		e.logger.Warn().Str("symbol", sig.Symbol).Msg("position size is zero, skipping")
		return nil, nil
	}

	order := models.NewOrder(sig.Symbol, sig.Direction, *sig.EntryPrice, *sig.StopLoss, *sig.TakeProfit1, size, venue.BrokerID())
	order.SignalID = signalID
	order.TakeProfit2 = sig.TakeProfit2
	order.TakeProfit3 = sig.TakeProfit3

	switch e.cfg.Trading.Mode {
	case config.ModeLive:
		if err := e.submitLive(ctx, venue, order); err != nil {
			e.failOrder(ctx, order, err)
			return nil, err
		}
	case config.ModePaper:
		order.ExchangeOrderID = fmt.Sprintf("paper-%s-%s", sig.Symbol, sig.Timeframe)
		if err := order.Transition(models.OrderSubmitted); err != nil {
			return nil, err
		}
	default:
		e.logger.Info().Str("symbol", sig.Symbol).Str("direction", string(sig.Direction)).
			Float64("size", size).Msg("dev mode: order not placed")
		return nil, nil
	}

	if e.store != nil {
		if err := e.store.InsertOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("failed to persist order: %w", err)
		}
	}

	metrics.OrdersPlaced.WithLabelValues(order.Broker).Inc()
	if e.alerts != nil {
		_ = e.alerts.SendOrderOpened(ctx, order)
	}
	e.logger.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
		Str("direction", string(order.Direction)).Float64("quantity", order.Quantity).
		Msg("order placed")
	return order, nil
}

// submitLive places a limit entry and a paired protective stop
func (e *Engine) submitLive(ctx context.Context, venue broker.Broker, order *models.Order) error {
	side := broker.SideForDirection(order.Direction)

	entry, err := venue.CreateLimitOrder(ctx, order.Symbol, side, order.Quantity, order.EntryPrice)
	if err != nil {
		return fmt.Errorf("entry order: %w", err)
	}
	order.ExchangeOrderID = entry.ID

	if _, err := venue.CreateStopOrder(ctx, order.Symbol, broker.OppositeSide(side), order.Quantity, order.StopLoss); err != nil {
		return fmt.Errorf("protective stop: %w", err)
	}

	return order.Transition(models.OrderSubmitted)
}

// failOrder records an adapter failure for audit
func (e *Engine) failOrder(ctx context.Context, order *models.Order, cause error) {
	if err := order.Transition(models.OrderError); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.ID).Msg("error transition rejected")
	}
	if e.store != nil {
		if err := e.store.InsertOrder(ctx, order); err != nil {
			e.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to persist errored order")
		}
	}
	if e.alerts != nil {
		_ = e.alerts.SendCritical(ctx, "Order placement failed",
			fmt.Sprintf("%s %s: %v", order.Symbol, order.Direction, cause),
			map[string]any{"order_id": order.ID, "broker": order.Broker})
	}
}

// closeForReversal exits an opposite-direction position before the new
// entry is placed
func (e *Engine) closeForReversal(ctx context.Context, venue broker.Broker, portfolio *models.PortfolioState, oldID string) error {
	var old *models.Order
	idx := -1
	for i, o := range portfolio.OpenPositions {
		if o.ID == oldID {
			old, idx = o, i
			break
		}
	}
	if old == nil {
		return fmt.Errorf("reversal target %s not in portfolio", oldID)
	}

	ticker, err := venue.FetchTicker(ctx, old.Symbol)
	if err != nil {
		return fmt.Errorf("ticker for reversal close: %w", err)
	}

	if err := closeRemaining(old, ticker.Mid()); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.UpdateOrder(ctx, old); err != nil {
			return err
		}
	}
	portfolio.OpenPositions = append(portfolio.OpenPositions[:idx], portfolio.OpenPositions[idx+1:]...)

	if e.alerts != nil {
		_ = e.alerts.SendOrderClosed(ctx, old, ticker.Mid(), "Reversal close")
	}
	e.logger.Info().Str("order_id", old.ID).Float64("pnl", old.PnL).Msg("position reversed")
	return nil
}

// closeFee returns the round-trip fee for a close event. Spread-based
// venues carry fee_rate 0.
func closeFee(o *models.Order, exitPrice, quantity float64) float64 {
	rate := instruments.Get(o.Symbol).FeeRate
	return (o.EntryPrice + exitPrice) * quantity * rate
}

// realizedPnL returns the direction-signed gross PnL for a close event
func realizedPnL(o *models.Order, exitPrice, quantity float64) float64 {
	if o.IsLong() {
		return (exitPrice - o.EntryPrice) * quantity
	}
	return (o.EntryPrice - exitPrice) * quantity
}

// closeRemaining exits the full remaining quantity and moves the order
// to its terminal state
func closeRemaining(o *models.Order, exitPrice float64) error {
	if o.State != models.OrderFilled {
		// an order that never filled holds no position: cancel it
		// without booking PnL or fees, so equity reconstruction
		// (which sums closed orders only) stays consistent
		o.RemainingQuantity = 0
		return o.Transition(models.OrderCancelled)
	}

	qty := o.RemainingQuantity
	fee := closeFee(o, exitPrice, qty)
	o.PnL += realizedPnL(o, exitPrice, qty) - fee
	o.Fees += fee
	o.RemainingQuantity = 0
	return o.Transition(models.OrderClosed)
}
