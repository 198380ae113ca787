package execution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/alerts"
	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// MonitorStore is the persistence surface used by the position monitor
type MonitorStore interface {
	GetOpenOrders(ctx context.Context, broker string) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
}

// Monitor walks open positions against current prices, advancing fills,
// trailing stops and profit targets
type Monitor struct {
	cfg    *config.Config
	router *broker.Router
	store  MonitorStore
	alerts *alerts.Manager
	logger zerolog.Logger
}

// NewMonitor creates a position monitor
func NewMonitor(cfg *config.Config, router *broker.Router, store MonitorStore, alertMgr *alerts.Manager) *Monitor {
	return &Monitor{
		cfg:    cfg,
		router: router,
		store:  store,
		alerts: alertMgr,
		logger: config.NewLogger("monitor"),
	}
}

// Run performs one monitoring pass over every non-terminal order.
// Tickers are fetched once per distinct symbol.
func (m *Monitor) Run(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	var orders []*models.Order
	for _, venue := range m.router.All() {
		open, err := m.store.GetOpenOrders(ctx, venue.BrokerID())
		if err != nil {
			return err
		}
		orders = append(orders, open...)
	}
	if len(orders) == 0 {
		return nil
	}

	tickers := make(map[string]models.Ticker)
	for _, o := range orders {
		if _, ok := tickers[o.Symbol]; ok {
			continue
		}
		venue, err := m.router.GetByID(o.Broker)
		if err != nil {
			m.logger.Warn().Err(err).Str("order_id", o.ID).Msg("no adapter for open order")
			continue
		}
		t, err := venue.FetchTicker(ctx, o.Symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", o.Symbol).Msg("ticker fetch failed, skipping symbol")
			continue
		}
		tickers[o.Symbol] = t
	}

	for _, o := range orders {
		ticker, ok := tickers[o.Symbol]
		if !ok {
			continue
		}
		if err := m.processOrder(ctx, o, ticker); err != nil {
			m.logger.Error().Err(err).Str("order_id", o.ID).Msg("order monitoring failed")
		}
	}
	return nil
}

func (m *Monitor) processOrder(ctx context.Context, o *models.Order, ticker models.Ticker) error {
	price := ticker.Mid()

	if o.State == models.OrderSubmitted {
		if !m.fillReady(o, price) {
			return nil
		}
		if err := o.Transition(models.OrderFilled); err != nil {
			return err
		}
		o.FilledQuantity = o.Quantity
		o.FilledPrice = o.EntryPrice
		if err := m.store.UpdateOrder(ctx, o); err != nil {
			return err
		}
	}
	if o.State != models.OrderFilled {
		return nil
	}

	if o.TPStage == 0 {
		return m.monitorStage0(ctx, o, price)
	}
	return m.monitorStage1(ctx, o, price)
}

// fillReady reports whether a submitted order counts as filled. Paper
// fills are immediate at the entry price; live fills wait for the price
// to touch the entry level.
func (m *Monitor) fillReady(o *models.Order, price float64) bool {
	if m.cfg.Trading.Mode != config.ModeLive {
		return true
	}
	if o.IsLong() {
		return price <= o.EntryPrice
	}
	return price >= o.EntryPrice
}

// monitorStage0 manages the full position before the TP1 event
func (m *Monitor) monitorStage0(ctx context.Context, o *models.Order, price float64) error {
	// pre-TP1 trailing only applies when partial profit taking is off
	if m.cfg.Execution.TP1ClosePct == 0 {
		if err := m.trailStage0(ctx, o, price); err != nil {
			return err
		}
	}

	if stopHit(o, price) {
		return m.closeOrder(ctx, o, price, "Stop loss hit")
	}

	if !targetHit(o, price, o.TakeProfit1) {
		return nil
	}

	if m.cfg.Execution.TP1ClosePct > 0 && o.TakeProfit2 != nil {
		return m.partialClose(ctx, o, price)
	}
	return m.closeOrder(ctx, o, o.TakeProfit1, "Take profit 1 hit")
}

// monitorStage1 manages the runner between TP1 and TP2
func (m *Monitor) monitorStage1(ctx context.Context, o *models.Order, price float64) error {
	tp2 := *o.TakeProfit2

	candidate, ok := stage1StopCandidate(o, price, tp2)
	if ok && improvesStop(o, candidate) {
		o.StopLoss = candidate
		if err := m.store.UpdateOrder(ctx, o); err != nil {
			return err
		}
		m.logger.Info().Str("order_id", o.ID).Float64("stop", candidate).Msg("runner stop trailed")
	}

	if stopHit(o, price) {
		return m.closeOrder(ctx, o, price, "Runner stop hit")
	}
	if targetHit(o, price, tp2) {
		return m.closeOrder(ctx, o, tp2, "Take profit 2 hit")
	}
	return nil
}

// trailStage0 tightens the stop as price approaches TP1. The stage
// counter only advances, so a pullback never loosens the stop.
func (m *Monitor) trailStage0(ctx context.Context, o *models.Order, price float64) error {
	p := progressToward(o, price, o.TakeProfit1)

	var candidate float64
	var stage int
	switch {
	case p >= 0.75 && o.SLTrailStage < 2:
		candidate = o.EntryPrice + 0.25*(o.TakeProfit1-o.EntryPrice)
		stage = 2
	case p >= 0.50 && o.SLTrailStage < 1:
		candidate = o.EntryPrice
		stage = 1
	default:
		return nil
	}

	if !improvesStop(o, candidate) {
		o.SLTrailStage = stage
		return nil
	}
	o.StopLoss = candidate
	o.SLTrailStage = stage
	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	m.logger.Info().Str("order_id", o.ID).Int("stage", stage).Float64("stop", candidate).
		Msg("stop trailed")
	return nil
}

// partialClose takes profit on part of the position at the current
// price and moves the stop to breakeven for the runner
func (m *Monitor) partialClose(ctx context.Context, o *models.Order, exitPrice float64) error {
	qty := m.cfg.Execution.TP1ClosePct * o.RemainingQuantity

	fee := closeFee(o, exitPrice, qty)
	o.PnL += realizedPnL(o, exitPrice, qty) - fee
	o.Fees += fee
	o.RemainingQuantity -= qty
	o.StopLoss = o.EntryPrice
	o.TPStage = 1

	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	if m.alerts != nil {
		_ = m.alerts.SendPartialClose(ctx, o, qty, exitPrice)
	}
	m.logger.Info().Str("order_id", o.ID).Float64("closed", qty).
		Float64("remaining", o.RemainingQuantity).Msg("partial close at tp1")
	return nil
}

func (m *Monitor) closeOrder(ctx context.Context, o *models.Order, exitPrice float64, reason string) error {
	if err := closeRemaining(o, exitPrice); err != nil {
		return err
	}
	if err := m.store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	if m.alerts != nil {
		_ = m.alerts.SendOrderClosed(ctx, o, exitPrice, reason)
	}
	m.logger.Info().Str("order_id", o.ID).Str("reason", reason).
		Float64("pnl", o.PnL).Msg("position closed")
	return nil
}

// progressToward measures how far price has travelled from entry to a
// target, in [0, 1] when moving favourably. The signed denominator
// flips the sense for shorts.
func progressToward(o *models.Order, price, target float64) float64 {
	denom := target - o.EntryPrice
	if denom == 0 {
		return 0
	}
	return (price - o.EntryPrice) / denom
}

// stage1StopCandidate returns the trailed stop level for the runner
func stage1StopCandidate(o *models.Order, price, tp2 float64) (float64, bool) {
	p := progressToward(o, price, tp2)
	switch {
	case p >= 0.75:
		return o.TakeProfit1 + 0.25*(tp2-o.TakeProfit1), true
	case p >= 0.50:
		return o.TakeProfit1, true
	}
	return 0, false
}

// improvesStop reports whether the candidate tightens the stop
func improvesStop(o *models.Order, candidate float64) bool {
	if o.IsLong() {
		return candidate > o.StopLoss
	}
	return candidate < o.StopLoss
}

func stopHit(o *models.Order, price float64) bool {
	if o.IsLong() {
		return price <= o.StopLoss
	}
	return price >= o.StopLoss
}

func targetHit(o *models.Order, price, target float64) bool {
	if o.IsLong() {
		return price >= target
	}
	return price <= target
}
