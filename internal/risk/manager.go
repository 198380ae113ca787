package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/metrics"
	"github.com/quantfold/divergent/internal/models"
)

// ReversalPrefix marks an approval that requires closing an opposite
// position first. The suffix is the order id to close.
const ReversalPrefix = "REVERSAL:"

// correlationLimits caps same-direction positions per asset class.
// Cross-asset positions do not block each other.
var correlationLimits = map[models.AssetClass]int{
	models.AssetForex:     4,
	models.AssetIndex:     3,
	models.AssetCommodity: 3,
	models.AssetBond:      1,
	models.AssetCrypto:    4,
}

const defaultCorrelationLimit = 4

// Store is the persistence surface the risk manager needs
type Store interface {
	SumRealizedPnL(ctx context.Context, broker string) (float64, error)
	GetOpenOrders(ctx context.Context, broker string) ([]*models.Order, error)
	GetOrdersClosedSince(ctx context.Context, broker string, since time.Time) ([]*models.Order, error)
	PeakEquity(ctx context.Context, broker string) (float64, error)
	InsertBreakerEvent(ctx context.Context, reason, details string) (int64, error)
}

// Manager enforces hard-coded risk rules. No signal overrides these.
type Manager struct {
	cfg    *config.Config
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu                 sync.Mutex
	dailyBreakerActive bool
	dailyBreakerReason string
	dailyTrippedDate   string
	// the drawdown kill switch survives daily resets, manual reset only
	drawdownActive bool
	drawdownReason string
}

// NewManager builds a risk manager. Store may be nil in dev mode; the
// portfolio then reconstructs as empty.
func NewManager(cfg *config.Config, store Store) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: config.NewLogger("risk"),
		now:    time.Now,
	}
}

func activeState(s models.OrderState) bool {
	switch s {
	case models.OrderPending, models.OrderSubmitted, models.OrderPartiallyFilled, models.OrderFilled:
		return true
	}
	return false
}

// CheckEntry runs every admission rule before a trade entry. Limits
// are applied per broker so crypto positions do not block forex trades
// and vice versa. An approval with a REVERSAL: reason means an
// opposite position must be closed before opening.
func (m *Manager) CheckEntry(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioState, brokerID string) models.RiskCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	// daily breaker auto-resets at the UTC day rollover
	today := m.now().UTC().Format("2006-01-02")
	if m.dailyBreakerActive && m.dailyTrippedDate != today {
		m.resetDailyLocked()
		m.logger.Info().Msg("daily circuit breaker auto-reset (new trading day)")
	}

	if m.dailyBreakerActive {
		return models.RiskCheckResult{Approved: false, Reason: "Circuit breaker active: " + m.dailyBreakerReason}
	}
	if m.drawdownActive {
		return models.RiskCheckResult{Approved: false, Reason: "DRAWDOWN KILL SWITCH: " + m.drawdownReason}
	}

	if portfolio.TotalEquity > 0 && portfolio.DailyPnL < 0 {
		lossPct := math.Abs(portfolio.DailyPnL) / portfolio.TotalEquity * 100
		if lossPct >= m.cfg.Risk.MaxDailyLossPct {
			reason := fmt.Sprintf("Daily loss %.1f%% exceeds %.1f%% limit", lossPct, m.cfg.Risk.MaxDailyLossPct)
			m.tripDailyLocked(ctx, reason)
			return models.RiskCheckResult{Approved: false, Reason: reason}
		}
	}

	// duplicate symbol: same direction blocked, opposite is a reversal
	for _, p := range portfolio.OpenPositions {
		if !activeState(p.State) || p.Symbol != sig.Symbol {
			continue
		}
		if sig.Direction != "" && p.Direction != sig.Direction {
			return models.RiskCheckResult{Approved: true, Reason: ReversalPrefix + p.ID}
		}
		return models.RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("Already %s on %s", p.Direction, sig.Symbol),
		}
	}

	openCount := 0
	for _, p := range portfolio.OpenPositions {
		if activeState(p.State) {
			openCount++
		}
	}
	maxPositions := m.cfg.GetMaxOpenPositions(brokerID)
	if openCount >= maxPositions {
		return models.RiskCheckResult{
			Approved: false,
			Reason: fmt.Sprintf("Max open positions (%d) reached for %s (%d open)",
				maxPositions, brokerID, openCount),
		}
	}

	if sig.Direction != "" {
		class := instruments.AssetClassOf(sig.Symbol)
		limit, ok := correlationLimits[class]
		if !ok {
			limit = defaultCorrelationLimit
		}
		// a configured cap tightens the asset-class default, never widens it
		if configured := m.cfg.GetMaxCorrelationExposure(brokerID); configured > 0 && configured < limit {
			limit = configured
		}
		sameClassSameDir := 0
		for _, p := range portfolio.OpenPositions {
			if activeState(p.State) && p.Direction == sig.Direction &&
				instruments.AssetClassOf(p.Symbol) == class {
				sameClassSameDir++
			}
		}
		if sameClassSameDir >= limit {
			return models.RiskCheckResult{
				Approved: false,
				Reason: fmt.Sprintf("Correlation limit: %d %s %s positions already open (max %d for %s)",
					sameClassSameDir, sig.Direction, class, limit, class),
			}
		}
	}

	return models.RiskCheckResult{Approved: true, Reason: "All risk checks passed"}
}

// PositionSize dispatches to crypto or pip-based sizing by asset class
func (m *Manager) PositionSize(sig *models.Signal, portfolio *models.PortfolioState) float64 {
	if sig.EntryPrice == nil || sig.StopLoss == nil {
		return 0
	}
	if instruments.AssetClassOf(sig.Symbol) == models.AssetCrypto {
		return m.cryptoPositionSize(sig, portfolio)
	}
	return m.pipPositionSize(sig, portfolio)
}

// cryptoPositionSize risks max_position_pct of equity against the
// stop distance, with a hard 10%-of-equity notional cap.
func (m *Manager) cryptoPositionSize(sig *models.Signal, portfolio *models.PortfolioState) float64 {
	entry, stop := *sig.EntryPrice, *sig.StopLoss
	if entry <= 0 {
		return 0
	}

	riskAmount := portfolio.TotalEquity * m.cfg.Risk.MaxPositionPct / 100
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return 0
	}

	size := riskAmount / riskPerUnit
	maxQuantity := portfolio.TotalEquity * 0.10 / entry
	size = math.Min(size, maxQuantity)

	m.logger.Debug().
		Str("symbol", sig.Symbol).
		Float64("size", size).
		Float64("risk_amount", riskAmount).
		Float64("stop_distance", riskPerUnit).
		Msg("crypto position sized")
	return size
}

// pipPositionSize sizes margin instruments in whole units:
// units = risk / (stop_pips * pip_value_aud), capped by leverage.
func (m *Manager) pipPositionSize(sig *models.Signal, portfolio *models.PortfolioState) float64 {
	entry, stop := *sig.EntryPrice, *sig.StopLoss
	if entry <= 0 {
		return 0
	}

	inst := instruments.Get(sig.Symbol)
	riskAmount := portfolio.TotalEquity * m.cfg.Risk.MaxPositionPct / 100

	stopPips := math.Abs(entry-stop) / inst.PipSize
	if stopPips == 0 {
		return 0
	}

	rate := QuoteToAUDRate(inst.QuoteCurrency)
	pipValueAUD := inst.PipValuePerUnit * rate
	units := riskAmount / (stopPips * pipValueAUD)

	maxUnits := portfolio.TotalEquity * inst.MaxLeverage / (entry * rate)
	units = math.Min(units, maxUnits)
	units = math.Floor(units)

	m.logger.Debug().
		Str("symbol", sig.Symbol).
		Float64("units", units).
		Float64("risk_amount", riskAmount).
		Float64("stop_pips", stopPips).
		Msg("pip position sized")
	return units
}

// PortfolioState reconstructs equity and exposure for one broker from
// configuration plus persisted orders, and runs the drawdown check.
func (m *Manager) PortfolioState(ctx context.Context, brokerID string) (*models.PortfolioState, error) {
	startingEquity := m.cfg.GetStartingEquity(brokerID)

	state := &models.PortfolioState{
		Broker:           brokerID,
		TotalEquity:      startingEquity,
		AvailableBalance: startingEquity,
	}
	if m.store == nil {
		return state, nil
	}

	realized, err := m.store.SumRealizedPnL(ctx, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct %s equity: %w", brokerID, err)
	}
	state.TotalEquity = startingEquity + realized
	state.AvailableBalance = state.TotalEquity

	open, err := m.store.GetOpenOrders(ctx, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s open positions: %w", brokerID, err)
	}
	state.OpenPositions = open

	dayStart := m.now().UTC().Truncate(24 * time.Hour)
	closedToday, err := m.store.GetOrdersClosedSince(ctx, brokerID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s daily pnl: %w", brokerID, err)
	}
	for _, o := range closedToday {
		state.DailyPnL += o.PnL
	}
	state.DailyTrades = len(closedToday)

	m.checkDrawdown(ctx, state.TotalEquity, startingEquity, brokerID)

	metrics.OpenPositions.WithLabelValues(brokerID).Set(float64(len(open)))
	metrics.PortfolioEquity.WithLabelValues(brokerID).Set(state.TotalEquity)

	return state, nil
}

// checkDrawdown trips the persistent kill switch when equity falls too
// far below its recorded peak
func (m *Manager) checkDrawdown(ctx context.Context, currentEquity, startingEquity float64, brokerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drawdownActive {
		return
	}

	peak, err := m.store.PeakEquity(ctx, brokerID)
	if err != nil {
		m.logger.Error().Err(err).Str("broker", brokerID).Msg("drawdown check failed")
		return
	}
	peak = math.Max(peak, startingEquity)
	if peak <= 0 || currentEquity >= peak {
		return
	}

	drawdownPct := (peak - currentEquity) / peak * 100
	if drawdownPct < m.cfg.Risk.MaxDrawdownPct {
		return
	}

	m.drawdownActive = true
	m.drawdownReason = fmt.Sprintf("[%s] Equity $%.2f is %.1f%% below peak $%.2f (limit: %.1f%%)",
		brokerID, currentEquity, drawdownPct, peak, m.cfg.Risk.MaxDrawdownPct)
	metrics.RiskBreakerActive.WithLabelValues("drawdown").Set(1)
	m.logger.Error().Str("reason", m.drawdownReason).Msg("DRAWDOWN KILL SWITCH TRIPPED")

	if _, err := m.store.InsertBreakerEvent(ctx, "MAX DRAWDOWN: "+m.drawdownReason, ""); err != nil {
		m.logger.Error().Err(err).Msg("failed to record drawdown breaker event")
	}
}

func (m *Manager) tripDailyLocked(ctx context.Context, reason string) {
	m.dailyBreakerActive = true
	m.dailyBreakerReason = reason
	m.dailyTrippedDate = m.now().UTC().Format("2006-01-02")
	metrics.RiskBreakerActive.WithLabelValues("daily").Set(1)
	m.logger.Error().Str("reason", reason).Msg("CIRCUIT BREAKER TRIPPED")

	if m.store != nil {
		if _, err := m.store.InsertBreakerEvent(ctx, "DAILY LOSS: "+reason, ""); err != nil {
			m.logger.Error().Err(err).Msg("failed to record daily breaker event")
		}
	}
}

func (m *Manager) resetDailyLocked() {
	m.dailyBreakerActive = false
	m.dailyBreakerReason = ""
	m.dailyTrippedDate = ""
	metrics.RiskBreakerActive.WithLabelValues("daily").Set(0)
}

// ResetDailyBreaker clears the daily circuit breaker
func (m *Manager) ResetDailyBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked()
	m.logger.Warn().Msg("daily circuit breaker reset")
}

// ResetDrawdownBreaker is the manual override for the kill switch
func (m *Manager) ResetDrawdownBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawdownActive = false
	m.drawdownReason = ""
	metrics.RiskBreakerActive.WithLabelValues("drawdown").Set(0)
	m.logger.Warn().Msg("drawdown kill switch manually reset")
}

// BreakerActive reports whether any breaker blocks admissions
func (m *Manager) BreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyBreakerActive || m.drawdownActive
}

// DrawdownBreakerActive reports whether the kill switch is tripped
func (m *Manager) DrawdownBreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownActive
}
