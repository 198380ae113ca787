package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

type fakeStore struct {
	realized    float64
	open        []*models.Order
	closedToday []*models.Order
	peak        float64
	events      []string
}

func (f *fakeStore) SumRealizedPnL(ctx context.Context, broker string) (float64, error) {
	return f.realized, nil
}

func (f *fakeStore) GetOpenOrders(ctx context.Context, broker string) ([]*models.Order, error) {
	return f.open, nil
}

func (f *fakeStore) GetOrdersClosedSince(ctx context.Context, broker string, since time.Time) ([]*models.Order, error) {
	return f.closedToday, nil
}

func (f *fakeStore) PeakEquity(ctx context.Context, broker string) (float64, error) {
	return f.peak, nil
}

func (f *fakeStore) InsertBreakerEvent(ctx context.Context, reason, details string) (int64, error) {
	f.events = append(f.events, reason)
	return int64(len(f.events)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			MaxPositionPct:   2.0,
			MaxDailyLossPct:  5.0,
			MaxDrawdownPct:   15.0,
			MaxOpenPositions: 4,
			MinRiskReward:    2.0,
			MinConfidence:    0.7,
		},
		Brokers: map[string]config.BrokerConfig{
			"binance": {StartingEquity: 10000},
			"oanda":   {StartingEquity: 10000},
		},
	}
}

func portfolioWithEquity(equity float64) *models.PortfolioState {
	return &models.PortfolioState{
		Broker:           "binance",
		TotalEquity:      equity,
		AvailableBalance: equity,
	}
}

func longSignal(symbol string, entry, stop float64) *models.Signal {
	return &models.Signal{
		Direction:  models.DirectionLong,
		Symbol:     symbol,
		EntryPrice: models.Float64Ptr(entry),
		StopLoss:   models.Float64Ptr(stop),
	}
}

func openPosition(symbol string, direction models.SignalDirection) *models.Order {
	o := models.NewOrder(symbol, direction, 100, 95, 110, 1, "binance")
	o.State = models.OrderFilled
	return o
}

func TestCheckEntryApprovesCleanPortfolio(t *testing.T) {
	m := NewManager(testConfig(), &fakeStore{})

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolioWithEquity(10000), "binance")
	require.True(t, res.Approved, res.Reason)
	assert.Equal(t, "All risk checks passed", res.Reason)
}

func TestCheckEntryDailyLossBreaker(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(testConfig(), store)

	day1 := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day1 }

	// 6% daily loss on 10k equity trips the breaker
	portfolio := portfolioWithEquity(10000)
	portfolio.DailyPnL = -600

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolio, "binance")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Daily loss 6.0% exceeds 5.0%")
	assert.True(t, m.BreakerActive())
	require.Len(t, store.events, 1)
	assert.Contains(t, store.events[0], "DAILY LOSS")

	// still blocked for the rest of the day, even on a healthy portfolio
	res = m.CheckEntry(context.Background(), longSignal("ETH/USDT", 100, 95), portfolioWithEquity(10000), "binance")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Circuit breaker active")

	// UTC midnight passes, admission resumes
	m.now = func() time.Time { return day1.Add(24 * time.Hour) }
	res = m.CheckEntry(context.Background(), longSignal("ETH/USDT", 100, 95), portfolioWithEquity(10000), "binance")
	require.True(t, res.Approved, res.Reason)
	assert.False(t, m.BreakerActive())
}

func TestCheckEntryReversalOnOppositePosition(t *testing.T) {
	m := NewManager(testConfig(), &fakeStore{})

	existing := openPosition("BTC/USDT", models.DirectionShort)
	portfolio := portfolioWithEquity(10000)
	portfolio.OpenPositions = []*models.Order{existing}

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolio, "binance")
	require.True(t, res.Approved)
	assert.Equal(t, ReversalPrefix+existing.ID, res.Reason)
}

func TestCheckEntryRejectsDuplicateDirection(t *testing.T) {
	m := NewManager(testConfig(), &fakeStore{})

	portfolio := portfolioWithEquity(10000)
	portfolio.OpenPositions = []*models.Order{openPosition("BTC/USDT", models.DirectionLong)}

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolio, "binance")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Already long on BTC/USDT")
}

func TestCheckEntryMaxOpenPositions(t *testing.T) {
	cfg := testConfig()
	two := 2
	b := cfg.Brokers["binance"]
	b.MaxOpenPositions = &two
	cfg.Brokers["binance"] = b
	m := NewManager(cfg, &fakeStore{})

	portfolio := portfolioWithEquity(10000)
	portfolio.OpenPositions = []*models.Order{
		openPosition("ETH/USDT", models.DirectionLong),
		openPosition("SOL/USDT", models.DirectionShort),
	}

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolio, "binance")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Max open positions (2) reached for binance")
}

func TestCheckEntryCorrelationLimitPerAssetClass(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxOpenPositions = 10
	m := NewManager(cfg, &fakeStore{})

	portfolio := portfolioWithEquity(10000)
	for _, sym := range []string{"EUR_USD", "GBP_USD", "AUD_USD", "EUR_GBP"} {
		portfolio.OpenPositions = append(portfolio.OpenPositions, openPosition(sym, models.DirectionLong))
	}

	// a fifth same-direction forex position breaches the class limit
	res := m.CheckEntry(context.Background(), longSignal("USD_JPY", 150, 149), portfolio, "oanda")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Correlation limit")

	// cross-asset positions do not block each other
	res = m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolio, "binance")
	require.True(t, res.Approved, res.Reason)

	// the short side is counted independently
	shortSig := longSignal("USD_JPY", 150, 151)
	shortSig.Direction = models.DirectionShort
	res = m.CheckEntry(context.Background(), shortSig, portfolio, "oanda")
	require.True(t, res.Approved, res.Reason)
}

func TestCheckEntryCorrelationBrokerOverrideTightensLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxOpenPositions = 10
	tighter := 2
	broker := cfg.Brokers["oanda"]
	broker.MaxCorrelationExposure = &tighter
	cfg.Brokers["oanda"] = broker
	m := NewManager(cfg, &fakeStore{})

	portfolio := portfolioWithEquity(10000)
	for _, sym := range []string{"EUR_USD", "GBP_USD"} {
		portfolio.OpenPositions = append(portfolio.OpenPositions, openPosition(sym, models.DirectionLong))
	}

	// two same-direction forex positions already hit the broker's cap of 2
	res := m.CheckEntry(context.Background(), longSignal("USD_JPY", 150, 149), portfolio, "oanda")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "Correlation limit")

	// a broker without the override keeps the asset-class default of 4
	res = m.CheckEntry(context.Background(), longSignal("USD_JPY", 150, 149), portfolio, "binance")
	require.True(t, res.Approved, res.Reason)
}

func TestCryptoPositionSizing(t *testing.T) {
	m := NewManager(testConfig(), &fakeStore{})
	portfolio := portfolioWithEquity(10000)

	// 2% risk of 10k = 200; stop distance 50 gives 4 units
	size := m.PositionSize(longSignal("BTC/USDT", 100, 50), portfolio)
	assert.InDelta(t, 4.0, size, 1e-9)

	// tight stop: uncapped size would be 40, notional cap binds at 10
	size = m.PositionSize(longSignal("BTC/USDT", 100, 95), portfolio)
	assert.InDelta(t, 10.0, size, 1e-9)

	// degenerate inputs size to zero
	assert.Zero(t, m.PositionSize(longSignal("BTC/USDT", 100, 100), portfolio))
	assert.Zero(t, m.PositionSize(&models.Signal{Symbol: "BTC/USDT"}, portfolio))
}

func TestPipPositionSizing(t *testing.T) {
	m := NewManager(testConfig(), &fakeStore{})
	portfolio := portfolioWithEquity(10000)

	// 50 pip stop on EUR/USD: 200 AUD risk over 50 * 0.0001/0.65 AUD per unit
	size := m.PositionSize(longSignal("EUR_USD", 1.1000, 1.0950), portfolio)
	assert.InDelta(t, 26000, size, 1.0)
	assert.Equal(t, size, float64(int64(size)), "units must be whole")

	// a one-pip stop would size absurdly large; the leverage cap binds
	size = m.PositionSize(longSignal("EUR_USD", 1.1000, 1.0999), portfolio)
	maxUnits := 10000 * 30 / (1.1 * QuoteToAUDRate("USD"))
	assert.InDelta(t, maxUnits, size, 1.0)
}

func TestPortfolioStateReconstruction(t *testing.T) {
	store := &fakeStore{
		realized: -500,
		open:     []*models.Order{openPosition("BTC/USDT", models.DirectionLong)},
		peak:     10000,
	}
	closed := openPosition("ETH/USDT", models.DirectionLong)
	closed.State = models.OrderClosed
	closed.PnL = -120
	store.closedToday = []*models.Order{closed}

	m := NewManager(testConfig(), store)
	state, err := m.PortfolioState(context.Background(), "binance")
	require.NoError(t, err)

	assert.InDelta(t, 9500.0, state.TotalEquity, 1e-9)
	assert.InDelta(t, -120.0, state.DailyPnL, 1e-9)
	assert.Equal(t, 1, state.DailyTrades)
	assert.Len(t, state.OpenPositions, 1)
	assert.False(t, m.DrawdownBreakerActive(), "5 percent drawdown is inside the limit")
}

func TestDrawdownKillSwitch(t *testing.T) {
	store := &fakeStore{realized: -2400, peak: 12000}
	m := NewManager(testConfig(), store)

	// equity 7600 vs peak 12000 is a 36.7% drawdown
	_, err := m.PortfolioState(context.Background(), "binance")
	require.NoError(t, err)
	require.True(t, m.DrawdownBreakerActive())
	require.Len(t, store.events, 1)
	assert.Contains(t, store.events[0], "MAX DRAWDOWN")

	res := m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolioWithEquity(7600), "binance")
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "DRAWDOWN KILL SWITCH")

	// the kill switch survives the daily rollover
	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	res = m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolioWithEquity(7600), "binance")
	require.False(t, res.Approved)

	// manual reset restores admissions
	m.ResetDrawdownBreaker()
	res = m.CheckEntry(context.Background(), longSignal("BTC/USDT", 100, 95), portfolioWithEquity(7600), "binance")
	require.True(t, res.Approved, res.Reason)
}

func TestDevModeWithoutStore(t *testing.T) {
	m := NewManager(testConfig(), nil)

	state, err := m.PortfolioState(context.Background(), "oanda")
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, state.TotalEquity, 1e-9)
	assert.Empty(t, state.OpenPositions)
}

func TestQuoteToAUDRates(t *testing.T) {
	assert.InDelta(t, 1.0/0.65, QuoteToAUDRate("USD"), 1e-9)
	assert.InDelta(t, 1.0, QuoteToAUDRate("AUD"), 1e-9)
	// stablecoins and unknown currencies fall back to USD
	assert.Equal(t, QuoteToAUDRate("USD"), QuoteToAUDRate("USDT"))
	assert.Equal(t, QuoteToAUDRate("USD"), QuoteToAUDRate("XYZ"))
}
