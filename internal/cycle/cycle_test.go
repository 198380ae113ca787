package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/db"
	"github.com/quantfold/divergent/internal/indicators"
	"github.com/quantfold/divergent/internal/models"
	"github.com/quantfold/divergent/internal/validator"
)

type fakeCycleStore struct {
	signals   []db.SignalRecord
	cycles    []*models.AnalysisCycleResult
	snapshots []*models.PortfolioState
	nextID    int64
}

func (f *fakeCycleStore) InsertSignal(_ context.Context, rec db.SignalRecord) (int64, error) {
	f.nextID++
	f.signals = append(f.signals, rec)
	return f.nextID, nil
}

func (f *fakeCycleStore) InsertAnalysisCycle(_ context.Context, result *models.AnalysisCycleResult) (int64, error) {
	f.cycles = append(f.cycles, result)
	return int64(len(f.cycles)), nil
}

func (f *fakeCycleStore) InsertPortfolioSnapshot(_ context.Context, state *models.PortfolioState) error {
	f.snapshots = append(f.snapshots, state)
	return nil
}

func (f *fakeCycleStore) UpsertCandles(context.Context, string, string, []models.Candle) error {
	return nil
}

type fakeDetector struct {
	signals  map[string]*models.Signal // keyed by timeframe
	calls    int
	statuses []models.CandleStatus
}

func (f *fakeDetector) Name() string { return "fake" }

func (f *fakeDetector) Detect(_ context.Context, symbol, timeframe string, _ *models.IndicatorSet, status models.CandleStatus) (*models.Signal, error) {
	f.calls++
	f.statuses = append(f.statuses, status)
	if sig, ok := f.signals[timeframe]; ok {
		out := *sig
		out.Symbol = symbol
		out.Timeframe = timeframe
		return &out, nil
	}
	return &models.Signal{Symbol: symbol, Timeframe: timeframe, Reasoning: "no divergence"}, nil
}

type fakeExecutor struct {
	executed []*models.Signal
	declined bool
}

func (f *fakeExecutor) ExecuteSignal(_ context.Context, sig *models.Signal, portfolio *models.PortfolioState, _ *int64) (*models.Order, error) {
	if f.declined {
		return nil, nil
	}
	f.executed = append(f.executed, sig)
	o := models.NewOrder(sig.Symbol, sig.Direction, *sig.EntryPrice, *sig.StopLoss, *sig.TakeProfit1, 1, portfolio.Broker)
	if err := o.Transition(models.OrderSubmitted); err != nil {
		return nil, err
	}
	return o, nil
}

type fakePortfolios struct{}

func (fakePortfolios) PortfolioState(_ context.Context, brokerID string) (*models.PortfolioState, error) {
	return &models.PortfolioState{Broker: brokerID, TotalEquity: 10000, AvailableBalance: 10000}, nil
}

func indicatorDefaults() config.IndicatorConfig {
	return config.IndicatorConfig{
		RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		StochKPeriod: 14, StochDPeriod: 3, StochSlowing: 3,
		MFIPeriod: 14, ATRPeriod: 14, ADXPeriod: 14,
		CCIPeriod: 20, WilliamsRPeriod: 14,
		EMAShort: 20, EMAMedium: 50, EMALong: 200, VolumeSMAPeriod: 20,
	}
}

func cycleConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Mode:            config.ModePaper,
			Symbols:         []string{"EUR_USD"},
			Timeframes:      []string{"1h"},
			LookbackCandles: 60,
		},
		Indicators: indicatorDefaults(),
		Validator: config.ValidatorConfig{
			CandleGateLookback: 5,
			VolumeLowThreshold: 0.5,
		},
		Risk: config.RiskConfig{
			MinRiskReward: 2.0,
			MinConfidence: 0.7,
		},
		MultiTF: config.MultiTFConfig{SetupExpiryHours: 24},
	}
}

// testCandles produces a gently alternating series ending in a bullish
// engulfing bar, enough history for the indicator engine and a pattern
// hit for the long-side candle gate.
func testCandles(n int, end time.Time, step time.Duration) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		c := models.Candle{
			Time:   end.Add(-time.Duration(n-1-i) * step),
			Volume: 100,
		}
		switch {
		case i == n-2:
			c.Open, c.Close, c.High, c.Low = 100.3, 99.8, 100.5, 99.6
		case i == n-1:
			c.Open, c.Close, c.High, c.Low = 99.7, 100.5, 100.7, 99.6
		case i%2 == 0:
			c.Open, c.Close, c.High, c.Low = 99.9, 100.1, 100.4, 99.6
		default:
			c.Open, c.Close, c.High, c.Low = 100.1, 99.9, 100.4, 99.6
		}
		out[i] = c
	}
	return out
}

func longTestSignal(entry, stop, tp1 float64) *models.Signal {
	return &models.Signal{
		DivergenceDetected:   true,
		DivergenceType:       models.BullishRegular,
		Direction:            models.DirectionLong,
		Confidence:           0.85,
		EntryPrice:           models.Float64Ptr(entry),
		StopLoss:             models.Float64Ptr(stop),
		TakeProfit1:          models.Float64Ptr(tp1),
		Indicator:            "RSI,MACD",
		ConfirmingIndicators: []string{"RSI", "MACD"},
		SwingLengthBars:      12,
		Reasoning:            "bullish divergence: 2/3 oscillators confirming (RSI,MACD).",
	}
}

func analyzerFixture(t *testing.T, cfg *config.Config, det *fakeDetector) (*Analyzer, *fakeCycleStore, *fakeExecutor, *broker.MockBroker) {
	t.Helper()
	mock := broker.NewMockBroker("oanda")
	router := broker.NewRouter()
	router.Register(mock)

	store := &fakeCycleStore{}
	exec := &fakeExecutor{}
	a := NewAnalyzer(cfg, router, indicators.NewEngine(cfg.Indicators), det,
		validator.New(cfg.Validator, cfg.Risk), validator.NewScorer(),
		fakePortfolios{}, exec, store, nil)
	return a, store, exec, mock
}

func TestRunPlacesOrderForValidatedSignal(t *testing.T) {
	cfg := cycleConfig()
	det := &fakeDetector{signals: map[string]*models.Signal{
		"1h": longTestSignal(100, 98, 104),
	}}
	a, store, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "1h", testCandles(40, end, time.Hour))

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, exec.executed, 1)
	assert.Equal(t, "EUR_USD", exec.executed[0].Symbol)

	require.Len(t, store.signals, 1)
	assert.True(t, store.signals[0].Validated)
	assert.Equal(t, "oanda", store.signals[0].Broker)
	assert.Greater(t, store.signals[0].Score, 0.0)

	require.Len(t, store.cycles, 1)
	result := store.cycles[0]
	assert.Equal(t, 1, result.SignalsFound)
	assert.Equal(t, 1, result.SignalsValidated)
	assert.Equal(t, 1, result.OrdersPlaced)
	assert.Equal(t, "order_placed", result.SymbolDetails["EUR_USD/1h"])
	require.Len(t, store.snapshots, 1)
}

func TestRunSkipsAlreadySignaledCandle(t *testing.T) {
	cfg := cycleConfig()
	det := &fakeDetector{signals: map[string]*models.Signal{
		"1h": longTestSignal(100, 98, 104),
	}}
	a, store, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "1h", testCandles(40, end, time.Hour))

	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, 1, det.calls, "the prevailing candle is analyzed once")
	assert.Len(t, exec.executed, 1)
	assert.Equal(t, "already_signaled", store.cycles[1].SymbolDetails["EUR_USD/1h"])
}

func TestRunReportsCandleStatusToDetector(t *testing.T) {
	cfg := cycleConfig()
	det := &fakeDetector{} // never finds a divergence
	a, _, _, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	candles := testCandles(40, end, time.Hour)
	mock.SetCandles("EUR_USD", "1h", candles)

	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []models.CandleStatus{models.CandleClosed, models.CandleForming}, det.statuses,
		"a new latest candle is closed, an unchanged one is forming")

	next := models.Candle{Time: end.Add(time.Hour), Open: 100.5, Close: 100.6, High: 100.8, Low: 100.3, Volume: 100}
	mock.SetCandles("EUR_USD", "1h", append(candles[1:], next))

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, det.statuses, 3)
	assert.Equal(t, models.CandleClosed, det.statuses[2])
}

func TestSeedCandleCacheSuppressesPrevailingCandle(t *testing.T) {
	cfg := cycleConfig()
	det := &fakeDetector{signals: map[string]*models.Signal{
		"1h": longTestSignal(100, 98, 104),
	}}
	a, _, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	candles := testCandles(40, end, time.Hour)
	mock.SetCandles("EUR_USD", "1h", candles)

	require.NoError(t, a.SeedCandleCache(context.Background()))
	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, exec.executed, "no signals from the candle that predates startup")

	// a freshly closed candle re-enables signaling
	next := models.Candle{Time: end.Add(time.Hour), Open: 100.5, Close: 100.6, High: 100.8, Low: 100.3, Volume: 100}
	mock.SetCandles("EUR_USD", "1h", append(candles[1:], next))

	require.NoError(t, a.Run(context.Background()))
	assert.Len(t, exec.executed, 1)
}

func TestRunRejectsBelowBrokerConfidenceFloor(t *testing.T) {
	cfg := cycleConfig()
	floor := 0.9
	cfg.Brokers = map[string]config.BrokerConfig{
		"oanda": {MinConfidence: &floor},
	}
	det := &fakeDetector{signals: map[string]*models.Signal{
		"1h": longTestSignal(100, 98, 104),
	}}
	a, store, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "1h", testCandles(40, end, time.Hour))

	require.NoError(t, a.Run(context.Background()))

	assert.Empty(t, exec.executed)
	require.Len(t, store.signals, 1, "the rejected signal is still persisted")
	assert.False(t, store.signals[0].Validated)
	assert.Contains(t, store.signals[0].ValidationReason, "below oanda threshold")
}

func TestRunRecordsInsufficientData(t *testing.T) {
	cfg := cycleConfig()
	det := &fakeDetector{}
	a, store, _, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "1h", testCandles(10, end, time.Hour))

	require.NoError(t, a.Run(context.Background()))

	assert.Zero(t, det.calls)
	assert.Equal(t, "insufficient_data", store.cycles[0].SymbolDetails["EUR_USD/1h"])
}

func TestRunOneOrderPerSymbolPerCycle(t *testing.T) {
	cfg := cycleConfig()
	cfg.Trading.Timeframes = []string{"1h", "4h"}
	det := &fakeDetector{signals: map[string]*models.Signal{
		"1h": longTestSignal(100, 98, 104),
		"4h": longTestSignal(100, 97, 106),
	}}
	a, store, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "1h", testCandles(40, end, time.Hour))
	mock.SetCandles("EUR_USD", "4h", testCandles(40, end, 4*time.Hour))

	require.NoError(t, a.Run(context.Background()))

	assert.Len(t, exec.executed, 1, "one order per symbol per cycle")
	assert.Equal(t, "order_placed", store.cycles[0].SymbolDetails["EUR_USD/1h"])
	assert.Equal(t, "already_traded_this_cycle", store.cycles[0].SymbolDetails["EUR_USD/4h"])
	assert.Equal(t, 2, store.cycles[0].SignalsValidated)
}

func TestRunMultiTimeframeConfirmation(t *testing.T) {
	cfg := cycleConfig()
	cfg.Trading.Timeframes = []string{"4h", "1h"}
	cfg.MultiTF.Enabled = true
	det := &fakeDetector{signals: map[string]*models.Signal{
		"4h": longTestSignal(100, 97, 106),
	}}
	a, store, exec, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	oneHour := testCandles(40, end, time.Hour)
	mock.SetCandles("EUR_USD", "1h", oneHour)
	mock.SetCandles("EUR_USD", "4h", testCandles(40, end, 4*time.Hour))

	// first cycle: the 4h signal becomes a setup, nothing executes
	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, exec.executed)
	assert.Equal(t, "setup_created", store.cycles[0].SymbolDetails["EUR_USD/4h"])
	assert.Equal(t, 1, a.setups.Len())

	// second cycle: a 1h trigger confirms the stored setup
	delete(det.signals, "4h")
	det.signals["1h"] = longTestSignal(101, 99.5, 104)
	require.NoError(t, a.Run(context.Background()))

	require.Len(t, exec.executed, 1)
	confirmed := exec.executed[0]
	assert.Equal(t, "4h+1h", confirmed.Timeframe)
	assert.InDelta(t, 101.0, *confirmed.EntryPrice, 1e-9, "entry from the 1h trigger")
	assert.InDelta(t, 97.0, *confirmed.StopLoss, 1e-9, "stop from the 4h setup")
	assert.InDelta(t, 109.0, *confirmed.TakeProfit1, 1e-9, "targets recomputed from the merged risk")
	assert.InDelta(t, 113.0, *confirmed.TakeProfit2, 1e-9)
	assert.InDelta(t, 117.0, *confirmed.TakeProfit3, 1e-9)
	assert.Zero(t, a.setups.Len(), "the setup is consumed")

	// the confirmed signal gets its own persisted row
	last := store.signals[len(store.signals)-1]
	assert.Equal(t, "4h+1h", last.Signal.Timeframe)

	// third cycle: a fresh 1h signal finds no setup and is skipped
	next := models.Candle{Time: end.Add(time.Hour), Open: 100.5, Close: 100.6, High: 100.8, Low: 100.3, Volume: 100}
	mock.SetCandles("EUR_USD", "1h", append(oneHour[1:], next))
	require.NoError(t, a.Run(context.Background()))

	assert.Len(t, exec.executed, 1, "no duplicate confirmation")
	assert.Equal(t, "no_matching_setup", store.cycles[2].SymbolDetails["EUR_USD/1h"])
}

func TestConfirmSetupFallsBackToTriggerStop(t *testing.T) {
	cfg := cycleConfig()
	cfg.MultiTF.Enabled = true
	a, _, _, _ := analyzerFixture(t, cfg, &fakeDetector{})

	// the 4h stop sits above the 1h entry, so it cannot protect a long
	setup := longTestSignal(100, 101.5, 106)
	setup.Symbol = "EUR_USD"
	a.setups.Put("oanda", &models.ActiveSetup{
		Signal:    *setup,
		Direction: models.DirectionLong,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	trigger := longTestSignal(101, 99.5, 104)
	trigger.Symbol = "EUR_USD"
	trigger.Timeframe = "1h"

	confirmed, ok := a.confirmSetup(trigger, "oanda")
	require.True(t, ok)
	assert.InDelta(t, 99.5, *confirmed.StopLoss, 1e-9, "falls back to the trigger stop")
	assert.InDelta(t, 104.0, *confirmed.TakeProfit1, 1e-9)
}

func TestRunExpiresStaleSetups(t *testing.T) {
	cfg := cycleConfig()
	cfg.Trading.Timeframes = []string{"4h"}
	cfg.MultiTF.Enabled = true
	det := &fakeDetector{signals: map[string]*models.Signal{
		"4h": longTestSignal(100, 97, 106),
	}}
	a, _, _, mock := analyzerFixture(t, cfg, det)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.SetCandles("EUR_USD", "4h", testCandles(40, end, 4*time.Hour))

	now := end
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, 1, a.setups.Len())

	now = end.Add(25 * time.Hour)
	require.NoError(t, a.Run(context.Background()))
	assert.Zero(t, a.setups.Len(), "the setup expired before the second cycle analyzed anything")
}
