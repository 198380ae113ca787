package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
	"github.com/quantfold/divergent/internal/risk"
)

type fakeRisk struct {
	result models.RiskCheckResult
	size   float64
}

func (f *fakeRisk) CheckEntry(context.Context, *models.Signal, *models.PortfolioState, string) models.RiskCheckResult {
	return f.result
}

func (f *fakeRisk) PositionSize(*models.Signal, *models.PortfolioState) float64 {
	return f.size
}

type fakeOrderStore struct {
	inserted  []*models.Order
	updated   []*models.Order
	open      []*models.Order
	insertErr error
}

func (f *fakeOrderStore) InsertOrder(_ context.Context, o *models.Order) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, o)
	return nil
}

func (f *fakeOrderStore) UpdateOrder(_ context.Context, o *models.Order) error {
	f.updated = append(f.updated, o)
	return nil
}

func (f *fakeOrderStore) GetOpenOrders(_ context.Context, brokerID string) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.open {
		if o.Broker == brokerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func executionConfig(mode string) *config.Config {
	return &config.Config{
		Trading:   config.TradingConfig{Mode: mode},
		Execution: config.ExecutionConfig{TP1ClosePct: 0.5},
	}
}

func routerWithMock(id string) (*broker.Router, *broker.MockBroker) {
	mock := broker.NewMockBroker(id)
	r := broker.NewRouter()
	r.Register(mock)
	return r, mock
}

func shortSignal(symbol string, entry, stop, tp1 float64) *models.Signal {
	return &models.Signal{
		DivergenceDetected: true,
		Direction:          models.DirectionShort,
		Symbol:             symbol,
		Timeframe:          "4h",
		EntryPrice:         models.Float64Ptr(entry),
		StopLoss:           models.Float64Ptr(stop),
		TakeProfit1:        models.Float64Ptr(tp1),
	}
}

func TestExecuteSignalReversalClosesOppositePosition(t *testing.T) {
	router, mock := routerWithMock("binance")
	mock.SetTicker("BTC/USDT", models.Ticker{Bid: 102, Ask: 102})

	existing := models.NewOrder("BTC/USDT", models.DirectionLong, 100, 95, 110, 10, "binance")
	require.NoError(t, existing.Transition(models.OrderSubmitted))
	require.NoError(t, existing.Transition(models.OrderFilled))

	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{
		result: models.RiskCheckResult{Approved: true, Reason: risk.ReversalPrefix + existing.ID},
		size:   10,
	}
	engine := NewEngine(executionConfig(config.ModePaper), router, riskMgr, store, nil)

	portfolio := &models.PortfolioState{Broker: "binance", OpenPositions: []*models.Order{existing}}
	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), portfolio, nil)
	require.NoError(t, err)
	require.NotNil(t, order)

	// the long is closed at the 102 midpoint: (102-100)*10 gross, round-trip fees off 0.1%
	assert.Equal(t, models.OrderClosed, existing.State)
	assert.InDelta(t, 17.98, existing.PnL, 1e-9)
	assert.Empty(t, portfolio.OpenPositions)
	require.Len(t, store.updated, 1)

	// the short is submitted as a fresh paper order
	assert.Equal(t, models.OrderSubmitted, order.State)
	assert.Equal(t, models.DirectionShort, order.Direction)
	assert.Equal(t, "paper-BTC/USDT-4h", order.ExchangeOrderID)
	require.Len(t, store.inserted, 1)
}

func TestExecuteSignalReversalCancelsUnfilledOrderWithoutPnL(t *testing.T) {
	router, mock := routerWithMock("binance")
	mock.SetTicker("BTC/USDT", models.Ticker{Bid: 102, Ask: 102})

	// submitted but never filled: no position exists to realize against
	existing := models.NewOrder("BTC/USDT", models.DirectionLong, 100, 95, 110, 10, "binance")
	require.NoError(t, existing.Transition(models.OrderSubmitted))

	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{
		result: models.RiskCheckResult{Approved: true, Reason: risk.ReversalPrefix + existing.ID},
		size:   10,
	}
	engine := NewEngine(executionConfig(config.ModePaper), router, riskMgr, store, nil)

	portfolio := &models.PortfolioState{Broker: "binance", OpenPositions: []*models.Order{existing}}
	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), portfolio, nil)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, models.OrderCancelled, existing.State)
	assert.Zero(t, existing.PnL, "an unfilled close books no PnL")
	assert.Zero(t, existing.Fees)
	assert.Zero(t, existing.RemainingQuantity)
	assert.Empty(t, portfolio.OpenPositions)
}

func TestExecuteSignalDeclinedByRisk(t *testing.T) {
	router, _ := routerWithMock("binance")
	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{result: models.RiskCheckResult{Approved: false, Reason: "Circuit breaker active"}}
	engine := NewEngine(executionConfig(config.ModePaper), router, riskMgr, store, nil)

	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), &models.PortfolioState{}, nil)
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Empty(t, store.inserted)
}

func TestExecuteSignalZeroSizeSkips(t *testing.T) {
	router, _ := routerWithMock("binance")
	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{result: models.RiskCheckResult{Approved: true, Reason: "All risk checks passed"}, size: 0}
	engine := NewEngine(executionConfig(config.ModePaper), router, riskMgr, store, nil)

	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), &models.PortfolioState{}, nil)
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Empty(t, store.inserted)
}

func TestExecuteSignalDevModeDoesNotPersist(t *testing.T) {
	router, mock := routerWithMock("binance")
	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{result: models.RiskCheckResult{Approved: true, Reason: "All risk checks passed"}, size: 5}
	engine := NewEngine(executionConfig(config.ModeDev), router, riskMgr, store, nil)

	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), &models.PortfolioState{}, nil)
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Empty(t, store.inserted)
	assert.Empty(t, mock.Orders)
}

func TestExecuteSignalLivePlacesEntryAndProtectiveStop(t *testing.T) {
	router, mock := routerWithMock("binance")
	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{result: models.RiskCheckResult{Approved: true, Reason: "All risk checks passed"}, size: 5}
	engine := NewEngine(executionConfig(config.ModeLive), router, riskMgr, store, nil)

	sig := shortSignal("BTC/USDT", 102, 107, 92)
	sig.Direction = models.DirectionLong
	sig.StopLoss = models.Float64Ptr(97)
	sig.TakeProfit1 = models.Float64Ptr(112)

	order, err := engine.ExecuteSignal(context.Background(), sig, &models.PortfolioState{}, nil)
	require.NoError(t, err)
	require.NotNil(t, order)

	require.Len(t, mock.Orders, 2)
	assert.Equal(t, broker.PlacedOrder{Symbol: "BTC/USDT", Side: broker.SideBuy, Amount: 5, Price: 102, Type: "limit"}, mock.Orders[0])
	assert.Equal(t, broker.PlacedOrder{Symbol: "BTC/USDT", Side: broker.SideSell, Amount: 5, Price: 97, Type: "stop"}, mock.Orders[1])
	assert.Equal(t, "mock-1", order.ExchangeOrderID)
	assert.Equal(t, models.OrderSubmitted, order.State)
}

func TestExecuteSignalAdapterFailurePersistsErrorState(t *testing.T) {
	router, mock := routerWithMock("binance")
	mock.OrderErr = errors.New("venue down")
	store := &fakeOrderStore{}
	riskMgr := &fakeRisk{result: models.RiskCheckResult{Approved: true, Reason: "All risk checks passed"}, size: 5}
	engine := NewEngine(executionConfig(config.ModeLive), router, riskMgr, store, nil)

	order, err := engine.ExecuteSignal(context.Background(), shortSignal("BTC/USDT", 102, 107, 92), &models.PortfolioState{}, nil)
	require.Error(t, err)
	assert.Nil(t, order)

	require.Len(t, store.inserted, 1, "the errored order is kept for audit")
	assert.Equal(t, models.OrderError, store.inserted[0].State)
}
