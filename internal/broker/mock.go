package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfold/divergent/internal/models"
)

// PlacedOrder records an order submitted to the mock venue
type PlacedOrder struct {
	Symbol string
	Side   string
	Amount float64
	Price  float64
	Type   string
}

// MockBroker is an in-memory venue used in tests and dev mode
type MockBroker struct {
	mu sync.Mutex

	ID       string
	Candles  map[string][]models.Candle // keyed "symbol/timeframe"
	Tickers  map[string]models.Ticker
	Balance  models.Balance
	Orders   []PlacedOrder
	Cancels  []string
	FetchErr error
	OrderErr error

	nextOrderID int
}

// NewMockBroker creates a mock venue with the given id
func NewMockBroker(id string) *MockBroker {
	return &MockBroker{
		ID:      id,
		Candles: make(map[string][]models.Candle),
		Tickers: make(map[string]models.Ticker),
		Balance: models.Balance{Total: 10000, Free: 10000},
	}
}

// SetCandles seeds the candle store for a symbol and timeframe
func (m *MockBroker) SetCandles(symbol, timeframe string, candles []models.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Candles[symbol+"/"+timeframe] = candles
}

// SetTicker seeds the ticker for a symbol
func (m *MockBroker) SetTicker(symbol string, t models.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tickers[symbol] = t
}

// BrokerID implements Broker
func (m *MockBroker) BrokerID() string { return m.ID }

// FetchOHLCV implements Broker
func (m *MockBroker) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	candles := m.Candles[symbol+"/"+timeframe]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// FetchTicker implements Broker
func (m *MockBroker) FetchTicker(_ context.Context, symbol string) (models.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return models.Ticker{}, m.FetchErr
	}
	t, ok := m.Tickers[symbol]
	if !ok {
		return models.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return t, nil
}

// FetchBalance implements Broker
func (m *MockBroker) FetchBalance(context.Context) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

// CreateLimitOrder implements Broker
func (m *MockBroker) CreateLimitOrder(_ context.Context, symbol, side string, amount, price float64) (OrderResult, error) {
	return m.placeOrder(symbol, side, amount, price, "limit")
}

// CreateStopOrder implements Broker
func (m *MockBroker) CreateStopOrder(_ context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error) {
	return m.placeOrder(symbol, side, amount, stopPrice, "stop")
}

func (m *MockBroker) placeOrder(symbol, side string, amount, price float64, orderType string) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return OrderResult{}, m.OrderErr
	}
	m.nextOrderID++
	m.Orders = append(m.Orders, PlacedOrder{
		Symbol: symbol, Side: side, Amount: amount, Price: price, Type: orderType,
	})
	return OrderResult{ID: fmt.Sprintf("mock-%d", m.nextOrderID)}, nil
}

// CancelOrder implements Broker
func (m *MockBroker) CancelOrder(_ context.Context, orderID, _ string) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancels = append(m.Cancels, orderID)
	return OrderResult{ID: orderID}, nil
}

// CheckConnectivity implements Broker
func (m *MockBroker) CheckConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchErr
}

// Close implements Broker
func (m *MockBroker) Close() error { return nil }
