// Package broker defines the venue capability set and its adapters.
// Adapters return candles ordered oldest to newest with UTC timestamps.
package broker

import (
	"context"

	"github.com/quantfold/divergent/internal/models"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderResult is the venue response to an order operation
type OrderResult struct {
	ID  string
	Raw map[string]any
}

// Broker is the uniform venue capability set
type Broker interface {
	BrokerID() string
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
	FetchBalance(ctx context.Context) (models.Balance, error)
	CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (OrderResult, error)
	CreateStopOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error)
	CheckConnectivity(ctx context.Context) error
	Close() error
}

// SideForDirection maps a trade direction to the entry order side
func SideForDirection(d models.SignalDirection) string {
	if d == models.DirectionLong {
		return SideBuy
	}
	return SideSell
}

// OppositeSide returns the paired side for protective stops
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
