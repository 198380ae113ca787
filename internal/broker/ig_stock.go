package broker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/models"
)

// IGStockBroker is a composite adapter: IG executes orders while an
// external data provider supplies OHLCV for share CFDs, which IG blocks
// from its price history API. Non-stock IG symbols (indices, commodities,
// bonds) still use IG for data.
type IGStockBroker struct {
	ig           *IGBroker
	data         *YahooProvider
	epicToTicker map[string]string
	logger       zerolog.Logger
}

// NewIGStockBroker wraps an IG adapter with the stock data fallback
func NewIGStockBroker(ig *IGBroker, data *YahooProvider) *IGStockBroker {
	return &IGStockBroker{
		ig:           ig,
		data:         data,
		epicToTicker: instruments.EpicToTicker,
		logger:       config.NewLogger("broker.ig_stock"),
	}
}

// BrokerID matches the execution venue
func (b *IGStockBroker) BrokerID() string { return "ig" }

// FetchOHLCV routes stock epics to the fallback data source
func (b *IGStockBroker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if ticker, ok := b.epicToTicker[symbol]; ok {
		candles, err := b.data.FetchOHLCV(ctx, ticker, timeframe, limit)
		if err != nil {
			return nil, err
		}
		b.logger.Debug().Str("symbol", symbol).Str("ticker", ticker).
			Str("timeframe", timeframe).Int("count", len(candles)).
			Msg("candles via data fallback")
		return candles, nil
	}
	return b.ig.FetchOHLCV(ctx, symbol, timeframe, limit)
}

// FetchTicker tries IG first and falls back to the data provider for
// stock epics, since IG demo accounts return null bid/offer for them
func (b *IGStockBroker) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	ticker, err := b.ig.FetchTicker(ctx, symbol)
	if err == nil && ticker.Last > 0 {
		return ticker, nil
	}

	if yahooTicker, ok := b.epicToTicker[symbol]; ok {
		fallback, fbErr := b.data.FetchTicker(ctx, yahooTicker)
		if fbErr == nil && fallback.Last > 0 {
			b.logger.Debug().Str("symbol", symbol).Str("ticker", yahooTicker).
				Msg("ticker via data fallback")
			return fallback, nil
		}
		if fbErr != nil {
			b.logger.Warn().Str("symbol", symbol).Err(fbErr).Msg("ticker fallback failed")
		}
	}

	return ticker, err
}

// FetchBalance delegates to IG
func (b *IGStockBroker) FetchBalance(ctx context.Context) (models.Balance, error) {
	return b.ig.FetchBalance(ctx)
}

// CreateLimitOrder delegates to IG
func (b *IGStockBroker) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (OrderResult, error) {
	return b.ig.CreateLimitOrder(ctx, symbol, side, amount, price)
}

// CreateStopOrder delegates to IG
func (b *IGStockBroker) CreateStopOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error) {
	return b.ig.CreateStopOrder(ctx, symbol, side, amount, stopPrice)
}

// CancelOrder delegates to IG
func (b *IGStockBroker) CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	return b.ig.CancelOrder(ctx, orderID, symbol)
}

// CheckConnectivity delegates to IG
func (b *IGStockBroker) CheckConnectivity(ctx context.Context) error {
	return b.ig.CheckConnectivity(ctx)
}

// Close releases the IG session
func (b *IGStockBroker) Close() error {
	return b.ig.Close()
}
