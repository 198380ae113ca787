package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// BinanceBroker is the spot adapter for the default crypto venue
type BinanceBroker struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewBinanceBroker creates the Binance spot adapter. Sandbox mode routes
// to the testnet endpoints.
func NewBinanceBroker(cfg config.BrokerConfig) *BinanceBroker {
	if cfg.Sandbox {
		binance.UseTestnet = true
	}
	return &BinanceBroker{
		client: binance.NewClient(cfg.APIKey, cfg.APISecret),
		// request-weight budget, well under the 1200/min account limit
		limiter: rate.NewLimiter(rate.Limit(15), 30),
		logger:  config.NewLogger("broker.binance"),
	}
}

// BrokerID implements Broker
func (b *BinanceBroker) BrokerID() string { return "binance" }

// binanceSymbol converts "BTC/USDT" to Binance's "BTCUSDT" format
func binanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// FetchOHLCV fetches klines ordered oldest to newest
func (b *BinanceBroker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return FetchWithRetry(ctx, "binance.fetch_ohlcv", func() ([]models.Candle, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := b.client.NewKlinesService().
			Symbol(binanceSymbol(symbol)).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, classifyBinanceError("binance.fetch_ohlcv", err)
		}

		candles := make([]models.Candle, 0, len(klines))
		for _, k := range klines {
			o, err1 := strconv.ParseFloat(k.Open, 64)
			h, err2 := strconv.ParseFloat(k.High, 64)
			l, err3 := strconv.ParseFloat(k.Low, 64)
			c, err4 := strconv.ParseFloat(k.Close, 64)
			v, err5 := strconv.ParseFloat(k.Volume, 64)
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
				return nil, Permanent("binance.fetch_ohlcv", fmt.Errorf("malformed kline for %s", symbol))
			}
			candles = append(candles, models.Candle{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Open:   o,
				High:   h,
				Low:    l,
				Close:  c,
				Volume: v,
			})
		}

		b.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
			Int("count", len(candles)).Msg("fetched candles")
		return candles, nil
	})
}

// FetchTicker returns the best bid/ask with last = midpoint
func (b *BinanceBroker) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return FetchWithRetry(ctx, "binance.fetch_ticker", func() (models.Ticker, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return models.Ticker{}, err
		}

		books, err := b.client.NewListBookTickersService().
			Symbol(binanceSymbol(symbol)).
			Do(ctx)
		if err != nil {
			return models.Ticker{}, classifyBinanceError("binance.fetch_ticker", err)
		}
		if len(books) == 0 {
			return models.Ticker{}, Permanent("binance.fetch_ticker", fmt.Errorf("no book ticker for %s", symbol))
		}

		bid, _ := strconv.ParseFloat(books[0].BidPrice, 64)
		ask, _ := strconv.ParseFloat(books[0].AskPrice, 64)
		return models.Ticker{Last: (bid + ask) / 2, Bid: bid, Ask: ask}, nil
	})
}

// FetchBalance sums free and locked balances across assets, reported in
// the account's quote stablecoin terms for USDT-quoted accounts
func (b *BinanceBroker) FetchBalance(ctx context.Context) (models.Balance, error) {
	return FetchWithRetry(ctx, "binance.fetch_balance", func() (models.Balance, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return models.Balance{}, err
		}

		acct, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return models.Balance{}, classifyBinanceError("binance.fetch_balance", err)
		}

		var free, locked float64
		for _, bal := range acct.Balances {
			if bal.Asset != "USDT" && bal.Asset != "BUSD" && bal.Asset != "USDC" {
				continue
			}
			f, _ := strconv.ParseFloat(bal.Free, 64)
			l, _ := strconv.ParseFloat(bal.Locked, 64)
			free += f
			locked += l
		}

		return models.Balance{Total: free + locked, Free: free, Used: locked}, nil
	})
}

// CreateLimitOrder places a GTC limit order
func (b *BinanceBroker) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (OrderResult, error) {
	return FetchWithRetry(ctx, "binance.create_limit_order", func() (OrderResult, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return OrderResult{}, err
		}

		order, err := b.client.NewCreateOrderService().
			Symbol(binanceSymbol(symbol)).
			Side(binanceSide(side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(formatFloat(amount)).
			Price(formatFloat(price)).
			Do(ctx)
		if err != nil {
			return OrderResult{}, classifyBinanceError("binance.create_limit_order", err)
		}

		b.logger.Info().Str("symbol", symbol).Str("side", side).
			Float64("amount", amount).Float64("price", price).
			Int64("order_id", order.OrderID).Msg("limit order placed")

		return OrderResult{
			ID:  strconv.FormatInt(order.OrderID, 10),
			Raw: map[string]any{"status": string(order.Status), "client_order_id": order.ClientOrderID},
		}, nil
	})
}

// CreateStopOrder places a stop-loss limit order at the stop price
func (b *BinanceBroker) CreateStopOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error) {
	return FetchWithRetry(ctx, "binance.create_stop_order", func() (OrderResult, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return OrderResult{}, err
		}

		order, err := b.client.NewCreateOrderService().
			Symbol(binanceSymbol(symbol)).
			Side(binanceSide(side)).
			Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(formatFloat(amount)).
			Price(formatFloat(stopPrice)).
			StopPrice(formatFloat(stopPrice)).
			Do(ctx)
		if err != nil {
			return OrderResult{}, classifyBinanceError("binance.create_stop_order", err)
		}

		b.logger.Info().Str("symbol", symbol).Str("side", side).
			Float64("amount", amount).Float64("stop_price", stopPrice).
			Int64("order_id", order.OrderID).Msg("stop order placed")

		return OrderResult{
			ID:  strconv.FormatInt(order.OrderID, 10),
			Raw: map[string]any{"status": string(order.Status)},
		}, nil
	})
}

// CancelOrder cancels an open order
func (b *BinanceBroker) CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderResult{}, Permanent("binance.cancel_order", fmt.Errorf("invalid order id %q: %w", orderID, err))
	}

	return FetchWithRetry(ctx, "binance.cancel_order", func() (OrderResult, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return OrderResult{}, err
		}

		resp, err := b.client.NewCancelOrderService().
			Symbol(binanceSymbol(symbol)).
			OrderID(id).
			Do(ctx)
		if err != nil {
			return OrderResult{}, classifyBinanceError("binance.cancel_order", err)
		}

		b.logger.Info().Str("symbol", symbol).Str("order_id", orderID).Msg("order cancelled")
		return OrderResult{ID: orderID, Raw: map[string]any{"status": string(resp.Status)}}, nil
	})
}

// CheckConnectivity pings the venue
func (b *BinanceBroker) CheckConnectivity(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return Transient("binance.ping", err)
	}
	return nil
}

// Close implements Broker; the REST client holds no persistent connection
func (b *BinanceBroker) Close() error { return nil }

func binanceSide(side string) binance.SideType {
	if side == SideBuy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// classifyBinanceError sorts venue failures into the retry taxonomy.
// go-binance surfaces API failures as *common.APIError with the venue's
// numeric code; -1003 is the rate-limit code.
func classifyBinanceError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-1003"), // TOO_MANY_REQUESTS
		strings.Contains(msg, "code=-1001"), // DISCONNECTED
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return Transient(op, err)
	case strings.Contains(msg, "code=-"):
		return Permanent(op, err)
	}
	return Transient(op, err)
}
