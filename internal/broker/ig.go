package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/models"
)

// quoteCurrencyFor resolves the currency code sent with IG orders
func quoteCurrencyFor(symbol string) string {
	return instruments.Get(symbol).QuoteCurrency
}

// igResolution maps internal timeframes to IG resolution strings
var igResolution = map[string]string{
	"1m": "MINUTE", "5m": "MINUTE_5", "15m": "MINUTE_15", "30m": "MINUTE_30",
	"1h": "HOUR", "4h": "HOUR_4", "1d": "DAY", "1w": "WEEK",
}

// IGBroker is the IG Markets REST adapter. All price data is the bid/ask
// midpoint so it lines up with the indicator pipeline.
type IGBroker struct {
	session *IGSession
	limiter *SlidingWindowLimiter
	cb      *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewIGBroker creates the IG adapter
func NewIGBroker(cfg config.BrokerConfig) *IGBroker {
	return &IGBroker{
		session: NewIGSession(cfg),
		limiter: NewIGLimiter(),
		cb:      newVenueBreaker("ig"),
		logger:  config.NewLogger("broker.ig"),
	}
}

// BrokerID implements Broker
func (b *IGBroker) BrokerID() string { return "ig" }

func (b *IGBroker) request(ctx context.Context, category, method, path, version string, params url.Values, body any) (map[string]any, error) {
	if err := b.limiter.Acquire(ctx, category); err != nil {
		return nil, err
	}
	return throughBreaker(b.cb, "ig."+path, func() (map[string]any, error) {
		return b.session.Request(ctx, method, path, version, params, body)
	})
}

// FetchOHLCV fetches historical prices, converted to bid/ask midpoints
func (b *IGBroker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return FetchWithRetry(ctx, "ig.fetch_ohlcv", func() ([]models.Candle, error) {
		resolution, ok := igResolution[timeframe]
		if !ok {
			resolution = "HOUR"
		}
		if limit > 1000 {
			limit = 1000
		}

		params := url.Values{}
		params.Set("resolution", resolution)
		params.Set("max", strconv.Itoa(limit))
		params.Set("pageSize", "0")

		data, err := b.request(ctx, CategoryHistorical, http.MethodGet, "/prices/"+symbol, "3", params, nil)
		if err != nil {
			return nil, err
		}

		rawPrices, _ := data["prices"].([]any)
		candles := make([]models.Candle, 0, len(rawPrices))
		for _, rp := range rawPrices {
			p, ok := rp.(map[string]any)
			if !ok {
				continue
			}

			tsStr := str(p["snapshotTimeUTC"])
			if tsStr == "" {
				tsStr = str(p["snapshotTime"])
			}
			ts, err := parseIGTime(tsStr)
			if err != nil {
				continue
			}

			candles = append(candles, models.Candle{
				Time:   ts,
				Open:   igMid(p["openPrice"]),
				High:   igMid(p["highPrice"]),
				Low:    igMid(p["lowPrice"]),
				Close:  igMid(p["closePrice"]),
				Volume: f64(p["lastTradedVolume"]),
			})
		}

		b.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
			Int("count", len(candles)).Msg("fetched candles")
		return candles, nil
	})
}

// FetchTicker returns the market snapshot bid/offer midpoint
func (b *IGBroker) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return FetchWithRetry(ctx, "ig.fetch_ticker", func() (models.Ticker, error) {
		data, err := b.request(ctx, CategoryData, http.MethodGet, "/markets/"+symbol, "3", nil, nil)
		if err != nil {
			return models.Ticker{}, err
		}

		snapshot, _ := data["snapshot"].(map[string]any)
		bid := f64(snapshot["bid"])
		ask := f64(snapshot["offer"])
		mid := bid
		if bid > 0 && ask > 0 {
			mid = (bid + ask) / 2
		} else if ask > 0 {
			mid = ask
		}
		return models.Ticker{Last: mid, Bid: bid, Ask: ask}, nil
	})
}

// FetchBalance finds the configured account in /accounts
func (b *IGBroker) FetchBalance(ctx context.Context) (models.Balance, error) {
	return FetchWithRetry(ctx, "ig.fetch_balance", func() (models.Balance, error) {
		data, err := b.request(ctx, CategoryData, http.MethodGet, "/accounts", "1", nil, nil)
		if err != nil {
			return models.Balance{}, err
		}

		accounts, _ := data["accounts"].([]any)
		for _, ra := range accounts {
			acc, ok := ra.(map[string]any)
			if !ok {
				continue
			}
			if id := str(acc["accountId"]); id == b.session.AccountID() || b.session.AccountID() == "" {
				bal, _ := acc["balance"].(map[string]any)
				total := f64(bal["balance"])
				free := f64(bal["available"])
				return models.Balance{Total: total, Free: free, Used: total - free}, nil
			}
		}
		return models.Balance{}, nil
	})
}

// CreateLimitOrder places a limit working order
func (b *IGBroker) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (OrderResult, error) {
	return b.createWorkingOrder(ctx, "ig.create_limit_order", "LIMIT", symbol, side, amount, price)
}

// CreateStopOrder places a stop working order
func (b *IGBroker) CreateStopOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error) {
	return b.createWorkingOrder(ctx, "ig.create_stop_order", "STOP", symbol, side, amount, stopPrice)
}

func (b *IGBroker) createWorkingOrder(ctx context.Context, op, orderType, symbol, side string, amount, level float64) (OrderResult, error) {
	return FetchWithRetry(ctx, op, func() (OrderResult, error) {
		direction := "BUY"
		if side == SideSell {
			direction = "SELL"
		}

		body := map[string]any{
			"epic":           symbol,
			"direction":      direction,
			"size":           formatFloat(amount),
			"level":          formatFloat(level),
			"type":           orderType,
			"timeInForce":    "GOOD_TILL_CANCELLED",
			"guaranteedStop": false,
			"forceOpen":      true,
			"currencyCode":   quoteCurrencyFor(symbol),
		}

		data, err := b.request(ctx, CategoryTrading, http.MethodPost, "/workingorders/otc", "2", nil, body)
		if err != nil {
			return OrderResult{}, err
		}

		dealRef := str(data["dealReference"])
		confirm, err := b.confirmDeal(ctx, dealRef)
		if err != nil {
			return OrderResult{}, err
		}

		dealID := str(confirm["dealId"])
		if dealID == "" {
			dealID = dealRef
		}

		b.logger.Info().Str("symbol", symbol).Str("side", side).Str("type", orderType).
			Float64("amount", amount).Float64("level", level).Str("deal_id", dealID).
			Msg("working order placed")
		return OrderResult{ID: dealID, Raw: confirm}, nil
	})
}

// confirmDeal polls /confirms up to 5 times at 500ms intervals
func (b *IGBroker) confirmDeal(ctx context.Context, dealRef string) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		result, err := b.request(ctx, CategoryTrading, http.MethodGet, "/confirms/"+dealRef, "1", nil, nil)
		if err != nil {
			lastErr = err
			continue
		}

		status := str(result["dealStatus"])
		if status == "ACCEPTED" || status == "REJECTED" {
			if status == "REJECTED" {
				b.logger.Warn().Str("deal_ref", dealRef).
					Str("reason", str(result["reason"])).Msg("IG deal rejected")
			}
			return result, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("IG deal confirmation failed: %w", lastErr)
	}
	return map[string]any{"dealReference": dealRef, "dealStatus": "UNKNOWN"}, nil
}

// CancelOrder deletes a working order
func (b *IGBroker) CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	return FetchWithRetry(ctx, "ig.cancel_order", func() (OrderResult, error) {
		data, err := b.request(ctx, CategoryTrading, http.MethodDelete, "/workingorders/otc/"+orderID, "2", nil, nil)
		if err != nil {
			return OrderResult{}, err
		}
		b.logger.Info().Str("order_id", orderID).Str("symbol", symbol).Msg("order cancelled")
		return OrderResult{ID: orderID, Raw: data}, nil
	})
}

// CheckConnectivity verifies the session endpoint responds
func (b *IGBroker) CheckConnectivity(ctx context.Context) error {
	_, err := b.request(ctx, CategoryData, http.MethodGet, "/session", "1", nil, nil)
	return err
}

// Close releases the IG session
func (b *IGBroker) Close() error {
	b.session.Close()
	return nil
}

// parseIGTime handles both RFC3339 and IG's "2024/01/15 14:00:00" format
func parseIGTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006/01/02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// igMid converts a nested {bid, ask} price object to the midpoint
func igMid(v any) float64 {
	obj, ok := v.(map[string]any)
	if !ok {
		return f64(v)
	}
	bid := f64(obj["bid"])
	ask := f64(obj["ask"])
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	if bid > 0 {
		return bid
	}
	return ask
}
