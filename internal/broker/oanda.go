package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

const (
	oandaPracticeURL = "https://api-fxpractice.oanda.com"
	oandaLiveURL     = "https://api-fxtrade.oanda.com"

	// OANDA caps a single candles request at 5000
	oandaMaxCandles = 5000
)

// oandaGranularity maps internal timeframes to OANDA granularity codes
var oandaGranularity = map[string]string{
	"1m": "M1", "5m": "M5", "15m": "M15", "30m": "M30",
	"1h": "H1", "4h": "H4", "1d": "D", "1w": "W",
}

// OandaBroker is the forex adapter over the OANDA v20 REST API.
// Candles use midpoint prices.
type OandaBroker struct {
	baseURL   string
	token     string
	accountID string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewOandaBroker creates the OANDA adapter. Sandbox mode targets the
// practice environment.
func NewOandaBroker(cfg config.BrokerConfig) *OandaBroker {
	base := oandaLiveURL
	if cfg.Sandbox {
		base = oandaPracticeURL
	}
	return &OandaBroker{
		baseURL:   base,
		token:     cfg.APIKey,
		accountID: cfg.AccountID,
		client:    &http.Client{Timeout: 30 * time.Second},
		cb:        newVenueBreaker("oanda"),
		logger:    config.NewLogger("broker.oanda"),
	}
}

// BrokerID implements Broker
func (o *OandaBroker) BrokerID() string { return "oanda" }

func (o *OandaBroker) request(ctx context.Context, op, method, path string, params url.Values, body any) (map[string]any, error) {
	return throughBreaker(o.cb, op, func() (map[string]any, error) {
		u := o.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, Permanent(op, fmt.Errorf("encode request: %w", err))
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, Permanent(op, err)
		}
		req.Header.Set("Authorization", "Bearer "+o.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, Transient(op, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, Transient(op, err)
		}
		if resp.StatusCode >= 400 {
			return nil, ClassifyHTTPStatus(op, resp.StatusCode, string(raw))
		}

		var out map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, Permanent(op, fmt.Errorf("decode response: %w", err))
			}
		}
		return out, nil
	})
}

// FetchOHLCV fetches midpoint candles, oldest to newest
func (o *OandaBroker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return FetchWithRetry(ctx, "oanda.fetch_ohlcv", func() ([]models.Candle, error) {
		granularity, ok := oandaGranularity[timeframe]
		if !ok {
			granularity = "H1"
		}
		if limit > oandaMaxCandles {
			limit = oandaMaxCandles
		}

		params := url.Values{}
		params.Set("granularity", granularity)
		params.Set("count", strconv.Itoa(limit))
		params.Set("price", "M")

		data, err := o.request(ctx, "oanda.fetch_ohlcv", http.MethodGet,
			"/v3/instruments/"+symbol+"/candles", params, nil)
		if err != nil {
			return nil, err
		}

		rawCandles, _ := data["candles"].([]any)
		candles := make([]models.Candle, 0, len(rawCandles))
		for _, rc := range rawCandles {
			c, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			// Skip incomplete candles unless seeding the candle cache
			// with a single-candle fetch
			complete, _ := c["complete"].(bool)
			if !complete && limit > 1 {
				continue
			}

			ts, err := time.Parse(time.RFC3339Nano, str(c["time"]))
			if err != nil {
				continue
			}
			mid, _ := c["mid"].(map[string]any)
			candles = append(candles, models.Candle{
				Time:   ts.UTC(),
				Open:   f64(mid["o"]),
				High:   f64(mid["h"]),
				Low:    f64(mid["l"]),
				Close:  f64(mid["c"]),
				Volume: f64(c["volume"]),
			})
		}

		o.logger.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
			Int("count", len(candles)).Msg("fetched candles")
		return candles, nil
	})
}

// FetchTicker returns the current bid/ask with last = midpoint
func (o *OandaBroker) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return FetchWithRetry(ctx, "oanda.fetch_ticker", func() (models.Ticker, error) {
		params := url.Values{}
		params.Set("instruments", symbol)

		data, err := o.request(ctx, "oanda.fetch_ticker", http.MethodGet,
			"/v3/accounts/"+o.accountID+"/pricing", params, nil)
		if err != nil {
			return models.Ticker{}, err
		}

		prices, _ := data["prices"].([]any)
		if len(prices) == 0 {
			return models.Ticker{}, Permanent("oanda.fetch_ticker", fmt.Errorf("no pricing data for %s", symbol))
		}

		p, _ := prices[0].(map[string]any)
		bid := firstPrice(p["bids"])
		ask := firstPrice(p["asks"])
		return models.Ticker{Last: (bid + ask) / 2, Bid: bid, Ask: ask}, nil
	})
}

// FetchBalance fetches the account summary
func (o *OandaBroker) FetchBalance(ctx context.Context) (models.Balance, error) {
	return FetchWithRetry(ctx, "oanda.fetch_balance", func() (models.Balance, error) {
		data, err := o.request(ctx, "oanda.fetch_balance", http.MethodGet,
			"/v3/accounts/"+o.accountID+"/summary", nil, nil)
		if err != nil {
			return models.Balance{}, err
		}

		acct, _ := data["account"].(map[string]any)
		return models.Balance{
			Total: f64(acct["balance"]),
			Free:  f64(acct["marginAvailable"]),
			Used:  f64(acct["marginUsed"]),
		}, nil
	})
}

// CreateLimitOrder places a GTC limit order; negative units sell
func (o *OandaBroker) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (OrderResult, error) {
	return o.createOrder(ctx, "oanda.create_limit_order", "LIMIT", symbol, side, amount, price)
}

// CreateStopOrder places a GTC stop order
func (o *OandaBroker) CreateStopOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (OrderResult, error) {
	return o.createOrder(ctx, "oanda.create_stop_order", "STOP", symbol, side, amount, stopPrice)
}

func (o *OandaBroker) createOrder(ctx context.Context, op, orderType, symbol, side string, amount, price float64) (OrderResult, error) {
	return FetchWithRetry(ctx, op, func() (OrderResult, error) {
		units := int64(amount)
		if side == SideSell {
			units = -units
		}

		body := map[string]any{
			"order": map[string]any{
				"type":        orderType,
				"instrument":  symbol,
				"units":       strconv.FormatInt(units, 10),
				"price":       formatFloat(price),
				"timeInForce": "GTC",
			},
		}

		data, err := o.request(ctx, op, http.MethodPost,
			"/v3/accounts/"+o.accountID+"/orders", nil, body)
		if err != nil {
			return OrderResult{}, err
		}

		tx, _ := data["orderCreateTransaction"].(map[string]any)
		id := str(tx["id"])

		o.logger.Info().Str("symbol", symbol).Str("side", side).Str("type", orderType).
			Float64("amount", amount).Float64("price", price).Str("order_id", id).
			Msg("order placed")
		return OrderResult{ID: id, Raw: data}, nil
	})
}

// CancelOrder cancels a pending order
func (o *OandaBroker) CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	return FetchWithRetry(ctx, "oanda.cancel_order", func() (OrderResult, error) {
		data, err := o.request(ctx, "oanda.cancel_order", http.MethodPut,
			"/v3/accounts/"+o.accountID+"/orders/"+orderID+"/cancel", nil, nil)
		if err != nil {
			return OrderResult{}, err
		}
		o.logger.Info().Str("order_id", orderID).Str("symbol", symbol).Msg("order cancelled")
		return OrderResult{ID: orderID, Raw: data}, nil
	})
}

// CheckConnectivity verifies API access via the account summary
func (o *OandaBroker) CheckConnectivity(ctx context.Context) error {
	_, err := o.request(ctx, "oanda.check_connectivity", http.MethodGet,
		"/v3/accounts/"+o.accountID+"/summary", nil, nil)
	return err
}

// Close implements Broker
func (o *OandaBroker) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// f64 coerces OANDA's string-encoded numerics and raw numbers
func f64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}

func firstPrice(v any) float64 {
	entries, _ := v.([]any)
	if len(entries) == 0 {
		return 0
	}
	entry, _ := entries[0].(map[string]any)
	return f64(entry["price"])
}
