package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// yahooIntervals maps internal timeframes to chart API intervals.
// 4h is not native and gets aggregated from 1h.
var yahooIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "1d": "1d", "1w": "1wk",
}

// YahooProvider fetches stock OHLCV from the Yahoo Finance chart API.
// It backs the IG composite broker for share CFDs, where IG blocks
// historical price data.
type YahooProvider struct {
	client *http.Client
	logger zerolog.Logger
}

// NewYahooProvider creates the data provider
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: config.NewLogger("broker.yahoo"),
	}
}

// FetchOHLCV fetches candles for a ticker. Timeframes without a native
// interval (4h) are fetched at 1h and aggregated.
func (y *YahooProvider) FetchOHLCV(ctx context.Context, ticker, timeframe string, limit int) ([]models.Candle, error) {
	return FetchWithRetry(ctx, "yahoo.fetch_ohlcv", func() ([]models.Candle, error) {
		if timeframe == "4h" {
			raw, err := y.download(ctx, ticker, "1h", limit*4+20)
			if err != nil {
				return nil, err
			}
			candles := aggregateCandles(raw, 4*time.Hour)
			return tail(candles, limit), nil
		}

		candles, err := y.download(ctx, ticker, timeframe, limit)
		if err != nil {
			return nil, err
		}
		return tail(candles, limit), nil
	})
}

// FetchTicker returns the last market price for a ticker
func (y *YahooProvider) FetchTicker(ctx context.Context, ticker string) (models.Ticker, error) {
	return FetchWithRetry(ctx, "yahoo.fetch_ticker", func() (models.Ticker, error) {
		candles, err := y.download(ctx, ticker, "1m", 5)
		if err != nil {
			return models.Ticker{}, err
		}
		if len(candles) == 0 {
			return models.Ticker{}, Permanent("yahoo.fetch_ticker", fmt.Errorf("no price data for %s", ticker))
		}
		last := candles[len(candles)-1].Close
		return models.Ticker{Last: last, Bid: last, Ask: last}, nil
	})
}

func (y *YahooProvider) download(ctx context.Context, ticker, interval string, limit int) ([]models.Candle, error) {
	yfInterval, ok := yahooIntervals[interval]
	if !ok {
		yfInterval = interval
	}

	params := url.Values{}
	params.Set("interval", yfInterval)
	params.Set("range", yahooRangeFor(yfInterval, limit))
	params.Set("includePrePost", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		yahooChartURL+url.PathEscape(ticker)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, Permanent("yahoo.download", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, Transient("yahoo.download", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("yahoo.download", err)
	}
	if resp.StatusCode >= 400 {
		return nil, ClassifyHTTPStatus("yahoo.download", resp.StatusCode, string(raw))
	}

	var payload struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []*float64 `json:"open"`
						High   []*float64 `json:"high"`
						Low    []*float64 `json:"low"`
						Close  []*float64 `json:"close"`
						Volume []*float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, Permanent("yahoo.download", fmt.Errorf("decode chart response: %w", err))
	}
	if payload.Chart.Error != nil {
		return nil, Permanent("yahoo.download",
			fmt.Errorf("%s: %s", payload.Chart.Error.Code, payload.Chart.Error.Description))
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	candles := make([]models.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || quote.Open[i] == nil || quote.Close[i] == nil {
			continue
		}
		var vol float64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		candles = append(candles, models.Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   *quote.Open[i],
			High:   deref(quote.High, i, *quote.Open[i]),
			Low:    deref(quote.Low, i, *quote.Open[i]),
			Close:  *quote.Close[i],
			Volume: vol,
		})
	}

	y.logger.Debug().Str("ticker", ticker).Str("interval", interval).
		Int("count", len(candles)).Msg("fetched candles")
	return candles, nil
}

func deref(arr []*float64, i int, fallback float64) float64 {
	if i < len(arr) && arr[i] != nil {
		return *arr[i]
	}
	return fallback
}

// aggregateCandles resamples candles into coarser buckets aligned to the
// bucket duration (e.g. 1h into 4h)
func aggregateCandles(candles []models.Candle, bucket time.Duration) []models.Candle {
	if len(candles) == 0 {
		return nil
	}

	var out []models.Candle
	var current *models.Candle
	var currentBucket time.Time

	for _, c := range candles {
		b := c.Time.Truncate(bucket)
		if current == nil || !b.Equal(currentBucket) {
			if current != nil {
				out = append(out, *current)
			}
			cc := c
			cc.Time = b
			current = &cc
			currentBucket = b
			continue
		}
		if c.High > current.High {
			current.High = c.High
		}
		if c.Low < current.Low {
			current.Low = c.Low
		}
		current.Close = c.Close
		current.Volume += c.Volume
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

func tail(candles []models.Candle, limit int) []models.Candle {
	if limit > 0 && len(candles) > limit {
		return candles[len(candles)-limit:]
	}
	return candles
}

// yahooRangeFor estimates a range parameter that covers enough candles
func yahooRangeFor(interval string, limit int) string {
	switch interval {
	case "1m", "5m", "15m", "30m":
		return "5d"
	case "1h":
		if limit <= 300 {
			return "60d"
		}
		return "6mo"
	case "1d":
		if limit <= 250 {
			return "1y"
		}
		return "2y"
	case "1wk":
		return "5y"
	}
	return "1y"
}
