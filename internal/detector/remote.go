package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

const defaultPayloadLookback = 30

// Remote delegates detection to an external HTTP oracle. The oracle
// receives the tail of the indicator set and must answer with the
// same signal shape the deterministic detector produces.
type Remote struct {
	url      string
	lookback int
	client   *http.Client
	logger   zerolog.Logger
}

// NewRemote builds the HTTP detector
func NewRemote(cfg config.DetectorConfig, payloadLookback int) *Remote {
	if payloadLookback <= 0 {
		payloadLookback = defaultPayloadLookback
	}
	return &Remote{
		url:      cfg.RemoteURL,
		lookback: payloadLookback,
		client:   &http.Client{Timeout: cfg.RemoteDetectorTimeout()},
		logger:   config.NewLogger("detector"),
	}
}

// Name implements Detector
func (r *Remote) Name() string { return KindRemote }

type remoteRequest struct {
	Symbol       string              `json:"symbol"`
	Timeframe    string              `json:"timeframe"`
	CandleStatus models.CandleStatus `json:"candle_status"`

	Closes  []*float64 `json:"closes"`
	Highs   []*float64 `json:"highs"`
	Lows    []*float64 `json:"lows"`
	Volumes []*float64 `json:"volumes"`

	RSI           []*float64 `json:"rsi"`
	MACDHistogram []*float64 `json:"macd_histogram"`
	OBV           []*float64 `json:"obv"`
	ATR           []*float64 `json:"atr"`
	ADX           []*float64 `json:"adx"`
	EMALong       []*float64 `json:"ema_long"`
}

type remoteResponse struct {
	DivergenceDetected   bool     `json:"divergence_detected"`
	DivergenceType       string   `json:"divergence_type"`
	Direction            string   `json:"direction"`
	Confidence           float64  `json:"confidence"`
	EntryPrice           *float64 `json:"entry_price"`
	StopLoss             *float64 `json:"stop_loss"`
	TakeProfit1          *float64 `json:"take_profit_1"`
	TakeProfit2          *float64 `json:"take_profit_2"`
	TakeProfit3          *float64 `json:"take_profit_3"`
	Indicator            string   `json:"indicator"`
	ConfirmingIndicators []string `json:"confirming_indicators"`
	SwingLengthBars      int      `json:"swing_length_bars"`
	DivergenceMagnitude  float64  `json:"divergence_magnitude"`
	Reasoning            string   `json:"reasoning"`
}

// Detect implements Detector
func (r *Remote) Detect(ctx context.Context, symbol, timeframe string, set *models.IndicatorSet, status models.CandleStatus) (*models.Signal, error) {
	payload := remoteRequest{
		Symbol:       symbol,
		Timeframe:    timeframe,
		CandleStatus: status,

		Closes:  seriesTail(set.Closes, r.lookback),
		Highs:   seriesTail(set.Highs, r.lookback),
		Lows:    seriesTail(set.Lows, r.lookback),
		Volumes: seriesTail(set.Volumes, r.lookback),

		RSI:           seriesTail(set.RSI, r.lookback),
		MACDHistogram: seriesTail(set.MACDHistogram, r.lookback),
		OBV:           seriesTail(set.OBV, r.lookback),
		ATR:           seriesTail(set.ATR, r.lookback),
		ADX:           seriesTail(set.ADX, r.lookback),
		EMALong:       seriesTail(set.EMALong, r.lookback),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detector payload: %w", err)
	}

	resp, err := broker.FetchWithRetry(ctx, "remote detect", func() (*remoteResponse, error) {
		return r.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	sig := &models.Signal{
		DivergenceDetected:   resp.DivergenceDetected,
		DivergenceType:       models.DivergenceType(resp.DivergenceType),
		Direction:            models.SignalDirection(resp.Direction),
		Confidence:           resp.Confidence,
		EntryPrice:           resp.EntryPrice,
		StopLoss:             resp.StopLoss,
		TakeProfit1:          resp.TakeProfit1,
		TakeProfit2:          resp.TakeProfit2,
		TakeProfit3:          resp.TakeProfit3,
		Indicator:            resp.Indicator,
		ConfirmingIndicators: resp.ConfirmingIndicators,
		SwingLengthBars:      resp.SwingLengthBars,
		DivergenceMagnitude:  resp.DivergenceMagnitude,
		Reasoning:            resp.Reasoning,
		Symbol:               symbol,
		Timeframe:            timeframe,
	}
	return sig, nil
}

func (r *Remote) post(ctx context.Context, body []byte) (*remoteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, broker.Permanent("remote detect", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, broker.Transient("remote detect", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, broker.Transient("remote detect", err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, broker.ClassifyHTTPStatus("remote detect", httpResp.StatusCode, string(data))
	}

	var resp remoteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, broker.Permanent("remote detect", fmt.Errorf("invalid detector response: %w", err))
	}
	return &resp, nil
}

// seriesTail converts the last n values to JSON-safe pointers,
// mapping warmup sentinels to null.
func seriesTail(series []float64, n int) []*float64 {
	if len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]*float64, len(series))
	for i, v := range series {
		if models.IsMissing(v) {
			continue
		}
		out[i] = models.Float64Ptr(v)
	}
	return out
}
