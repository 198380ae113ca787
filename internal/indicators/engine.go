// Package indicators computes the full indicator set for one
// (symbol, timeframe) candle window. All numeric series come from go-talib;
// candle patterns are detected locally.
package indicators

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// Engine computes indicator sets with configured periods
type Engine struct {
	cfg config.IndicatorConfig
}

// NewEngine creates an indicator engine
func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{cfg: cfg}
}

// maskWarmup replaces the leading warmup entries with the missing sentinel.
// go-talib zero-fills its lookback window instead of using NaN, so the
// conversion has to be done here from the known lookback length.
func maskWarmup(series []float64, warmup int) []float64 {
	if warmup < 0 {
		warmup = 0
	}
	for i := 0; i < warmup && i < len(series); i++ {
		series[i] = models.Missing
	}
	for i := range series {
		if math.IsNaN(series[i]) {
			series[i] = models.Missing
		}
	}
	return series
}

// Compute calculates all indicators from OHLCV candles
func (e *Engine) Compute(candles []models.Candle) (*models.IndicatorSet, error) {
	n := len(candles)
	minLen := e.cfg.MACDSlow + e.cfg.MACDSignal
	if n < minLen {
		return nil, fmt.Errorf("insufficient candles: have %d, need at least %d", n, minLen)
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	macdLine, macdSignal, macdHist := talib.Macd(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	stochK, stochD := talib.Stoch(highs, lows, closes,
		e.cfg.StochKPeriod, e.cfg.StochDPeriod, talib.SMA, e.cfg.StochSlowing, talib.SMA)

	set := &models.IndicatorSet{
		Closes:  closes,
		Highs:   highs,
		Lows:    lows,
		Volumes: volumes,

		RSI:           maskWarmup(talib.Rsi(closes, e.cfg.RSIPeriod), e.cfg.RSIPeriod),
		MACDLine:      maskWarmup(macdLine, e.cfg.MACDSlow-1),
		MACDSignal:    maskWarmup(macdSignal, e.cfg.MACDSlow+e.cfg.MACDSignal-2),
		MACDHistogram: maskWarmup(macdHist, e.cfg.MACDSlow+e.cfg.MACDSignal-2),
		OBV:           talib.Obv(closes, volumes),
		MFI:           maskWarmup(talib.Mfi(highs, lows, closes, volumes, e.cfg.MFIPeriod), e.cfg.MFIPeriod),
		StochK:        maskWarmup(stochK, e.cfg.StochKPeriod+e.cfg.StochDPeriod-2),
		StochD:        maskWarmup(stochD, e.cfg.StochKPeriod+e.cfg.StochDPeriod+e.cfg.StochSlowing-3),
		CCI:           maskWarmup(talib.Cci(highs, lows, closes, e.cfg.CCIPeriod), e.cfg.CCIPeriod-1),
		WilliamsR:     maskWarmup(talib.WillR(highs, lows, closes, e.cfg.WilliamsRPeriod), e.cfg.WilliamsRPeriod-1),
		ATR:           maskWarmup(talib.Atr(highs, lows, closes, e.cfg.ATRPeriod), e.cfg.ATRPeriod),
		ADX:           maskWarmup(talib.Adx(highs, lows, closes, e.cfg.ADXPeriod), 2*e.cfg.ADXPeriod-1),
		EMAShort:      maskWarmup(talib.Ema(closes, e.cfg.EMAShort), e.cfg.EMAShort-1),
		EMAMedium:     maskWarmup(talib.Ema(closes, e.cfg.EMAMedium), e.cfg.EMAMedium-1),
		EMALong:       maskWarmup(talib.Ema(closes, e.cfg.EMALong), e.cfg.EMALong-1),
		VolumeSMA:     maskWarmup(talib.Sma(volumes, e.cfg.VolumeSMAPeriod), e.cfg.VolumeSMAPeriod-1),

		CandlePatterns: DetectPatterns(candles),
	}

	return set, nil
}
