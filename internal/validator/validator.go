package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/indicators"
	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/models"
)

// rrTolerance absorbs float noise when comparing a computed R:R
// against the configured minimum.
const rrTolerance = 0.01

// Validator applies the deterministic rule chain to detected signals.
// Rules run in order; the first violation rejects the signal. No
// external calls, sub-millisecond execution.
type Validator struct {
	cfg    config.ValidatorConfig
	risk   config.RiskConfig
	logger zerolog.Logger
}

// New builds a Validator
func New(cfg config.ValidatorConfig, risk config.RiskConfig) *Validator {
	return &Validator{
		cfg:    cfg,
		risk:   risk,
		logger: config.NewLogger("validator"),
	}
}

func reject(reason string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Reason: reason}
}

// Validate runs every rule against a signal and its indicator set
func (v *Validator) Validate(sig *models.Signal, set *models.IndicatorSet) models.ValidationResult {
	// Rule 1: must have a direction
	if sig.Direction == "" {
		return reject("Signal has no direction (long/short)")
	}

	// Rule 2: global confidence floor. Per-broker thresholds are
	// applied later by the analysis cycle; this is the absolute
	// minimum across all venues.
	if sig.Confidence < v.risk.MinConfidence {
		return reject(fmt.Sprintf("Confidence %.2f below %.2f threshold", sig.Confidence, v.risk.MinConfidence))
	}

	// Rule 3: must have entry, stop and at least one target
	if !sig.HasLevels() {
		return reject("Missing entry_price, stop_loss, or take_profit_1")
	}

	entry, stop, tp1 := *sig.EntryPrice, *sig.StopLoss, *sig.TakeProfit1

	// Rule 4: stop and target must sit on the correct side of entry
	if sig.Direction == models.DirectionLong {
		if stop >= entry {
			return reject("Long signal: stop_loss must be below entry_price")
		}
		if tp1 <= entry {
			return reject("Long signal: take_profit_1 must be above entry_price")
		}
	} else {
		if stop <= entry {
			return reject("Short signal: stop_loss must be above entry_price")
		}
		if tp1 >= entry {
			return reject("Short signal: take_profit_1 must be below entry_price")
		}
	}

	// Rule 5: minimum risk/reward
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return reject("Zero risk distance (entry == stop_loss)")
	}
	reward := math.Abs(tp1 - entry)
	if rr := reward / risk; rr < v.risk.MinRiskReward-rrTolerance {
		return reject(fmt.Sprintf("R:R ratio %.2f below %.2f minimum", rr, v.risk.MinRiskReward))
	}

	// Rule 6: RSI must not contradict the direction
	if rsi, ok := models.LastValid(set.RSI); ok {
		if sig.Direction == models.DirectionLong && rsi > 80 {
			return reject(fmt.Sprintf("Long signal but RSI=%.1f is extremely overbought (>80)", rsi))
		}
		if sig.Direction == models.DirectionShort && rsi < 20 {
			return reject(fmt.Sprintf("Short signal but RSI=%.1f is extremely oversold (<20)", rsi))
		}
	}

	// Rule 7: stop distance must be a sane ATR multiple
	if atr, ok := models.LastValid(set.ATR); ok && atr > 0 {
		multiple := risk / atr
		if multiple < 0.5 {
			return reject(fmt.Sprintf("Stop too tight: %.1fx ATR (minimum 0.5x)", multiple))
		}
		if multiple > 5.0 {
			return reject(fmt.Sprintf("Stop too wide: %.1fx ATR (maximum 5.0x)", multiple))
		}
	}

	adx, adxOK := models.LastValid(set.ADX)

	// Rule 8: reject crypto signals in choppy markets
	if adxOK && instruments.AssetClassOf(sig.Symbol) == models.AssetCrypto && adx < 20 {
		return reject(fmt.Sprintf("Crypto market too choppy: ADX=%.1f (minimum 20)", adx))
	}

	// Rule 9: ranging market, weak ADX plus a flat long EMA
	if adxOK && adx < 25 {
		if slope, ok := emaSlopePct(set.EMALong); ok && slope < 0.05 {
			return reject(fmt.Sprintf(
				"Ranging market: ADX=%.1f, EMA200 slope=%.3f%%, divergence unreliable",
				adx, slope,
			))
		}
	}

	// Rule 10: oscillator stack depth
	if sig.DivergenceDetected && sig.ConfirmingIndicators != nil {
		if len(sig.ConfirmingIndicators) < v.cfg.MinConfirmingIndicators {
			return reject(fmt.Sprintf(
				"Only %d confirming indicator(s) (minimum %d)",
				len(sig.ConfirmingIndicators), v.cfg.MinConfirmingIndicators,
			))
		}
	}

	// Rule 11: swing length floor per timeframe
	if sig.SwingLengthBars > 0 {
		minBars := v.cfg.MinSwingBars1H
		// composite timeframes like "4h+1h" inherit the stricter floor
		if strings.Contains(sig.Timeframe, "4h") {
			minBars = v.cfg.MinSwingBars4H
		}
		if sig.SwingLengthBars < minBars {
			return reject(fmt.Sprintf(
				"Swing length %d bars below minimum %d for %s",
				sig.SwingLengthBars, minBars, sig.Timeframe,
			))
		}
	}

	// Rule 12: RSI divergences must show a meaningful oscillator move
	if sig.Indicator == "RSI" && sig.DivergenceMagnitude > 0 &&
		sig.DivergenceMagnitude < v.cfg.MinMagnitudeRSI {
		return reject(fmt.Sprintf(
			"RSI divergence magnitude %.1f below minimum %.1f",
			sig.DivergenceMagnitude, v.cfg.MinMagnitudeRSI,
		))
	}

	// Rule 13: zero and near-zero volume guard
	if n := len(set.Volumes); n >= 3 {
		recent := set.Volumes[n-3:]
		for _, vol := range recent {
			if vol == 0 {
				return reject("Zero volume detected in last 3 bars")
			}
		}
		if sma, ok := models.LastValid(set.VolumeSMA); ok && sma > 0 {
			maxRecent := math.Max(recent[0], math.Max(recent[1], recent[2]))
			if maxRecent < sma*0.01 {
				return reject(fmt.Sprintf(
					"Near-zero volume: max recent %.2f < 1%% of volume SMA %.2f",
					maxRecent, sma,
				))
			}
		}
	}

	// Rule 14: low volume relative to its moving average
	if len(set.Volumes) > 0 {
		if sma, ok := models.LastValid(set.VolumeSMA); ok && sma > 0 {
			current := set.Volumes[len(set.Volumes)-1]
			if current < sma*v.cfg.VolumeLowThreshold {
				return reject(fmt.Sprintf(
					"Low volume: %.2f < %.0f%% of volume SMA %.2f",
					current, v.cfg.VolumeLowThreshold*100, sma,
				))
			}
		}
	}

	// Rule 15: candle gate, a reversal pattern must have printed recently
	if len(set.CandlePatterns) > 0 {
		if !v.candleGatePassed(sig.Direction, set.CandlePatterns) {
			label := "bullish"
			if sig.Direction == models.DirectionShort {
				label = "bearish"
			}
			return reject(fmt.Sprintf(
				"No %s reversal candlestick in last %d bars",
				label, v.cfg.CandleGateLookback,
			))
		}
	}

	v.logger.Debug().
		Str("symbol", sig.Symbol).
		Str("timeframe", sig.Timeframe).
		Float64("confidence", sig.Confidence).
		Msg("signal validated")

	return models.ValidationResult{Valid: true, Reason: "All validation rules passed"}
}

// candleGatePassed scans the pattern sequences for a reversal in the
// configured lookback. Engulfing is bidirectional: positive values are
// bullish, negative bearish; the single-direction patterns report any
// non-zero hit.
func (v *Validator) candleGatePassed(direction models.SignalDirection, patterns map[string][]int) bool {
	lookback := v.cfg.CandleGateLookback

	if direction == models.DirectionLong {
		for _, name := range indicators.BullishPatterns {
			if anyMatch(patterns[name], lookback, func(x int) bool { return x > 0 }) {
				return true
			}
		}
		return anyMatch(patterns[indicators.PatternEngulfing], lookback, func(x int) bool { return x > 0 })
	}

	for _, name := range indicators.BearishPatterns {
		if anyMatch(patterns[name], lookback, func(x int) bool { return x != 0 }) {
			return true
		}
	}
	return anyMatch(patterns[indicators.PatternEngulfing], lookback, func(x int) bool { return x < 0 })
}

func anyMatch(vals []int, lookback int, match func(int) bool) bool {
	if len(vals) > lookback {
		vals = vals[len(vals)-lookback:]
	}
	for _, v := range vals {
		if match(v) {
			return true
		}
	}
	return false
}

// emaSlopePct returns the absolute percent change of the long EMA over
// its last 10 valid values.
func emaSlopePct(ema []float64) (float64, bool) {
	valid := make([]float64, 0, len(ema))
	for _, v := range ema {
		if !models.IsMissing(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < 10 {
		return 0, false
	}
	now := valid[len(valid)-1]
	ago := valid[len(valid)-10]
	if ago == 0 {
		return 0, false
	}
	return math.Abs(now-ago) / math.Abs(ago) * 100, true
}
