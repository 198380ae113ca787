package detector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// volumeLookback is the number of prior bars averaged for the volume
// confirmation check.
const volumeLookback = 20

// confidenceByConfluence maps the confirming oscillator count to a
// signal confidence.
var confidenceByConfluence = map[int]float64{
	1: 0.50,
	2: 0.65,
	3: 0.85,
}

type oscillator struct {
	name   string
	series func(set *models.IndicatorSet) []float64
}

// The scanned oscillators are deliberately uncorrelated: momentum,
// trend momentum, and volume flow.
var oscillators = []oscillator{
	{"RSI", func(s *models.IndicatorSet) []float64 { return s.RSI }},
	{"MACD", func(s *models.IndicatorSet) []float64 { return s.MACDHistogram }},
	{"OBV", func(s *models.IndicatorSet) []float64 { return s.OBV }},
}

type confirmation struct {
	name      string
	divType   models.DivergenceType
	bullish   bool
	magnitude float64
}

// Deterministic detects divergences by comparing the last two
// confirmed swing points of price against each oscillator. Same
// input, same output; no external calls.
type Deterministic struct {
	cfg           config.DetectorConfig
	minRiskReward float64
	minConfidence float64
	logger        zerolog.Logger
}

// NewDeterministic builds the rule-based detector
func NewDeterministic(cfg config.DetectorConfig, risk config.RiskConfig) *Deterministic {
	return &Deterministic{
		cfg:           cfg,
		minRiskReward: risk.MinRiskReward,
		minConfidence: risk.MinConfidence,
		logger:        config.NewLogger("detector"),
	}
}

// Name implements Detector
func (d *Deterministic) Name() string { return KindDeterministic }

// MinBars returns the minimum candle count needed to confirm a swing
// on both sides and still have room for a divergence.
func (d *Deterministic) MinBars() int {
	return d.cfg.SwingOrder*2 + 5
}

// Detect implements Detector
func (d *Deterministic) Detect(_ context.Context, symbol, timeframe string, set *models.IndicatorSet, _ models.CandleStatus) (*models.Signal, error) {
	sig := &models.Signal{Symbol: symbol, Timeframe: timeframe}

	n := set.Len()
	if minBars := d.MinBars(); n < minBars {
		sig.Reasoning = fmt.Sprintf("Insufficient data: %d candles (need %d)", n, minBars)
		return sig, nil
	}

	swingHighs := FindSwingHighs(set.Highs, d.cfg.SwingOrder)
	swingLows := FindSwingLows(set.Lows, d.cfg.SwingOrder)
	if len(swingHighs) < 2 && len(swingLows) < 2 {
		sig.Reasoning = "Not enough swing points to evaluate divergence"
		return sig, nil
	}

	var confirms []confirmation
	bullishCount, bearishCount := 0, 0
	for _, osc := range oscillators {
		c, ok := scanOscillator(osc, set, swingHighs, swingLows)
		if !ok {
			continue
		}
		confirms = append(confirms, c)
		if c.bullish {
			bullishCount++
		} else {
			bearishCount++
		}
	}

	// Bullish wins ties
	var direction models.SignalDirection
	switch {
	case bullishCount >= bearishCount && bullishCount >= d.cfg.MinConfluence:
		direction = models.DirectionLong
	case bearishCount >= d.cfg.MinConfluence:
		direction = models.DirectionShort
	default:
		sig.Reasoning = fmt.Sprintf(
			"Insufficient confluence: bullish=%d/%d, bearish=%d/%d (need %d)",
			bullishCount, len(oscillators), bearishCount, len(oscillators), d.cfg.MinConfluence,
		)
		return sig, nil
	}

	wantBullish := direction == models.DirectionLong
	var confirming []confirmation
	for _, c := range confirms {
		if c.bullish == wantBullish {
			confirming = append(confirming, c)
		}
	}

	lastClose := set.Closes[n-1]

	if d.cfg.RequireTrendAlignment {
		if ema, ok := models.LastValid(set.EMALong); ok {
			if direction == models.DirectionLong && lastClose < ema {
				sig.Reasoning = fmt.Sprintf("Counter-trend long rejected: close %.4f below EMA-200 %.4f", lastClose, ema)
				return sig, nil
			}
			if direction == models.DirectionShort && lastClose > ema {
				sig.Reasoning = fmt.Sprintf("Counter-trend short rejected: close %.4f above EMA-200 %.4f", lastClose, ema)
				return sig, nil
			}
		}
	}

	if d.cfg.RequireVolumeConfirmation {
		if ok, current, avg := volumeConfirmed(set.Volumes); !ok {
			sig.Reasoning = fmt.Sprintf("Volume not confirming: %.2f below average %.2f", current, avg)
			return sig, nil
		}
	}

	confidence := confidenceByConfluence[len(confirming)]
	if confidence < d.minConfidence {
		sig.Reasoning = fmt.Sprintf("Confidence %.2f below %.2f threshold", confidence, d.minConfidence)
		return sig, nil
	}

	names := make([]string, len(confirming))
	for i, c := range confirming {
		names[i] = c.name
	}

	sig.DivergenceDetected = true
	sig.Direction = direction
	sig.DivergenceType = confirming[0].divType
	sig.Confidence = confidence
	sig.Indicator = strings.Join(names, ",")
	sig.ConfirmingIndicators = names
	sig.DivergenceMagnitude = confirming[0].magnitude
	sig.SwingLengthBars = swingLength(direction, swingHighs, swingLows)

	d.attachLevels(sig, set, swingHighs, swingLows)

	var b strings.Builder
	fmt.Fprintf(&b, "%s divergence: %d/%d oscillators confirming (%s).",
		sig.DivergenceType, len(confirming), len(oscillators), strings.Join(names, ", "))
	if d.cfg.RequireTrendAlignment {
		b.WriteString(" Trend-aligned.")
	}
	if d.cfg.RequireVolumeConfirmation {
		b.WriteString(" Volume confirmed.")
	}
	fmt.Fprintf(&b, " Confidence: %.2f", confidence)
	sig.Reasoning = b.String()

	d.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Str("type", string(sig.DivergenceType)).
		Str("direction", string(direction)).
		Float64("confidence", confidence).
		Msg("divergence detected")

	return sig, nil
}

// scanOscillator checks the last two swing points against one
// oscillator. Regular divergences are checked before hidden ones, so
// an oscillator contributes at most one confirmation.
func scanOscillator(osc oscillator, set *models.IndicatorSet, swingHighs, swingLows []int) (confirmation, bool) {
	series := osc.series(set)

	if i1, i2, ok := lastTwo(swingLows); ok {
		p1, p2 := set.Lows[i1], set.Lows[i2]
		v1, v2 := series[i1], series[i2]
		if !models.IsMissing(v1) && !models.IsMissing(v2) && p2 < p1 && v2 > v1 {
			return confirmation{osc.name, models.BullishRegular, true, math.Abs(v2 - v1)}, true
		}
	}
	if i1, i2, ok := lastTwo(swingHighs); ok {
		p1, p2 := set.Highs[i1], set.Highs[i2]
		v1, v2 := series[i1], series[i2]
		if !models.IsMissing(v1) && !models.IsMissing(v2) && p2 > p1 && v2 < v1 {
			return confirmation{osc.name, models.BearishRegular, false, math.Abs(v2 - v1)}, true
		}
	}
	if i1, i2, ok := lastTwo(swingLows); ok {
		p1, p2 := set.Lows[i1], set.Lows[i2]
		v1, v2 := series[i1], series[i2]
		if !models.IsMissing(v1) && !models.IsMissing(v2) && p2 > p1 && v2 < v1 {
			return confirmation{osc.name, models.BullishHidden, true, math.Abs(v2 - v1)}, true
		}
	}
	if i1, i2, ok := lastTwo(swingHighs); ok {
		p1, p2 := set.Highs[i1], set.Highs[i2]
		v1, v2 := series[i1], series[i2]
		if !models.IsMissing(v1) && !models.IsMissing(v2) && p2 < p1 && v2 > v1 {
			return confirmation{osc.name, models.BearishHidden, false, math.Abs(v2 - v1)}, true
		}
	}

	return confirmation{}, false
}

func lastTwo(indices []int) (int, int, bool) {
	if len(indices) < 2 {
		return 0, 0, false
	}
	return indices[len(indices)-2], indices[len(indices)-1], true
}

// volumeConfirmed requires the current bar's volume to be at least the
// average of the preceding volumeLookback bars. Too little history or
// a degenerate average passes the check.
func volumeConfirmed(volumes []float64) (ok bool, current, avg float64) {
	n := len(volumes)
	if n < volumeLookback+1 {
		return true, 0, 0
	}

	var sum float64
	for _, v := range volumes[n-1-volumeLookback : n-1] {
		sum += v
	}
	avg = sum / volumeLookback
	current = volumes[n-1]
	if avg <= 0 {
		return true, current, avg
	}
	return current >= avg, current, avg
}

func swingLength(direction models.SignalDirection, swingHighs, swingLows []int) int {
	swings := swingLows
	if direction == models.DirectionShort {
		swings = swingHighs
	}
	if i1, i2, ok := lastTwo(swings); ok {
		return i2 - i1
	}
	return 0
}

// attachLevels derives entry, stop and targets from the last close,
// the most recent swing point and ATR.
func (d *Deterministic) attachLevels(sig *models.Signal, set *models.IndicatorSet, swingHighs, swingLows []int) {
	n := set.Len()
	entry := set.Closes[n-1]

	atr, ok := models.LastValid(set.ATR)
	if !ok || atr <= 0 {
		// 2% of price stands in when ATR has not warmed up
		atr = entry * 0.02
	}

	var stop float64
	if sig.Direction == models.DirectionLong {
		stop = entry - d.cfg.ATRStopMultiplier*atr
		if len(swingLows) > 0 {
			if candidate := set.Lows[swingLows[len(swingLows)-1]] - 0.5*atr; candidate < entry {
				stop = candidate
			}
		}
	} else {
		stop = entry + d.cfg.ATRStopMultiplier*atr
		if len(swingHighs) > 0 {
			if candidate := set.Highs[swingHighs[len(swingHighs)-1]] + 0.5*atr; candidate > entry {
				stop = candidate
			}
		}
	}

	risk := math.Abs(entry - stop)
	rr := d.minRiskReward

	sign := 1.0
	if sig.Direction == models.DirectionShort {
		sign = -1.0
	}

	sig.EntryPrice = models.Float64Ptr(entry)
	sig.StopLoss = models.Float64Ptr(stop)
	sig.TakeProfit1 = models.Float64Ptr(entry + sign*risk*rr)
	sig.TakeProfit2 = models.Float64Ptr(entry + sign*risk*rr*1.5)
	sig.TakeProfit3 = models.Float64Ptr(entry + sign*risk*rr*2.0)
}
