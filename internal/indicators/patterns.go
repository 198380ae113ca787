package indicators

import (
	"math"

	"github.com/quantfold/divergent/internal/models"
)

// Pattern names, keys of IndicatorSet.CandlePatterns
const (
	PatternHammer         = "hammer"
	PatternInvertedHammer = "inverted_hammer"
	PatternHangingMan     = "hanging_man"
	PatternShootingStar   = "shooting_star"
	PatternEngulfing      = "engulfing"
	PatternPiercing       = "piercing"
	PatternDarkCloud      = "dark_cloud"
	PatternMorningStar    = "morning_star"
	PatternEveningStar    = "evening_star"
)

// PatternNames lists every detected pattern
var PatternNames = []string{
	PatternHammer, PatternInvertedHammer, PatternHangingMan, PatternShootingStar,
	PatternEngulfing, PatternPiercing, PatternDarkCloud,
	PatternMorningStar, PatternEveningStar,
}

// BullishPatterns contribute to the long-side candle gate
var BullishPatterns = []string{
	PatternHammer, PatternInvertedHammer, PatternPiercing, PatternMorningStar,
}

// BearishPatterns contribute to the short-side candle gate
var BearishPatterns = []string{
	PatternHangingMan, PatternShootingStar, PatternDarkCloud, PatternEveningStar,
}

func body(c models.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

func upperWick(c models.Candle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}

func lowerWick(c models.Candle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

func isBullish(c models.Candle) bool {
	return c.Close > c.Open
}

func isBearish(c models.Candle) bool {
	return c.Close < c.Open
}

// trend context: compare the close before the pattern with the close a few
// bars earlier
func inDowntrend(candles []models.Candle, i int) bool {
	if i < 4 {
		return false
	}
	return candles[i-1].Close < candles[i-4].Close
}

func inUptrend(candles []models.Candle, i int) bool {
	if i < 4 {
		return false
	}
	return candles[i-1].Close > candles[i-4].Close
}

// isHammerShape: small body near the top with a long lower wick
func isHammerShape(c models.Candle) bool {
	rng := c.High - c.Low
	if rng <= 0 {
		return false
	}
	b := body(c)
	return b > 0 && lowerWick(c) >= 2*b && upperWick(c) <= b
}

// isInvertedHammerShape: small body near the bottom with a long upper wick
func isInvertedHammerShape(c models.Candle) bool {
	rng := c.High - c.Low
	if rng <= 0 {
		return false
	}
	b := body(c)
	return b > 0 && upperWick(c) >= 2*b && lowerWick(c) <= b
}

func isBullishEngulfing(c1, c2 models.Candle) bool {
	if !isBearish(c1) || !isBullish(c2) {
		return false
	}
	return c2.Open <= c1.Close && c2.Close >= c1.Open
}

func isBearishEngulfing(c1, c2 models.Candle) bool {
	if !isBullish(c1) || !isBearish(c2) {
		return false
	}
	return c2.Open >= c1.Close && c2.Close <= c1.Open
}

func isPiercing(c1, c2 models.Candle) bool {
	if !isBearish(c1) || !isBullish(c2) {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return c2.Open < c1.Close && c2.Close > mid && c2.Close < c1.Open
}

func isDarkCloud(c1, c2 models.Candle) bool {
	if !isBullish(c1) || !isBearish(c2) {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return c2.Open > c1.Close && c2.Close < mid && c2.Close > c1.Open
}

func isMorningStar(c1, c2, c3 models.Candle) bool {
	if !isBearish(c1) || !isBullish(c3) {
		return false
	}
	// Middle candle has a small body below the first body
	if body(c2) > body(c1)*0.5 {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return math.Max(c2.Open, c2.Close) < c1.Close && c3.Close > mid
}

func isEveningStar(c1, c2, c3 models.Candle) bool {
	if !isBullish(c1) || !isBearish(c3) {
		return false
	}
	if body(c2) > body(c1)*0.5 {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return math.Min(c2.Open, c2.Close) > c1.Close && c3.Close < mid
}

// DetectPatterns scans candles and returns per-pattern sequences of
// {+100, 0, -100}, aligned with the input. Engulfing carries both signs in
// one sequence; the remaining patterns are single-signed.
func DetectPatterns(candles []models.Candle) map[string][]int {
	n := len(candles)
	out := make(map[string][]int, len(PatternNames))
	for _, name := range PatternNames {
		out[name] = make([]int, n)
	}

	for i := 0; i < n; i++ {
		c := candles[i]

		if isHammerShape(c) {
			if inDowntrend(candles, i) {
				out[PatternHammer][i] = 100
			} else if inUptrend(candles, i) {
				out[PatternHangingMan][i] = -100
			}
		}

		if isInvertedHammerShape(c) {
			if inDowntrend(candles, i) {
				out[PatternInvertedHammer][i] = 100
			} else if inUptrend(candles, i) {
				out[PatternShootingStar][i] = -100
			}
		}

		if i >= 1 {
			prev := candles[i-1]
			if isBullishEngulfing(prev, c) {
				out[PatternEngulfing][i] = 100
			} else if isBearishEngulfing(prev, c) {
				out[PatternEngulfing][i] = -100
			}
			if isPiercing(prev, c) {
				out[PatternPiercing][i] = 100
			}
			if isDarkCloud(prev, c) {
				out[PatternDarkCloud][i] = -100
			}
		}

		if i >= 2 {
			if isMorningStar(candles[i-2], candles[i-1], c) {
				out[PatternMorningStar][i] = 100
			}
			if isEveningStar(candles[i-2], candles[i-1], c) {
				out[PatternEveningStar][i] = -100
			}
		}
	}

	return out
}
