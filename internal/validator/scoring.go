package validator

import (
	"time"

	"github.com/quantfold/divergent/internal/instruments"
	"github.com/quantfold/divergent/internal/models"
)

// ScoredSignal pairs a signal with its quality score and the
// per-dimension breakdown.
type ScoredSignal struct {
	Signal    *models.Signal
	Score     float64
	Breakdown map[string]float64
}

// Scorer computes a deterministic quality score on a 1-10 scale from
// six weighted dimensions. The score is informational; it rides along
// with the signal into persistence and alerts.
type Scorer struct {
	now func() time.Time
}

// NewScorer builds a Scorer
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score computes the quality score for a signal
func (s *Scorer) Score(sig *models.Signal, set *models.IndicatorSet) ScoredSignal {
	confluence := scoreConfluence(sig)
	swing := scoreSwingLength(sig)
	volume := scoreVolume(set)
	ema := scoreEMAAlignment(sig, set)
	adx := scoreADX(set)
	session := s.scoreSession(sig)

	raw := confluence + swing + volume + ema + adx + session
	score := clamp(raw, 1.0, 10.0)

	return ScoredSignal{
		Signal: sig,
		Score:  score,
		Breakdown: map[string]float64{
			"indicator_confluence": confluence,
			"swing_length":         swing,
			"volume_confirmation":  volume,
			"ema_alignment":        ema,
			"adx_strength":         adx,
			"session_weighting":    session,
		},
	}
}

// scoreConfluence awards 0-3 points for confirming indicator depth
func scoreConfluence(sig *models.Signal) float64 {
	switch count := len(sig.ConfirmingIndicators); {
	case count >= 5:
		return 3.0
	case count == 4:
		return 2.0
	case count == 3:
		return 1.5
	case count == 2:
		return 1.0
	default:
		return 0.0
	}
}

// scoreSwingLength awards 0-2 points, full marks inside the ideal
// band for the timeframe, scaled down linearly outside it.
func scoreSwingLength(sig *models.Signal) float64 {
	bars := sig.SwingLengthBars
	if bars <= 0 {
		return 0.0
	}

	idealLow, idealHigh := 10, 20
	if sig.Timeframe == "4h" {
		idealLow, idealHigh = 15, 25
	}

	switch {
	case bars >= idealLow && bars <= idealHigh:
		return 2.0
	case bars < idealLow:
		return clamp(2.0*float64(bars)/float64(idealLow), 0, 2.0)
	default:
		return clamp(2.0*float64(idealHigh)/float64(bars), 0, 2.0)
	}
}

// scoreVolume awards 0.5-2 points for current volume vs its average
func scoreVolume(set *models.IndicatorSet) float64 {
	if len(set.Volumes) == 0 {
		return 0.5
	}
	avg, ok := models.LastValid(set.VolumeSMA)
	if !ok || avg <= 0 {
		return 0.5
	}

	switch ratio := set.Volumes[len(set.Volumes)-1] / avg; {
	case ratio >= 1.5:
		return 2.0
	case ratio >= 1.2:
		return 1.5
	case ratio >= 0.8:
		return 1.0
	default:
		return 0.5
	}
}

// scoreEMAAlignment awards 0.5-2 points. A divergence against a fully
// stacked trend is the ideal reversal setup; with the trend it is
// worth less, a mixed stack is neutral.
func scoreEMAAlignment(sig *models.Signal, set *models.IndicatorSet) float64 {
	emaS, okS := models.LastValid(set.EMAShort)
	emaM, okM := models.LastValid(set.EMAMedium)
	emaL, okL := models.LastValid(set.EMALong)
	if !okS || !okM || !okL {
		return 1.0
	}

	downStack := emaS < emaM && emaM < emaL
	upStack := emaS > emaM && emaM > emaL

	if sig.Direction == models.DirectionLong {
		if downStack {
			return 2.0
		}
		if upStack {
			return 0.5
		}
	} else if sig.Direction == models.DirectionShort {
		if upStack {
			return 2.0
		}
		if downStack {
			return 0.5
		}
	}
	return 1.0
}

// scoreADX awards 0.25-1 point for trend strength
func scoreADX(set *models.IndicatorSet) float64 {
	adx, ok := models.LastValid(set.ADX)
	if !ok {
		return 0.5
	}
	switch {
	case adx >= 30:
		return 1.0
	case adx >= 25:
		return 0.75
	case adx >= 20:
		return 0.5
	default:
		return 0.25
	}
}

// scoreSession awards -0.5 to +0.5 for session timing. Crypto trades
// around the clock and is not weighted.
func (s *Scorer) scoreSession(sig *models.Signal) float64 {
	class := instruments.AssetClassOf(sig.Symbol)
	if class == models.AssetCrypto {
		return 0.0
	}

	hour := s.now().UTC().Hour()

	switch class {
	case models.AssetForex:
		switch {
		case hour >= 13 && hour < 16: // London/NY overlap
			return 0.5
		case hour >= 7 && hour < 16: // London
			return 0.25
		case hour >= 13 && hour < 21: // New York
			return 0.25
		default: // Tokyo/Sydney off-peak
			return -0.5
		}
	case models.AssetIndex:
		switch {
		case hour >= 14 && hour < 21: // US cash session
			return 0.5
		case hour >= 7 && hour < 16:
			return 0.25
		default:
			return -0.5
		}
	}
	return 0.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
