// Package outcome observes what happened to persisted signals against
// forward candles: checkpoint returns, excursion extremes, TP/SL hits
// and a final verdict.
package outcome

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/db"
	"github.com/quantfold/divergent/internal/metrics"
	"github.com/quantfold/divergent/internal/models"
)

const (
	// candleFetchCap bounds one forward-candle fetch per symbol
	candleFetchCap = 500
	// signalBatchLimit bounds the signals examined per pass
	signalBatchLimit = 200
	// resolutionWindow is the observation horizon after which a signal
	// outcome is final
	resolutionWindow = 24 * time.Hour
	// driftThresholdPct decides the 24h verdict when neither TP nor SL
	// was touched
	driftThresholdPct = 0.5
)

// checkpoints are the elapsed targets recorded per outcome
var checkpoints = [4]time.Duration{time.Hour, 4 * time.Hour, 12 * time.Hour, 24 * time.Hour}

// Store is the persistence surface used by the tracker
type Store interface {
	GetSignalsWithoutOutcomes(ctx context.Context, limit int) ([]db.StoredSignal, error)
	GetSignalsWithUnresolvedOutcomes(ctx context.Context, limit int) ([]db.StoredSignal, error)
	UpsertOutcome(ctx context.Context, o *models.SignalOutcome) error
}

// Tracker periodically scores past signals against forward candles
type Tracker struct {
	router *broker.Router
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates an outcome tracker
func NewTracker(router *broker.Router, store Store) *Tracker {
	return &Tracker{
		router: router,
		store:  store,
		logger: config.NewLogger("outcome"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one tracking pass: open outcome rows for new signals,
// then re-observe every unresolved outcome.
func (t *Tracker) Run(ctx context.Context) error {
	fresh, err := t.store.GetSignalsWithoutOutcomes(ctx, signalBatchLimit)
	if err != nil {
		return err
	}
	for _, sig := range fresh {
		outcome := &models.SignalOutcome{
			SignalID:      sig.ID,
			EntryPrice:    *sig.EntryPrice,
			Direction:     sig.Direction,
			Verdict:       models.VerdictPending,
			LastCheckedAt: t.now(),
		}
		if err := t.store.UpsertOutcome(ctx, outcome); err != nil {
			t.logger.Error().Err(err).Int64("signal_id", sig.ID).Msg("outcome insert failed")
		}
	}

	unresolved, err := t.store.GetSignalsWithUnresolvedOutcomes(ctx, signalBatchLimit)
	if err != nil {
		return err
	}
	if len(unresolved) == 0 {
		return nil
	}

	for symbol, signals := range groupBySymbol(unresolved) {
		candles, err := t.fetchForwardCandles(ctx, symbol, signals)
		if err != nil {
			t.logger.Warn().Err(err).Str("symbol", symbol).Msg("forward candle fetch failed")
			continue
		}
		for _, sig := range signals {
			outcome := t.observe(sig, candles)
			if err := t.store.UpsertOutcome(ctx, outcome); err != nil {
				t.logger.Error().Err(err).Int64("signal_id", sig.ID).Msg("outcome update failed")
				continue
			}
			if outcome.FullyResolved {
				metrics.OutcomeVerdicts.WithLabelValues(string(outcome.Verdict)).Inc()
				t.logger.Info().Int64("signal_id", sig.ID).Str("verdict", string(outcome.Verdict)).
					Msg("signal outcome resolved")
			}
		}
	}
	return nil
}

func groupBySymbol(signals []db.StoredSignal) map[string][]db.StoredSignal {
	out := make(map[string][]db.StoredSignal)
	for _, s := range signals {
		out[s.Symbol] = append(out[s.Symbol], s)
	}
	return out
}

// fetchForwardCandles pulls 1h candles covering the oldest signal in
// the group up to now, capped at one venue page
func (t *Tracker) fetchForwardCandles(ctx context.Context, symbol string, signals []db.StoredSignal) ([]models.Candle, error) {
	venue, err := t.router.Route(symbol)
	if err != nil {
		return nil, err
	}

	oldest := signals[0].CreatedAt
	for _, s := range signals[1:] {
		if s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
	}
	needed := int(t.now().Sub(oldest)/time.Hour) + 2
	if needed > candleFetchCap {
		needed = candleFetchCap
	}
	return venue.FetchOHLCV(ctx, symbol, "1h", needed)
}

// observe rebuilds the outcome of one signal from candles after its
// creation time. The walk is deterministic, so re-running over the
// same inputs yields the same row.
func (t *Tracker) observe(sig db.StoredSignal, candles []models.Candle) *models.SignalOutcome {
	outcome := &models.SignalOutcome{
		SignalID:      sig.ID,
		EntryPrice:    *sig.EntryPrice,
		Direction:     sig.Direction,
		Verdict:       models.VerdictPending,
		LastCheckedAt: t.now(),
	}

	var forward []models.Candle
	for _, c := range candles {
		if c.Time.After(sig.CreatedAt) {
			forward = append(forward, c)
		}
	}
	elapsed := t.now().Sub(sig.CreatedAt)

	if len(forward) > 0 {
		t.recordCheckpoints(outcome, sig, forward, elapsed)
		t.recordExcursions(outcome, sig, forward)
		t.recordLevelHits(outcome, sig, forward)
	}

	outcome.Verdict = verdict(outcome, elapsed)
	outcome.FullyResolved = elapsed >= resolutionWindow
	return outcome
}

// recordCheckpoints captures the close nearest each elapsed target
func (t *Tracker) recordCheckpoints(outcome *models.SignalOutcome, sig db.StoredSignal, forward []models.Candle, elapsed time.Duration) {
	prices := [4]**float64{&outcome.Price1H, &outcome.Price4H, &outcome.Price12H, &outcome.Price24H}
	returns := [4]**float64{&outcome.Return1H, &outcome.Return4H, &outcome.Return12H, &outcome.Return24H}

	for i, target := range checkpoints {
		if elapsed < target {
			continue
		}
		targetTime := sig.CreatedAt.Add(target)

		best := 0
		bestDiff := absDuration(forward[0].Time.Sub(targetTime))
		for j := 1; j < len(forward); j++ {
			if diff := absDuration(forward[j].Time.Sub(targetTime)); diff < bestDiff {
				best, bestDiff = j, diff
			}
		}

		price := forward[best].Close
		*prices[i] = models.Float64Ptr(price)
		*returns[i] = models.Float64Ptr(signedReturnPct(sig.Direction, outcome.EntryPrice, price))
	}
}

// recordExcursions captures the best and worst prices since signal time
func (t *Tracker) recordExcursions(outcome *models.SignalOutcome, sig db.StoredSignal, forward []models.Candle) {
	best, worst := forward[0].High, forward[0].Low
	if sig.Direction == models.DirectionShort {
		best, worst = forward[0].Low, forward[0].High
	}
	for _, c := range forward[1:] {
		if sig.Direction == models.DirectionLong {
			best = math.Max(best, c.High)
			worst = math.Min(worst, c.Low)
		} else {
			best = math.Min(best, c.Low)
			worst = math.Max(worst, c.High)
		}
	}

	outcome.MaxFavorablePrice = models.Float64Ptr(best)
	outcome.MaxFavorablePct = models.Float64Ptr(signedReturnPct(sig.Direction, outcome.EntryPrice, best))
	outcome.MaxAdversePrice = models.Float64Ptr(worst)
	outcome.MaxAdversePct = models.Float64Ptr(signedReturnPct(sig.Direction, outcome.EntryPrice, worst))
}

// recordLevelHits walks candles in order and records the first touch of
// each target and the stop. Hits are sticky.
func (t *Tracker) recordLevelHits(outcome *models.SignalOutcome, sig db.StoredSignal, forward []models.Candle) {
	long := sig.Direction == models.DirectionLong
	touchedTarget := func(c models.Candle, level float64) bool {
		if long {
			return c.High >= level
		}
		return c.Low <= level
	}
	touchedStop := func(c models.Candle, level float64) bool {
		if long {
			return c.Low <= level
		}
		return c.High >= level
	}

	for _, c := range forward {
		when := c.Time
		if sig.TakeProfit1 != nil && !outcome.TP1Hit && touchedTarget(c, *sig.TakeProfit1) {
			outcome.TP1Hit = true
			outcome.TP1HitAt = &when
		}
		if sig.TakeProfit2 != nil && !outcome.TP2Hit && touchedTarget(c, *sig.TakeProfit2) {
			outcome.TP2Hit = true
			outcome.TP2HitAt = &when
		}
		if sig.TakeProfit3 != nil && !outcome.TP3Hit && touchedTarget(c, *sig.TakeProfit3) {
			outcome.TP3Hit = true
			outcome.TP3HitAt = &when
		}
		if sig.StopLoss != nil && !outcome.SLHit && touchedStop(c, *sig.StopLoss) {
			outcome.SLHit = true
			outcome.SLHitAt = &when
		}
	}
}

// verdict classifies the outcome from level hits, falling back to the
// 24h drift when neither level was touched
func verdict(outcome *models.SignalOutcome, elapsed time.Duration) models.Verdict {
	switch {
	case outcome.TP1Hit && outcome.SLHit:
		return models.VerdictPartial
	case outcome.TP1Hit:
		return models.VerdictCorrect
	case outcome.SLHit:
		return models.VerdictIncorrect
	}

	if elapsed >= resolutionWindow && outcome.Return24H != nil {
		switch ret := *outcome.Return24H; {
		case ret > driftThresholdPct:
			return models.VerdictCorrect
		case ret < -driftThresholdPct:
			return models.VerdictIncorrect
		default:
			return models.VerdictPartial
		}
	}
	return models.VerdictPending
}

// signedReturnPct returns the percent move from entry, positive when
// favorable to the direction
func signedReturnPct(direction models.SignalDirection, entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	pct := (price - entry) / entry * 100
	if direction == models.DirectionShort {
		return -pct
	}
	return pct
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
