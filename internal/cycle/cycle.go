// Package cycle runs the scheduled analysis pass: fetch candles,
// compute indicators, detect and validate divergences, and hand
// accepted signals to the execution engine.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/alerts"
	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/db"
	"github.com/quantfold/divergent/internal/detector"
	"github.com/quantfold/divergent/internal/indicators"
	"github.com/quantfold/divergent/internal/metrics"
	"github.com/quantfold/divergent/internal/models"
	"github.com/quantfold/divergent/internal/validator"
)

// tpMultipliers recompute targets from the confirmed risk distance
var tpMultipliers = [3]float64{1.0, 1.5, 2.0}

// Store is the persistence surface used by the analysis cycle
type Store interface {
	InsertSignal(ctx context.Context, rec db.SignalRecord) (int64, error)
	InsertAnalysisCycle(ctx context.Context, result *models.AnalysisCycleResult) (int64, error)
	InsertPortfolioSnapshot(ctx context.Context, state *models.PortfolioState) error
	UpsertCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
}

// Executor places orders for accepted signals
type Executor interface {
	ExecuteSignal(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioState, signalID *int64) (*models.Order, error)
}

// PortfolioProvider reconstructs per-broker portfolio state
type PortfolioProvider interface {
	PortfolioState(ctx context.Context, brokerID string) (*models.PortfolioState, error)
}

// Analyzer orchestrates one analysis cycle over the symbol universe
type Analyzer struct {
	cfg        *config.Config
	router     *broker.Router
	indicators *indicators.Engine
	detector   detector.Detector
	validator  *validator.Validator
	scorer     *validator.Scorer
	portfolios PortfolioProvider
	executor   Executor
	store      Store // nil in dev mode
	alerts     *alerts.Manager
	setups     *SetupStore
	logger     zerolog.Logger

	// process-local candle bookkeeping, keyed "symbol/timeframe"
	lastCandleTimes map[string]time.Time
	signaledCandles map[string]time.Time

	now func() time.Time
}

// NewAnalyzer wires the analysis cycle
func NewAnalyzer(cfg *config.Config, router *broker.Router, ind *indicators.Engine, det detector.Detector,
	val *validator.Validator, scorer *validator.Scorer, portfolios PortfolioProvider,
	executor Executor, store Store, alertMgr *alerts.Manager) *Analyzer {
	return &Analyzer{
		cfg:             cfg,
		router:          router,
		indicators:      ind,
		detector:        det,
		validator:       val,
		scorer:          scorer,
		portfolios:      portfolios,
		executor:        executor,
		store:           store,
		alerts:          alertMgr,
		setups:          NewSetupStore(),
		logger:          config.NewLogger("cycle"),
		lastCandleTimes: make(map[string]time.Time),
		signaledCandles: make(map[string]time.Time),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SeedCandleCache primes the candle caches with one minimal fetch per
// (symbol, timeframe) so the first cycle does not treat the prevailing
// candle as newly closed. The prevailing candle is also marked as
// signaled: a restart with no new candles produces no signals.
func (a *Analyzer) SeedCandleCache(ctx context.Context) error {
	for _, symbol := range a.cfg.Trading.Symbols {
		venue, err := a.router.Route(symbol)
		if err != nil {
			return err
		}
		for _, timeframe := range a.cfg.Trading.Timeframes {
			candles, err := venue.FetchOHLCV(ctx, symbol, timeframe, 1)
			if err != nil {
				a.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
					Msg("candle cache seed failed")
				continue
			}
			if len(candles) > 0 {
				key := symbol + "/" + timeframe
				a.lastCandleTimes[key] = candles[len(candles)-1].Time
				a.signaledCandles[key] = candles[len(candles)-1].Time
			}
		}
	}
	a.logger.Info().Int("entries", len(a.lastCandleTimes)).Msg("candle cache seeded")
	return nil
}

// Run executes one full analysis cycle
func (a *Analyzer) Run(ctx context.Context) error {
	started := a.now()
	result := &models.AnalysisCycleResult{
		StartedAt:     started,
		SymbolDetails: make(map[string]string),
	}

	portfolios := make(map[string]*models.PortfolioState)
	for _, venue := range a.router.All() {
		state, err := a.portfolios.PortfolioState(ctx, venue.BrokerID())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("portfolio %s: %v", venue.BrokerID(), err))
			continue
		}
		portfolios[venue.BrokerID()] = state
		if a.store != nil {
			if err := a.store.InsertPortfolioSnapshot(ctx, state); err != nil {
				a.logger.Warn().Err(err).Str("broker", venue.BrokerID()).Msg("snapshot insert failed")
			}
		}
	}

	if expired := a.setups.ExpireStale(a.now()); expired > 0 {
		a.logger.Info().Int("expired", expired).Msg("stale setups pruned")
	}

	traded := make(map[string]bool)
	for _, symbol := range a.cfg.Trading.Symbols {
		result.SymbolsAnalyzed = append(result.SymbolsAnalyzed, symbol)
		for _, timeframe := range a.cfg.Trading.Timeframes {
			detail, err := a.analyzeOne(ctx, symbol, timeframe, portfolios, traded, result)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", symbol, timeframe, err))
				detail = "error: " + err.Error()
			}
			result.SymbolDetails[symbol+"/"+timeframe] = detail
		}
	}

	completed := a.now()
	result.CompletedAt = completed
	result.DurationMS = completed.Sub(started).Milliseconds()

	metrics.AnalysisCyclesTotal.Inc()
	metrics.AnalysisCycleDuration.Observe(completed.Sub(started).Seconds())

	if a.store != nil {
		if _, err := a.store.InsertAnalysisCycle(ctx, result); err != nil {
			a.logger.Error().Err(err).Msg("cycle result insert failed")
		}
	}

	a.logger.Info().Int("signals", result.SignalsFound).Int("validated", result.SignalsValidated).
		Int("orders", result.OrdersPlaced).Int64("duration_ms", result.DurationMS).
		Msg("analysis cycle complete")
	return nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, symbol, timeframe string,
	portfolios map[string]*models.PortfolioState, traded map[string]bool,
	result *models.AnalysisCycleResult) (string, error) {

	venue, err := a.router.Route(symbol)
	if err != nil {
		return "", err
	}
	brokerID := venue.BrokerID()

	candles, err := venue.FetchOHLCV(ctx, symbol, timeframe, a.cfg.Trading.LookbackCandles)
	if err != nil {
		metrics.BrokerErrors.WithLabelValues(brokerID, "ohlcv").Inc()
		return "", err
	}
	if len(candles) < a.cfg.Trading.LookbackCandles/2 {
		return "insufficient_data", nil
	}

	if a.store != nil {
		if err := a.store.UpsertCandles(ctx, symbol, timeframe, candles); err != nil {
			a.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle upsert failed")
		}
	}

	set, err := a.indicators.Compute(candles)
	if err != nil {
		return "", err
	}

	key := symbol + "/" + timeframe
	latest := candles[len(candles)-1].Time
	status := models.CandleForming
	if !a.lastCandleTimes[key].Equal(latest) {
		status = models.CandleClosed
		a.lastCandleTimes[key] = latest
		delete(a.signaledCandles, key)
	}
	if a.signaledCandles[key].Equal(latest) {
		return "already_signaled", nil
	}

	sig, err := a.detector.Detect(ctx, symbol, timeframe, set, status)
	if err != nil {
		return "", err
	}
	if !sig.DivergenceDetected {
		return "no_divergence", nil
	}
	a.signaledCandles[key] = latest
	result.SignalsFound++
	metrics.SignalsDetected.WithLabelValues(symbol, timeframe).Inc()

	check := a.validator.Validate(sig, set)
	if check.Valid {
		if floor := a.cfg.GetMinConfidence(brokerID); sig.Confidence < floor {
			check = models.ValidationResult{
				Valid:  false,
				Reason: fmt.Sprintf("Confidence %.2f below %s threshold %.2f", sig.Confidence, brokerID, floor),
			}
		}
	}

	scored := a.scorer.Score(sig, set)
	signalID := a.persistSignal(ctx, sig, scored.Score, check, brokerID)

	if !check.Valid {
		metrics.SignalsRejected.WithLabelValues("validation").Inc()
		return "rejected: " + check.Reason, nil
	}
	result.SignalsValidated++
	metrics.SignalsValidated.WithLabelValues(symbol, timeframe).Inc()

	execSig := sig
	if a.cfg.MultiTF.Enabled {
		switch timeframe {
		case "4h":
			a.storeSetup(ctx, sig, signalID, brokerID)
			return "setup_created", nil
		case "1h":
			confirmed, ok := a.confirmSetup(sig, brokerID)
			if !ok {
				return "no_matching_setup", nil
			}
			signalID = a.persistSignal(ctx, confirmed, scored.Score, check, brokerID)
			execSig = confirmed
		}
	}

	if traded[symbol] {
		return "already_traded_this_cycle", nil
	}
	portfolio, ok := portfolios[brokerID]
	if !ok {
		return "", fmt.Errorf("no portfolio state for %s", brokerID)
	}

	order, err := a.executor.ExecuteSignal(ctx, execSig, portfolio, signalID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "execution_declined", nil
	}

	traded[symbol] = true
	portfolio.OpenPositions = append(portfolio.OpenPositions, order)
	result.OrdersPlaced++
	if a.alerts != nil {
		_ = a.alerts.SendSignal(ctx, execSig, scored.Score)
	}
	return "order_placed", nil
}

// persistSignal writes the signal row and returns its id, nil without a store
func (a *Analyzer) persistSignal(ctx context.Context, sig *models.Signal, score float64,
	check models.ValidationResult, brokerID string) *int64 {
	if a.store == nil {
		return nil
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		a.logger.Warn().Err(err).Msg("signal payload marshal failed")
	}
	id, err := a.store.InsertSignal(ctx, db.SignalRecord{
		Signal:           sig,
		Score:            score,
		RawPayload:       payload,
		Validated:        check.Valid,
		ValidationReason: check.Reason,
		Broker:           brokerID,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("signal insert failed")
		return nil
	}
	return &id
}

// storeSetup retains a validated 4h signal until a 1h confirmation
func (a *Analyzer) storeSetup(ctx context.Context, sig *models.Signal, signalID *int64, brokerID string) {
	now := a.now()
	setup := &models.ActiveSetup{
		Signal:     *sig,
		Direction:  sig.Direction,
		DetectedAt: now,
		ExpiresAt:  now.Add(time.Duration(a.cfg.MultiTF.SetupExpiryHours) * time.Hour),
	}
	if signalID != nil {
		setup.SignalID = *signalID
	}
	a.setups.Put(brokerID, setup)
	a.logger.Info().Str("symbol", sig.Symbol).Str("direction", string(sig.Direction)).
		Time("expires_at", setup.ExpiresAt).Msg("4h setup stored")
	if a.alerts != nil {
		_ = a.alerts.SendInfo(ctx, fmt.Sprintf("Setup: %s %s", sig.Symbol, sig.Direction),
			"4h divergence confirmed, awaiting 1h trigger",
			map[string]any{"confidence": fmt.Sprintf("%.2f", sig.Confidence)})
	}
}

// confirmSetup merges a 1h trigger with its stored 4h setup. Entry
// comes from the 1h signal; the stop comes from the 4h setup unless it
// sits on the wrong side of the new entry.
func (a *Analyzer) confirmSetup(trigger *models.Signal, brokerID string) (*models.Signal, bool) {
	setup, ok := a.setups.Consume(brokerID, trigger.Symbol, trigger.Direction)
	if !ok {
		return nil, false
	}

	entry := *trigger.EntryPrice
	stop := *setup.Signal.StopLoss
	if wrongSide(trigger.Direction, entry, stop) {
		stop = *trigger.StopLoss
	}

	riskDist := entry - stop
	if trigger.Direction == models.DirectionShort {
		riskDist = stop - entry
	}
	rr := a.cfg.Risk.MinRiskReward

	confirmed := *trigger
	confirmed.Timeframe = "4h+1h"
	confirmed.EntryPrice = models.Float64Ptr(entry)
	confirmed.StopLoss = models.Float64Ptr(stop)
	if trigger.Direction == models.DirectionLong {
		confirmed.TakeProfit1 = models.Float64Ptr(entry + riskDist*rr*tpMultipliers[0])
		confirmed.TakeProfit2 = models.Float64Ptr(entry + riskDist*rr*tpMultipliers[1])
		confirmed.TakeProfit3 = models.Float64Ptr(entry + riskDist*rr*tpMultipliers[2])
	} else {
		confirmed.TakeProfit1 = models.Float64Ptr(entry - riskDist*rr*tpMultipliers[0])
		confirmed.TakeProfit2 = models.Float64Ptr(entry - riskDist*rr*tpMultipliers[1])
		confirmed.TakeProfit3 = models.Float64Ptr(entry - riskDist*rr*tpMultipliers[2])
	}
	if setup.Signal.Confidence > confirmed.Confidence {
		confirmed.Confidence = setup.Signal.Confidence
	}
	confirmed.Reasoning = fmt.Sprintf("4h setup confirmed by 1h trigger. %s", trigger.Reasoning)

	a.logger.Info().Str("symbol", trigger.Symbol).Float64("entry", entry).Float64("stop", stop).
		Msg("multi-timeframe setup confirmed")
	return &confirmed, true
}

// wrongSide reports whether the stop does not protect the entry
func wrongSide(direction models.SignalDirection, entry, stop float64) bool {
	if direction == models.DirectionLong {
		return stop >= entry
	}
	return stop <= entry
}
