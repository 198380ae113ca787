// Package metrics exposes the Prometheus collectors shared across the
// service. Everything is registered on the default registry and served
// by the health server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysisCyclesTotal counts completed analysis cycles
	AnalysisCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "divergent_analysis_cycles_total",
		Help: "Number of completed analysis cycles",
	})

	// AnalysisCycleDuration observes cycle wall time
	AnalysisCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "divergent_analysis_cycle_duration_seconds",
		Help:    "Analysis cycle duration",
		Buckets: prometheus.DefBuckets,
	})

	// SignalsDetected counts detector hits per symbol and timeframe
	SignalsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_signals_detected_total",
		Help: "Divergence signals detected",
	}, []string{"symbol", "timeframe"})

	// SignalsValidated counts signals that passed validation
	SignalsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_signals_validated_total",
		Help: "Divergence signals that passed validation",
	}, []string{"symbol", "timeframe"})

	// SignalsRejected counts validation rejections by rule
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_signals_rejected_total",
		Help: "Divergence signals rejected by the validator",
	}, []string{"rule"})

	// OrdersPlaced counts orders submitted per broker
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_orders_placed_total",
		Help: "Orders submitted to brokers",
	}, []string{"broker"})

	// OpenPositions tracks current open position count per broker
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "divergent_open_positions",
		Help: "Currently open positions",
	}, []string{"broker"})

	// PortfolioEquity tracks reconstructed equity per broker
	PortfolioEquity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "divergent_portfolio_equity",
		Help: "Reconstructed total equity",
	}, []string{"broker"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "divergent_circuit_breaker_state",
		Help: "Outbound-call circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	// RiskBreakerActive is 1 while a risk circuit breaker is tripped
	RiskBreakerActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "divergent_risk_breaker_active",
		Help: "Risk circuit breaker status (1=tripped)",
	}, []string{"kind"})

	// BrokerErrors counts failed venue calls
	BrokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_broker_errors_total",
		Help: "Failed broker API calls",
	}, []string{"broker", "op"})

	// OutcomeVerdicts counts resolved signal outcomes
	OutcomeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divergent_outcome_verdicts_total",
		Help: "Signal outcome verdicts on full resolution",
	}, []string{"verdict"})
)
