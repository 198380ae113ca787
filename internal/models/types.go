package models

import (
	"math"
	"time"
)

// SignalDirection is the trade direction of a divergence signal
type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
)

// Opposite returns the reverse direction
func (d SignalDirection) Opposite() SignalDirection {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// DivergenceType classifies price/oscillator divergences
type DivergenceType string

const (
	BullishRegular DivergenceType = "bullish_regular"
	BearishRegular DivergenceType = "bearish_regular"
	BullishHidden  DivergenceType = "bullish_hidden"
	BearishHidden  DivergenceType = "bearish_hidden"
)

// AssetClass groups instruments for correlation limits and sizing
type AssetClass string

const (
	AssetCrypto    AssetClass = "crypto"
	AssetForex     AssetClass = "forex"
	AssetIndex     AssetClass = "index"
	AssetCommodity AssetClass = "commodity"
	AssetBond      AssetClass = "bond"
	AssetStock     AssetClass = "stock"
)

// Verdict classifies a signal outcome after forward observation
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictPartial   Verdict = "partial"
	VerdictPending   Verdict = "pending"
)

// CandleStatus marks whether the latest candle is complete
type CandleStatus string

const (
	CandleClosed  CandleStatus = "closed"
	CandleForming CandleStatus = "forming"
)

// Candle is a single OHLCV bar, timestamp aligned to the timeframe boundary (UTC)
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Ticker is a broker price snapshot
type Ticker struct {
	Last float64
	Bid  float64
	Ask  float64
}

// Mid returns the bid/ask midpoint, falling back to last
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Balance is an account balance snapshot in account currency
type Balance struct {
	Total float64
	Free  float64
	Used  float64
}

// Missing is the sentinel for indicator warmup entries
var Missing = math.NaN()

// IsMissing reports whether an indicator value is a warmup sentinel
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// LastValid returns the last non-missing value of a series
func LastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !IsMissing(series[i]) {
			return series[i], true
		}
	}
	return 0, false
}

// IndicatorSet holds parallel indicator sequences for one (symbol, timeframe).
// All sequences have the same length as the input candles; warmup entries are
// Missing and must be skipped by consumers.
type IndicatorSet struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64

	RSI           []float64
	MACDLine      []float64
	MACDSignal    []float64
	MACDHistogram []float64
	OBV           []float64
	MFI           []float64
	StochK        []float64
	StochD        []float64
	CCI           []float64
	WilliamsR     []float64
	ATR           []float64
	ADX           []float64
	EMAShort      []float64
	EMAMedium     []float64
	EMALong       []float64
	VolumeSMA     []float64

	// CandlePatterns maps pattern name to a {+100, 0, -100} sequence
	CandlePatterns map[string][]int
}

// Len returns the candle count backing the set
func (s *IndicatorSet) Len() int {
	return len(s.Closes)
}

// Signal is the output of a divergence detector
type Signal struct {
	DivergenceDetected   bool
	DivergenceType       DivergenceType
	Direction            SignalDirection
	Confidence           float64
	EntryPrice           *float64
	StopLoss             *float64
	TakeProfit1          *float64
	TakeProfit2          *float64
	TakeProfit3          *float64
	Indicator            string
	ConfirmingIndicators []string
	SwingLengthBars      int
	DivergenceMagnitude  float64
	Reasoning            string
	Symbol               string
	Timeframe            string
}

// HasLevels reports whether entry, stop and first target are all present
func (s *Signal) HasLevels() bool {
	return s.EntryPrice != nil && s.StopLoss != nil && s.TakeProfit1 != nil
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}

// ValidationResult is the verdict of the signal validator
type ValidationResult struct {
	Valid  bool
	Reason string
}

// RiskCheckResult is the verdict of the risk admission check
type RiskCheckResult struct {
	Approved bool
	Reason   string
}

// PortfolioState is a per-broker reconstruction of equity and exposure
type PortfolioState struct {
	Broker           string
	TotalEquity      float64
	AvailableBalance float64
	OpenPositions    []*Order
	DailyPnL         float64
	DailyTrades      int
}

// ActiveSetup is a validated 4h signal retained until a same-direction
// 1h signal confirms it or until it expires
type ActiveSetup struct {
	Signal     Signal
	SignalID   int64
	Direction  SignalDirection
	DetectedAt time.Time
	ExpiresAt  time.Time
}

// AnalysisCycleResult summarises one scheduled analysis pass
type AnalysisCycleResult struct {
	ID               int64
	StartedAt        time.Time
	CompletedAt      time.Time
	SymbolsAnalyzed  []string
	SignalsFound     int
	SignalsValidated int
	OrdersPlaced     int
	Errors           []string
	SymbolDetails    map[string]string
	DurationMS       int64
}

// SignalOutcome tracks what happened to a signal against forward candles
type SignalOutcome struct {
	ID         int64
	SignalID   int64
	EntryPrice float64
	Direction  SignalDirection

	Price1H  *float64
	Price4H  *float64
	Price12H *float64
	Price24H *float64

	Return1H  *float64
	Return4H  *float64
	Return12H *float64
	Return24H *float64

	MaxFavorablePrice *float64
	MaxFavorablePct   *float64
	MaxAdversePrice   *float64
	MaxAdversePct     *float64

	TP1Hit bool
	TP2Hit bool
	TP3Hit bool
	SLHit  bool

	TP1HitAt *time.Time
	TP2HitAt *time.Time
	TP3HitAt *time.Time
	SLHitAt  *time.Time

	Verdict       Verdict
	FullyResolved bool
	LastCheckedAt time.Time
}
