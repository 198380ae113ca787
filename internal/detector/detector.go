package detector

import (
	"context"
	"fmt"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// Detector kinds selectable via configuration
const (
	KindDeterministic = "deterministic"
	KindRemote        = "remote"
)

// Detector finds price/oscillator divergences in an indicator set.
// A nil-error return always carries a Signal; when no tradeable
// divergence is present, DivergenceDetected is false and Reasoning
// explains the rejection. The status tells the detector whether the
// latest candle is complete; the deterministic detector trades on
// closed-candle swings either way, a remote oracle may weigh a
// forming candle differently.
type Detector interface {
	Name() string
	Detect(ctx context.Context, symbol, timeframe string, set *models.IndicatorSet, status models.CandleStatus) (*models.Signal, error)
}

// New builds the configured detector
func New(cfg *config.Config) (Detector, error) {
	switch cfg.Detector.Kind {
	case "", KindDeterministic:
		return NewDeterministic(cfg.Detector, cfg.Risk), nil
	case KindRemote:
		if cfg.Detector.RemoteURL == "" {
			return nil, fmt.Errorf("detector.remote_url is required for the remote detector")
		}
		return NewRemote(cfg.Detector, cfg.Trading.PayloadLookback), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Detector.Kind)
	}
}
