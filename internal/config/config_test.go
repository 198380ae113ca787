package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost:5432/divergent
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModePaper, cfg.Trading.Mode)
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod)
	assert.Equal(t, 200, cfg.Indicators.EMALong)
	assert.Equal(t, 2.0, cfg.Risk.MinRiskReward)
	assert.Equal(t, 0.5, cfg.Execution.TP1ClosePct)
	assert.Equal(t, "deterministic", cfg.Detector.Kind)
	assert.Equal(t, 5, cfg.Detector.SwingOrder)
}

func TestLoadInvalidMode(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: yolo
database:
  url: postgres://localhost:5432/divergent
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid trading mode")
}

func TestDevModeNeedsNoDatabase(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: dev
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeDev, cfg.Trading.Mode)
}

func TestPaperModeRequiresDatabase(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: paper
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestBrokerOverrides(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: dev
risk:
  max_open_positions: 4
  max_correlation_exposure: 3
  min_confidence: 0.7
brokers:
  oanda:
    starting_equity: 10000
    max_open_positions: 2
    min_confidence: 0.8
  binance:
    starting_equity: 5000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.GetMaxOpenPositions("oanda"))
	assert.Equal(t, 4, cfg.GetMaxOpenPositions("binance"))
	assert.Equal(t, 0.8, cfg.GetMinConfidence("oanda"))
	assert.Equal(t, 0.7, cfg.GetMinConfidence("binance"))
	assert.Equal(t, 3, cfg.GetMaxCorrelationExposure("oanda"))
	assert.Equal(t, 10000.0, cfg.GetStartingEquity("oanda"))
	assert.Equal(t, 5000.0, cfg.GetStartingEquity("binance"))
	assert.Equal(t, 5000.0, cfg.GetStartingEquity("unknown"))
}

func TestTP1ClosePctBounds(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: dev
execution:
  tp1_close_pct: 1.5
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tp1_close_pct")
}

func TestUnsupportedTimeframe(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: dev
  timeframes: ["1h", "2h"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported timeframe")
}
