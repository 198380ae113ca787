package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Trading modes
const (
	ModeDev   = "dev"   // no external I/O, log only
	ModePaper = "paper" // real market data, simulated fills
	ModeLive  = "live"  // real orders
)

// Config holds all application configuration
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Trading    TradingConfig           `mapstructure:"trading"`
	Indicators IndicatorConfig         `mapstructure:"indicators"`
	Detector   DetectorConfig          `mapstructure:"detector"`
	Validator  ValidatorConfig         `mapstructure:"validator"`
	Risk       RiskConfig              `mapstructure:"risk"`
	MultiTF    MultiTFConfig           `mapstructure:"multi_tf"`
	Execution  ExecutionConfig         `mapstructure:"execution"`
	Brokers    map[string]BrokerConfig `mapstructure:"brokers"`
	Telegram   TelegramConfig          `mapstructure:"telegram"`
	Health     HealthConfig            `mapstructure:"health"`
	Scheduler  SchedulerConfig         `mapstructure:"scheduler"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// TradingConfig contains symbol universe and cycle settings
type TradingConfig struct {
	Mode                    string   `mapstructure:"mode"` // dev, paper, live
	Symbols                 []string `mapstructure:"symbols"`
	Timeframes              []string `mapstructure:"timeframes"`
	AnalysisIntervalMinutes int      `mapstructure:"analysis_interval_minutes"`
	LookbackCandles         int      `mapstructure:"lookback_candles"`
	PayloadLookback         int      `mapstructure:"payload_lookback"`
}

// IndicatorConfig contains indicator periods
type IndicatorConfig struct {
	RSIPeriod       int `mapstructure:"rsi_period"`
	MACDFast        int `mapstructure:"macd_fast"`
	MACDSlow        int `mapstructure:"macd_slow"`
	MACDSignal      int `mapstructure:"macd_signal"`
	StochKPeriod    int `mapstructure:"stoch_k_period"`
	StochDPeriod    int `mapstructure:"stoch_d_period"`
	StochSlowing    int `mapstructure:"stoch_slowing"`
	MFIPeriod       int `mapstructure:"mfi_period"`
	ATRPeriod       int `mapstructure:"atr_period"`
	ADXPeriod       int `mapstructure:"adx_period"`
	CCIPeriod       int `mapstructure:"cci_period"`
	WilliamsRPeriod int `mapstructure:"williams_r_period"`
	EMAShort        int `mapstructure:"ema_short"`
	EMAMedium       int `mapstructure:"ema_medium"`
	EMALong         int `mapstructure:"ema_long"`
	VolumeSMAPeriod int `mapstructure:"volume_sma_period"`
}

// DetectorConfig selects and tunes the divergence detector
type DetectorConfig struct {
	Kind                      string  `mapstructure:"kind"` // "deterministic" or "remote"
	SwingOrder                int     `mapstructure:"swing_order"`
	MinConfluence             int     `mapstructure:"min_confluence"`
	ATRStopMultiplier         float64 `mapstructure:"atr_stop_multiplier"`
	RequireTrendAlignment     bool    `mapstructure:"require_trend_alignment"`
	RequireVolumeConfirmation bool    `mapstructure:"require_volume_confirmation"`
	RemoteURL                 string  `mapstructure:"remote_url"`
	RemoteTimeoutMS           int     `mapstructure:"remote_timeout_ms"`
}

// ValidatorConfig contains signal validation thresholds
type ValidatorConfig struct {
	MinConfirmingIndicators int     `mapstructure:"min_confirming_indicators"`
	MinSwingBars4H          int     `mapstructure:"min_swing_bars_4h"`
	MinSwingBars1H          int     `mapstructure:"min_swing_bars_1h"`
	MinMagnitudeRSI         float64 `mapstructure:"min_divergence_magnitude_rsi"`
	VolumeLowThreshold      float64 `mapstructure:"volume_low_threshold"`
	CandleGateLookback      int     `mapstructure:"candle_gate_lookback"`
}

// RiskConfig contains global risk limits; brokers may override a subset
type RiskConfig struct {
	MaxPositionPct         float64 `mapstructure:"max_position_pct"`
	MaxDailyLossPct        float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct         float64 `mapstructure:"max_drawdown_pct"`
	MaxOpenPositions       int     `mapstructure:"max_open_positions"`
	MaxCorrelationExposure int     `mapstructure:"max_correlation_exposure"`
	MinRiskReward          float64 `mapstructure:"min_risk_reward"`
	MinConfidence          float64 `mapstructure:"min_confidence"`
}

// MultiTFConfig controls 4h-setup + 1h-trigger confirmation
type MultiTFConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	SetupExpiryHours int  `mapstructure:"setup_expiry_hours"`
}

// ExecutionConfig contains order management settings
type ExecutionConfig struct {
	TP1ClosePct float64 `mapstructure:"tp1_close_pct"` // fraction of position closed at TP1, 0 disables partial close
}

// BrokerConfig contains per-venue credentials and risk overrides.
// Override fields use pointers so "unset" falls back to the global value.
type BrokerConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	AccountID string `mapstructure:"account_id"`
	Sandbox   bool   `mapstructure:"sandbox"`

	StartingEquity float64  `mapstructure:"starting_equity"`
	Symbols        []string `mapstructure:"symbols"`

	MaxOpenPositions       *int     `mapstructure:"max_open_positions"`
	MaxCorrelationExposure *int     `mapstructure:"max_correlation_exposure"`
	MinConfidence          *float64 `mapstructure:"min_confidence"`
}

// TelegramConfig contains alerting credentials
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// HealthConfig contains the health/metrics server settings
type HealthConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SchedulerConfig contains job cadences
type SchedulerConfig struct {
	PositionMonitorMinutes int `mapstructure:"position_monitor_minutes"`
	OutcomeTrackerMinutes  int `mapstructure:"outcome_tracker_minutes"`
	MisfireGraceSeconds    int `mapstructure:"misfire_grace_seconds"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DIVERGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "divergent")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.pool_size", 10)

	v.SetDefault("trading.mode", ModePaper)
	v.SetDefault("trading.symbols", []string{"BTC/USDT"})
	v.SetDefault("trading.timeframes", []string{"1h", "4h"})
	v.SetDefault("trading.analysis_interval_minutes", 1)
	v.SetDefault("trading.lookback_candles", 200)
	v.SetDefault("trading.payload_lookback", 30)

	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.macd_fast", 12)
	v.SetDefault("indicators.macd_slow", 26)
	v.SetDefault("indicators.macd_signal", 9)
	v.SetDefault("indicators.stoch_k_period", 14)
	v.SetDefault("indicators.stoch_d_period", 3)
	v.SetDefault("indicators.stoch_slowing", 3)
	v.SetDefault("indicators.mfi_period", 14)
	v.SetDefault("indicators.atr_period", 14)
	v.SetDefault("indicators.adx_period", 14)
	v.SetDefault("indicators.cci_period", 20)
	v.SetDefault("indicators.williams_r_period", 14)
	v.SetDefault("indicators.ema_short", 20)
	v.SetDefault("indicators.ema_medium", 50)
	v.SetDefault("indicators.ema_long", 200)
	v.SetDefault("indicators.volume_sma_period", 20)

	v.SetDefault("detector.kind", "deterministic")
	v.SetDefault("detector.swing_order", 5)
	v.SetDefault("detector.min_confluence", 3)
	v.SetDefault("detector.atr_stop_multiplier", 1.5)
	v.SetDefault("detector.require_trend_alignment", true)
	v.SetDefault("detector.require_volume_confirmation", true)
	v.SetDefault("detector.remote_timeout_ms", 30000)

	v.SetDefault("validator.min_confirming_indicators", 2)
	v.SetDefault("validator.min_swing_bars_4h", 10)
	v.SetDefault("validator.min_swing_bars_1h", 8)
	v.SetDefault("validator.min_divergence_magnitude_rsi", 5.0)
	v.SetDefault("validator.volume_low_threshold", 0.5)
	v.SetDefault("validator.candle_gate_lookback", 5)

	v.SetDefault("risk.max_position_pct", 2.0)
	v.SetDefault("risk.max_daily_loss_pct", 5.0)
	v.SetDefault("risk.max_drawdown_pct", 15.0)
	v.SetDefault("risk.max_open_positions", 4)
	v.SetDefault("risk.max_correlation_exposure", 3)
	v.SetDefault("risk.min_risk_reward", 2.0)
	v.SetDefault("risk.min_confidence", 0.7)

	v.SetDefault("multi_tf.enabled", false)
	v.SetDefault("multi_tf.setup_expiry_hours", 24)

	v.SetDefault("execution.tp1_close_pct", 0.5)

	v.SetDefault("health.host", "0.0.0.0")
	v.SetDefault("health.port", 8080)

	v.SetDefault("scheduler.position_monitor_minutes", 2)
	v.SetDefault("scheduler.outcome_tracker_minutes", 5)
	v.SetDefault("scheduler.misfire_grace_seconds", 60)
}

// Validate checks the configuration for startup errors
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModeDev, ModePaper, ModeLive:
	default:
		return fmt.Errorf("invalid trading mode %q (must be dev, paper or live)", c.Trading.Mode)
	}

	if c.Trading.Mode != ModeDev && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for %s trading", c.Trading.Mode)
	}

	if c.Trading.AnalysisIntervalMinutes < 1 {
		return fmt.Errorf("trading.analysis_interval_minutes must be >= 1")
	}

	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}

	for _, tf := range c.Trading.Timeframes {
		switch tf {
		case "1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w":
		default:
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}

	if c.Execution.TP1ClosePct < 0 || c.Execution.TP1ClosePct > 1 {
		return fmt.Errorf("execution.tp1_close_pct must be within [0, 1]")
	}

	if c.Trading.Mode == ModeLive {
		b, ok := c.Brokers["binance"]
		if ok && (b.APIKey == "" || b.APISecret == "") {
			return fmt.Errorf("binance api_key and api_secret are required for live trading")
		}
	}

	return nil
}

// Broker returns the configuration for a broker id, zero value if absent
func (c *Config) Broker(brokerID string) BrokerConfig {
	return c.Brokers[brokerID]
}

// GetMaxOpenPositions returns the per-broker open position cap
func (c *Config) GetMaxOpenPositions(brokerID string) int {
	if b, ok := c.Brokers[brokerID]; ok && b.MaxOpenPositions != nil {
		return *b.MaxOpenPositions
	}
	return c.Risk.MaxOpenPositions
}

// GetMaxCorrelationExposure returns the per-broker correlation cap
func (c *Config) GetMaxCorrelationExposure(brokerID string) int {
	if b, ok := c.Brokers[brokerID]; ok && b.MaxCorrelationExposure != nil {
		return *b.MaxCorrelationExposure
	}
	return c.Risk.MaxCorrelationExposure
}

// GetMinConfidence returns the per-broker confidence floor
func (c *Config) GetMinConfidence(brokerID string) float64 {
	if b, ok := c.Brokers[brokerID]; ok && b.MinConfidence != nil {
		return *b.MinConfidence
	}
	return c.Risk.MinConfidence
}

// GetStartingEquity returns the configured paper-trading equity for a broker
func (c *Config) GetStartingEquity(brokerID string) float64 {
	if b, ok := c.Brokers[brokerID]; ok && b.StartingEquity > 0 {
		return b.StartingEquity
	}
	return 5000.0
}

// AnalysisInterval returns the analysis cadence as a duration
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.Trading.AnalysisIntervalMinutes) * time.Minute
}

// RemoteDetectorTimeout returns the remote detector call budget
func (c *DetectorConfig) RemoteDetectorTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMS) * time.Millisecond
}
