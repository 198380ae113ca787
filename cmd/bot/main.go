package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfold/divergent/internal/alerts"
	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/cycle"
	"github.com/quantfold/divergent/internal/db"
	"github.com/quantfold/divergent/internal/detector"
	"github.com/quantfold/divergent/internal/execution"
	"github.com/quantfold/divergent/internal/health"
	"github.com/quantfold/divergent/internal/indicators"
	"github.com/quantfold/divergent/internal/outcome"
	"github.com/quantfold/divergent/internal/risk"
	"github.com/quantfold/divergent/internal/scheduler"
	"github.com/quantfold/divergent/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("main")
	logger.Info().
		Str("mode", cfg.Trading.Mode).
		Strs("symbols", cfg.Trading.Symbols).
		Strs("timeframes", cfg.Trading.Timeframes).
		Msg("starting divergent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dev mode runs without persistence; every store stays nil.
	var database *db.DB
	if cfg.Trading.Mode != config.ModeDev {
		database, err = db.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	} else {
		logger.Warn().Msg("dev mode, database disabled")
	}

	var (
		riskStore    risk.Store
		execStore    execution.Store
		monitorStore execution.MonitorStore
		cycleStore   cycle.Store
		outcomeStore outcome.Store
		pinger       health.Pinger
	)
	if database != nil {
		riskStore = database
		execStore = database
		monitorStore = database
		cycleStore = database
		outcomeStore = database
		pinger = database
	}
	_ = outcomeStore

	router := broker.NewRouter()
	if err := registerBrokers(cfg, router); err != nil {
		return err
	}
	defer router.CloseAll()

	det, err := detector.New(cfg)
	if err != nil {
		return fmt.Errorf("building detector: %w", err)
	}

	alertMgr := buildAlerts(cfg)
	riskMgr := risk.NewManager(cfg, riskStore)
	engine := execution.NewEngine(cfg, router, riskMgr, execStore, alertMgr)
	monitor := execution.NewMonitor(cfg, router, monitorStore, alertMgr)

	analyzer := cycle.NewAnalyzer(cfg, router,
		indicators.NewEngine(cfg.Indicators), det,
		validator.New(cfg.Validator, cfg.Risk), validator.NewScorer(),
		riskMgr, engine, cycleStore, alertMgr)

	if err := analyzer.SeedCandleCache(ctx); err != nil {
		return fmt.Errorf("seeding candle cache: %w", err)
	}

	healthSrv := health.NewServer(cfg, router, pinger)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()

	sched := scheduler.New(time.Duration(cfg.Scheduler.MisfireGraceSeconds) * time.Second)
	sched.Add("analysis", cfg.AnalysisInterval(), analyzer.Run)
	sched.Add("position_monitor",
		time.Duration(cfg.Scheduler.PositionMonitorMinutes)*time.Minute, monitor.Run)

	var tracker *outcome.Tracker
	if database != nil {
		tracker = outcome.NewTracker(router, database)
		sched.Add("outcome_tracker",
			time.Duration(cfg.Scheduler.OutcomeTrackerMinutes)*time.Minute, tracker.Run)
	}

	sched.Start(ctx)

	_ = alertMgr.SendInfo(ctx, fmt.Sprintf("%s started", cfg.App.Name),
		fmt.Sprintf("Mode %s, %d symbols", cfg.Trading.Mode, len(cfg.Trading.Symbols)),
		map[string]any{"mode": cfg.Trading.Mode})

	// First pass immediately instead of waiting one full interval
	if err := analyzer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("initial analysis cycle failed")
	}
	if tracker != nil {
		if err := tracker.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("initial outcome pass failed")
		}
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown failed")
	}

	_ = alertMgr.SendInfo(shutdownCtx, fmt.Sprintf("%s stopped", cfg.App.Name),
		"Graceful shutdown complete", nil)
	logger.Info().Msg("shutdown complete")
	return nil
}

// registerBrokers constructs one adapter per configured venue. The IG
// adapter is wrapped with the Yahoo data provider so stock epics get
// historical candles IG itself cannot serve.
func registerBrokers(cfg *config.Config, router *broker.Router) error {
	logger := config.NewLogger("main")

	for id, bcfg := range cfg.Brokers {
		switch id {
		case "binance":
			router.Register(broker.NewBinanceBroker(bcfg))
		case "oanda":
			router.Register(broker.NewOandaBroker(bcfg))
		case "ig":
			router.Register(broker.NewIGStockBroker(
				broker.NewIGBroker(bcfg), broker.NewYahooProvider()))
		case "mock":
			router.Register(broker.NewMockBroker("mock"))
		default:
			return fmt.Errorf("unknown broker %q in config", id)
		}
		logger.Info().Str("broker", id).Msg("broker registered")
	}

	if len(router.All()) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	return nil
}

// buildAlerts wires the log channel always and Telegram when credentials
// are present
func buildAlerts(cfg *config.Config) *alerts.Manager {
	channels := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.Telegram.BotToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram)
		if err != nil {
			logger := config.NewLogger("main")
			logger.Warn().Err(err).Msg("telegram alerter disabled")
		} else {
			channels = append(channels, tg)
		}
	}

	return alerts.NewManager(channels...)
}
