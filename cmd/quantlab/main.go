package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/irfndi/quantlab-go/internal/app"
	"github.com/irfndi/quantlab-go/internal/cache"
	"github.com/irfndi/quantlab-go/internal/config"
	"github.com/irfndi/quantlab-go/internal/database"
	"github.com/irfndi/quantlab-go/internal/logging"
	"github.com/irfndi/quantlab-go/internal/services"
	"github.com/irfndi/quantlab-go/internal/strategies"
	"github.com/irfndi/quantlab-go/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		strategyName = flag.String("strategy", "sma_cross", "strategy to run ("+strings.Join(strategies.Names(), ", ")+")")
		symbol       = flag.String("symbol", "BTC/USDT", "trading pair")
		timeframe    = flag.String("timeframe", "1h", "candle timeframe")
		startStr     = flag.String("start", "", "series start (RFC 3339 or YYYY-MM-DD)")
		endStr       = flag.String("end", "", "series end (RFC 3339 or YYYY-MM-DD), defaults to now")
		optimize     = flag.Bool("optimize", false, "search the strategy's parameter space instead of a single run")
		method       = flag.String("method", string(services.MethodRandomSearch), "optimization method (grid_search, random_search)")
		metric       = flag.String("metric", services.MetricSharpeRatio, "optimization target metric")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Environment: cfg.Environment,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithField("error", err.Error()).Warn("Telemetry shutdown failed")
		}
	}()

	start, end, err := parseRange(*startStr, *endStr)
	if err != nil {
		return err
	}

	strategy, err := strategies.New(*strategyName)
	if err != nil {
		return err
	}

	db, err := database.NewPostgresConnection(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var resultCache app.ResultStore
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithField("error", err.Error()).Warn("Redis unavailable, running without result cache")
	} else {
		resultCache = cache.NewResultCache(redisClient, time.Duration(cfg.Redis.ResultTTLMinutes)*time.Minute, logger)
	}

	backtester := services.NewBacktester(logger)
	optimizer := services.NewOptimizer(backtester, logger, cfg.Optimization.MaxGridSize)
	runner := app.NewRunner(
		database.NewCandleRepository(db.Pool, logger),
		resultCache,
		backtester,
		optimizer,
		logger,
	)

	opts := optionsFromConfig(cfg.Backtest)
	if err := opts.Validate(); err != nil {
		return err
	}

	if *optimize {
		space, err := strategy.ParameterSpace()
		if err != nil {
			return err
		}
		result, err := runner.RunOptimization(ctx, strategy, space, app.OptimizationRequest{
			Symbol:    *symbol,
			Timeframe: *timeframe,
			Start:     start,
			End:       end,
			Options:   opts,
			Optimize: services.OptimizeRequest{
				Method:         services.OptimizationMethod(*method),
				Metric:         *metric,
				MaxEvaluations: cfg.Optimization.DefaultEvaluations,
				Seed:           cfg.Optimization.Seed,
				Workers:        cfg.Optimization.MaxWorkers,
			},
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	record, err := runner.RunBacktest(ctx, strategy, app.BacktestRequest{
		Symbol:    *symbol,
		Timeframe: *timeframe,
		Start:     start,
		End:       end,
		Options:   opts,
	})
	if err != nil {
		return err
	}
	return printJSON(record)
}

// parseRange resolves the requested window, defaulting to the last 90 days.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if endStr != "" {
		var err error
		if end, err = parseTime(endStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
		}
	}

	start := end.AddDate(0, 0, -90)
	if startStr != "" {
		var err error
		if start, err = parseTime(startStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
		}
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", start, end)
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func optionsFromConfig(cfg config.BacktestConfig) services.BacktestOptions {
	return services.BacktestOptions{
		InitialCapital:       decimal.NewFromFloat(cfg.InitialCapital),
		CommissionRate:       decimal.NewFromFloat(cfg.CommissionRate),
		SlippageRate:         decimal.NewFromFloat(cfg.SlippageRate),
		MaxPositionSize:      decimal.NewFromFloat(cfg.MaxPositionSize),
		PositionSizing:       services.PositionSizing(cfg.PositionSizing),
		UseFractionalSizes:   cfg.UseFractionalSizes,
		RiskFreeRate:         cfg.RiskFreeRate,
		TradingDaysPerYear:   cfg.TradingDaysPerYear,
		EnableShortPositions: cfg.EnableShortPositions,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
