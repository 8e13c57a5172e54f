// Package app ties the candle store, the result cache and the simulation
// engines together into the operations the CLI exposes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/quantlab-go/internal/models"
	"github.com/irfndi/quantlab-go/internal/services"
)

// CandleSource loads a time-ascending candle series.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Candle, error)
}

// ResultStore caches completed backtest records keyed by run configuration.
type ResultStore interface {
	Key(strategyID, symbol, timeframe string, start, end time.Time, options, params map[string]any) string
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Runner executes backtest and optimization runs end to end. The cache is
// optional; a nil ResultStore disables it.
type Runner struct {
	candles    CandleSource
	cache      ResultStore
	backtester *services.Backtester
	optimizer  *services.Optimizer
	logger     *logrus.Logger
}

// NewRunner creates a runner over the given collaborators.
func NewRunner(
	candles CandleSource,
	cache ResultStore,
	backtester *services.Backtester,
	optimizer *services.Optimizer,
	logger *logrus.Logger,
) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		candles:    candles,
		cache:      cache,
		backtester: backtester,
		optimizer:  optimizer,
		logger:     logger,
	}
}

// BacktestRequest describes one end-to-end backtest run.
type BacktestRequest struct {
	Symbol     string
	Timeframe  string
	Start, End time.Time
	Options    services.BacktestOptions
	Parameters map[string]any
}

// RunBacktest loads candles, applies the requested parameters to a clone of
// the strategy and runs the simulation. Identical runs are served from the
// cache when one is configured.
func (r *Runner) RunBacktest(ctx context.Context, strategy services.Strategy, req BacktestRequest) (services.BacktestRecord, error) {
	var record services.BacktestRecord

	clone := strategy.Clone()
	if len(req.Parameters) > 0 {
		if err := clone.UpdateParameters(req.Parameters); err != nil {
			return record, fmt.Errorf("failed to apply strategy parameters: %w", err)
		}
	}

	var cacheKey string
	if r.cache != nil {
		cacheKey = r.cache.Key(clone.StrategyID(), req.Symbol, req.Timeframe, req.Start, req.End, req.Options.ToMap(), req.Parameters)
		hit, err := r.cache.Get(ctx, cacheKey, &record)
		if err != nil {
			r.logger.WithField("error", err.Error()).Warn("Result cache unavailable, running uncached")
		} else if hit {
			r.logger.WithFields(logrus.Fields{
				"strategy": clone.StrategyID(),
				"symbol":   req.Symbol,
			}).Info("Serving backtest result from cache")
			return record, nil
		}
	}

	candles, err := r.candles.GetCandles(ctx, req.Symbol, req.Timeframe, req.Start, req.End)
	if err != nil {
		return record, fmt.Errorf("failed to load candles for %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	result, err := r.backtester.Run(ctx, clone, candles, req.Symbol, req.Timeframe, req.Options)
	if err != nil {
		return record, err
	}
	record = result.Record()

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, record); err != nil {
			r.logger.WithField("error", err.Error()).Warn("Failed to cache backtest result")
		}
	}

	return record, nil
}

// OptimizationRequest describes one end-to-end optimization run.
type OptimizationRequest struct {
	Symbol     string
	Timeframe  string
	Start, End time.Time
	Options    services.BacktestOptions
	Optimize   services.OptimizeRequest
}

// RunOptimization loads candles and searches the strategy's parameter space.
// Optimization runs are not cached: each carries its own seed and budget.
func (r *Runner) RunOptimization(
	ctx context.Context,
	strategy services.Strategy,
	space *services.ParameterSpace,
	req OptimizationRequest,
) (*services.OptimizationResult, error) {
	candles, err := r.candles.GetCandles(ctx, req.Symbol, req.Timeframe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	return r.optimizer.Optimize(ctx, strategy, space, candles, req.Symbol, req.Timeframe, req.Options, req.Optimize)
}
