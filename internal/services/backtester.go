package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/irfndi/quantlab-go/internal/models"
	"github.com/irfndi/quantlab-go/internal/telemetry"
)

// Backtester replays historical candles against a strategy and produces a
// trade ledger plus an equity curve. A single run is strictly sequential and
// deterministic; the Backtester itself holds no per-run state, so one
// instance can serve concurrent runs.
type Backtester struct {
	logger *logrus.Logger
}

// NewBacktester creates a new backtester instance.
func NewBacktester(logger *logrus.Logger) *Backtester {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Backtester{logger: logger}
}

// BacktestResult contains the completed output of one backtest run. It
// exclusively owns its trade ledger and equity curve and is read-only once
// returned.
type BacktestResult struct {
	StrategyID  string               `json:"strategy_id"`
	Symbol      string               `json:"symbol"`
	Timeframe   string               `json:"timeframe"`
	StartDate   time.Time            `json:"start_date"`
	EndDate     time.Time            `json:"end_date"`
	Options     BacktestOptions      `json:"options"`
	Trades      []models.Trade       `json:"trades"`
	EquityCurve []models.EquityPoint `json:"equity_curve"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`

	metricsOnce sync.Once
	metrics     PerformanceMetrics
}

// Metrics computes the performance statistics for this result. The
// computation runs once and is cached.
func (r *BacktestResult) Metrics() PerformanceMetrics {
	r.metricsOnce.Do(func() {
		r.metrics = CalculateMetrics(r.EquityCurve, r.Trades, r.Options.RiskFreeRate, r.Options.TradingDaysPerYear)
	})
	return r.metrics
}

// BacktestRecord is the serialized form of a BacktestResult.
type BacktestRecord struct {
	StrategyID string             `json:"strategy_id"`
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	Options    map[string]any     `json:"options"`
	Summary    PerformanceMetrics `json:"summary"`
	Metrics    PerformanceMetrics `json:"metrics"`
	Trades     []models.Trade     `json:"trades"`
}

// Record builds the structured record exposed to collaborators.
func (r *BacktestResult) Record() BacktestRecord {
	metrics := r.Metrics()
	summary := PerformanceMetrics{
		MetricTradeCount:  float64(len(r.Trades)),
		MetricTotalPnL:    metrics[MetricTotalPnL],
		MetricMaxDrawdown: metrics[MetricMaxDrawdown],
		MetricSharpeRatio: metrics[MetricSharpeRatio],
	}
	if v, ok := metrics[MetricWinRate]; ok {
		summary[MetricWinRate] = v
	}
	if v, ok := metrics[MetricProfitFactor]; ok {
		summary[MetricProfitFactor] = v
	}
	return BacktestRecord{
		StrategyID: r.StrategyID,
		Symbol:     r.Symbol,
		Timeframe:  r.Timeframe,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		Options:    r.Options.ToMap(),
		Summary:    summary,
		Metrics:    metrics,
		Trades:     r.Trades,
	}
}

// openPosition tracks the currently held position during the bar loop.
// Having at most one of these alive at a time is what enforces the
// one-position-at-a-time rule.
type openPosition struct {
	trade           *models.Trade
	rawEntry        decimal.Decimal
	entryCommission decimal.Decimal
	entrySlippage   decimal.Decimal
}

// Run executes a backtest simulation. Candles must be non-empty and
// strictly time-ordered; the strategy must yield one signal per candle.
func (b *Backtester) Run(
	ctx context.Context,
	strategy Strategy,
	candles []models.Candle,
	symbol, timeframe string,
	opts BacktestOptions,
) (*BacktestResult, error) {
	_, span := telemetry.StartSpan(ctx, "Backtester.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", symbol),
		attribute.String("timeframe", timeframe),
		attribute.Int("bars", len(candles)),
	)

	startedAt := time.Now()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateCandles(candles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	signals, err := strategy.GenerateSignals(candles)
	if err != nil {
		return nil, fmt.Errorf("%w: strategy %s failed to generate signals: %v", ErrInvalidInput, strategy.StrategyID(), err)
	}
	if len(signals) != len(candles) {
		return nil, fmt.Errorf("%w: strategy %s produced %d signals for %d bars",
			ErrInvalidInput, strategy.StrategyID(), len(signals), len(candles))
	}

	b.logger.WithFields(logrus.Fields{
		"strategy":  strategy.StrategyID(),
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      len(candles),
	}).Info("Starting backtest")

	capital := opts.InitialCapital
	trades := make([]models.Trade, 0)
	equityCurve := make([]models.EquityPoint, 0, len(candles)+1)
	equityCurve = append(equityCurve, models.EquityPoint{
		Timestamp: candles[0].Timestamp,
		Equity:    capital,
	})

	var pos *openPosition

	for i, candle := range candles {
		sig := signalSign(signals[i])
		isLast := i == len(candles)-1

		if pos == nil && sig != 0 && (sig > 0 || opts.EnableShortPositions) {
			pos, capital = b.openTrade(candle, sig, symbol, capital, opts)
		}

		if pos != nil {
			pos.trade.UpdateExcursions(candle.Close)

			flip := sig != 0 && sig != pos.trade.Direction.Sign()
			if flip || isLast {
				reason := models.ExitReasonSignal
				if !flip {
					reason = models.ExitReasonEndOfData
				}
				capital = b.closeTrade(pos, candle, reason, capital, opts)
				trades = append(trades, *pos.trade)
				pos = nil
			}
		}

		equityCurve = append(equityCurve, models.EquityPoint{
			Timestamp: candle.Timestamp,
			Equity:    markToMarket(capital, pos, candle.Close),
		})
	}

	result := &BacktestResult{
		StrategyID:  strategy.StrategyID(),
		Symbol:      symbol,
		Timeframe:   timeframe,
		StartDate:   candles[0].Timestamp,
		EndDate:     candles[len(candles)-1].Timestamp,
		Options:     opts,
		Trades:      trades,
		EquityCurve: equityCurve,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}

	span.SetAttributes(attribute.Int("trades", len(trades)))
	b.logger.WithFields(logrus.Fields{
		"strategy":     strategy.StrategyID(),
		"symbol":       symbol,
		"trades":       len(trades),
		"final_equity": equityCurve[len(equityCurve)-1].Equity.String(),
	}).Info("Backtest completed")

	return result, nil
}

// openTrade opens a new position at the candle close, applying slippage
// against the trader and deducting the entry commission from capital.
// Returns a nil position when sizing truncates to zero units.
func (b *Backtester) openTrade(
	candle models.Candle,
	sig int,
	symbol string,
	capital decimal.Decimal,
	opts BacktestOptions,
) (*openPosition, decimal.Decimal) {
	one := decimal.NewFromInt(1)

	direction := models.DirectionLong
	entryPrice := candle.Close.Mul(one.Add(opts.SlippageRate))
	if sig < 0 {
		direction = models.DirectionShort
		entryPrice = candle.Close.Mul(one.Sub(opts.SlippageRate))
	}
	if !entryPrice.IsPositive() {
		return nil, capital
	}

	var size decimal.Decimal
	if opts.PositionSizing == PositionSizingFixed {
		size = opts.MaxPositionSize
	} else {
		fraction := decimal.Min(one, opts.MaxPositionSize)
		size = capital.Mul(fraction).Div(entryPrice)
	}
	if !opts.UseFractionalSizes {
		size = size.Floor()
	}
	if !size.IsPositive() {
		return nil, capital
	}

	entryNotional := entryPrice.Mul(size)
	entryCommission := entryNotional.Mul(opts.CommissionRate)
	entrySlippage := candle.Close.Mul(size).Mul(opts.SlippageRate)

	trade := &models.Trade{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Direction:    direction,
		EntryTime:    candle.Timestamp,
		EntryPrice:   entryPrice,
		PositionSize: size,
		EntryCapital: capital,
	}

	return &openPosition{
		trade:           trade,
		rawEntry:        candle.Close,
		entryCommission: entryCommission,
		entrySlippage:   entrySlippage,
	}, capital.Sub(entryCommission)
}

// closeTrade closes the open position at the candle close, applying slippage
// against the trader in the closing direction, and realizes PnL into capital.
func (b *Backtester) closeTrade(
	pos *openPosition,
	candle models.Candle,
	reason models.ExitReason,
	capital decimal.Decimal,
	opts BacktestOptions,
) decimal.Decimal {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	trade := pos.trade
	dirSign := decimal.NewFromInt(int64(trade.Direction.Sign()))

	rawExit := candle.Close
	exitPrice := rawExit.Mul(one.Sub(opts.SlippageRate))
	if trade.Direction == models.DirectionShort {
		exitPrice = rawExit.Mul(one.Add(opts.SlippageRate))
	}

	exitNotional := exitPrice.Mul(trade.PositionSize)
	exitCommission := exitNotional.Mul(opts.CommissionRate)
	exitSlippage := rawExit.Mul(trade.PositionSize).Mul(opts.SlippageRate)

	// Gross PnL uses unadjusted closes; slippage is carried as an explicit
	// cost so net PnL matches the realized capital delta exactly.
	grossPnL := rawExit.Sub(pos.rawEntry).Mul(trade.PositionSize).Mul(dirSign)
	realizedPnL := exitPrice.Sub(trade.EntryPrice).Mul(trade.PositionSize).Mul(dirSign)

	trade.ExitTime = candle.Timestamp
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	trade.PnL = grossPnL
	trade.Commission = pos.entryCommission.Add(exitCommission)
	trade.Slippage = pos.entrySlippage.Add(exitSlippage)
	trade.NetPnL = grossPnL.Sub(trade.Commission).Sub(trade.Slippage)
	trade.Duration = candle.Timestamp.Sub(trade.EntryTime)

	entryNotional := trade.EntryPrice.Mul(trade.PositionSize)
	if entryNotional.IsPositive() {
		trade.PnLPct = grossPnL.Div(entryNotional).Mul(hundred)
	}

	return capital.Add(realizedPnL).Sub(exitCommission)
}

// markToMarket returns cash plus unrealized PnL for the open position, if any.
func markToMarket(capital decimal.Decimal, pos *openPosition, closePrice decimal.Decimal) decimal.Decimal {
	if pos == nil {
		return capital
	}
	dirSign := decimal.NewFromInt(int64(pos.trade.Direction.Sign()))
	unrealized := closePrice.Sub(pos.trade.EntryPrice).Mul(pos.trade.PositionSize).Mul(dirSign)
	return capital.Add(unrealized)
}

// signalSign collapses a fractional signal strength to its sign.
func signalSign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
