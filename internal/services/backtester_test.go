package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/quantlab-go/internal/models"
)

// scriptedStrategy replays a fixed signal series, ignoring the candle
// content. Test parameter updates are recorded for inspection.
type scriptedStrategy struct {
	id      string
	signals []float64
	params  map[string]any
	err     error
}

func (s *scriptedStrategy) StrategyID() string { return s.id }

func (s *scriptedStrategy) GenerateSignals(candles []models.Candle) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float64, len(candles))
	copy(out, s.signals)
	return out, nil
}

func (s *scriptedStrategy) Clone() Strategy {
	clone := &scriptedStrategy{id: s.id, err: s.err}
	clone.signals = append([]float64(nil), s.signals...)
	if s.params != nil {
		clone.params = make(map[string]any, len(s.params))
		for k, v := range s.params {
			clone.params[k] = v
		}
	}
	return clone
}

func (s *scriptedStrategy) UpdateParameters(params map[string]any) error {
	if s.params == nil {
		s.params = make(map[string]any, len(params))
	}
	for k, v := range params {
		s.params[k] = v
	}
	return nil
}

// makeCandles builds an hourly candle series from close prices.
func makeCandles(closes ...float64) []models.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return candles
}

// frictionlessOptions strips commission and slippage for clean arithmetic.
func frictionlessOptions() BacktestOptions {
	opts := DefaultBacktestOptions()
	opts.CommissionRate = decimal.Zero
	opts.SlippageRate = decimal.Zero
	return opts
}

func TestBacktesterFlatMarketNoSignals(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100
	}
	candles := makeCandles(closes...)
	strategy := &scriptedStrategy{id: "idle", signals: make([]float64, 100)}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Len(t, result.EquityCurve, 101)
	for _, p := range result.EquityCurve {
		assert.True(t, p.Equity.Equal(decimal.NewFromInt(10000)), "equity must stay at initial capital")
	}
}

func TestBacktesterSingleRoundTrip(t *testing.T) {
	candles := makeCandles(100, 110)
	strategy := &scriptedStrategy{id: "one-shot", signals: []float64{1, 0}}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]

	assert.Equal(t, models.DirectionLong, trade.Direction)
	assert.Equal(t, models.ExitReasonEndOfData, trade.ExitReason)
	assert.True(t, trade.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(110)))
	assert.True(t, trade.PositionSize.Equal(decimal.NewFromInt(100)), "10000 capital buys 100 units at 100")
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(1000)))
	assert.True(t, trade.NetPnL.Equal(decimal.NewFromInt(1000)))
	assert.True(t, trade.PnLPct.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, time.Hour, trade.Duration)

	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	assert.True(t, final.Equal(decimal.NewFromInt(11000)))
}

func TestBacktesterSignalExit(t *testing.T) {
	candles := makeCandles(100, 105, 120, 115)
	strategy := &scriptedStrategy{id: "flip", signals: []float64{1, 0, -1, 0}}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "ETH/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, models.ExitReasonSignal, trade.ExitReason)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(120)))
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(2000)))
}

func TestBacktesterShortsDisabledIgnoresSellSignals(t *testing.T) {
	candles := makeCandles(100, 90, 80)
	strategy := &scriptedStrategy{id: "bear", signals: []float64{-1, -1, -1}}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
}

func TestBacktesterShortRoundTrip(t *testing.T) {
	candles := makeCandles(100, 80)
	strategy := &scriptedStrategy{id: "short", signals: []float64{-1, 0}}

	opts := frictionlessOptions()
	opts.EnableShortPositions = true

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", opts)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, models.DirectionShort, trade.Direction)
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(2000)), "short profits on the decline")

	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	assert.True(t, final.Equal(decimal.NewFromInt(12000)))
}

func TestBacktesterEquityConservation(t *testing.T) {
	candles := makeCandles(100, 104, 98, 101, 107, 95, 99, 103)
	strategy := &scriptedStrategy{id: "churn", signals: []float64{1, 0, -1, 1, 0, -1, 1, 0}}

	opts := DefaultBacktestOptions()
	opts.EnableShortPositions = true

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", opts)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trades)

	sum := decimal.Zero
	for _, trade := range result.Trades {
		require.True(t, trade.Closed(), "all trades must be closed at the end of data")
		sum = sum.Add(trade.NetPnL)
	}

	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	expected := opts.InitialCapital.Add(sum)
	diff := final.Sub(expected).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromFloat(1e-9)),
		"final equity %s must equal initial capital plus net PnL %s", final, expected)
}

func TestBacktesterCostAccounting(t *testing.T) {
	candles := makeCandles(100, 110)
	strategy := &scriptedStrategy{id: "costly", signals: []float64{1, 0}}

	opts := DefaultBacktestOptions()
	opts.CommissionRate = decimal.NewFromFloat(0.001)
	opts.SlippageRate = decimal.Zero

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", opts)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]

	// Entry commission 100*100*0.001 = 10, exit commission 110*100*0.001 = 11.
	assert.True(t, trade.Commission.Equal(decimal.NewFromInt(21)))
	assert.True(t, trade.NetPnL.Equal(decimal.NewFromInt(979)))

	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	assert.True(t, final.Equal(decimal.NewFromInt(10979)))
}

func TestBacktesterSlippageAdjustsFills(t *testing.T) {
	candles := makeCandles(100, 110)
	strategy := &scriptedStrategy{id: "slipped", signals: []float64{1, 0}}

	opts := DefaultBacktestOptions()
	opts.CommissionRate = decimal.Zero
	opts.SlippageRate = decimal.NewFromFloat(0.001)

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", opts)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]

	assert.True(t, trade.EntryPrice.Equal(decimal.NewFromFloat(100.1)), "long entry fills above the close")
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromFloat(109.89)), "long exit fills below the close")
	assert.True(t, trade.Slippage.IsPositive())

	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	expected := opts.InitialCapital.Add(trade.NetPnL)
	assert.True(t, final.Equal(expected))
}

func TestBacktesterIntegerSizing(t *testing.T) {
	candles := makeCandles(3000, 3100)
	strategy := &scriptedStrategy{id: "whole-units", signals: []float64{1, 0}}

	opts := frictionlessOptions()
	opts.UseFractionalSizes = false

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "ETH/USDT", "1h", opts)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].PositionSize.Equal(decimal.NewFromInt(3)))
}

func TestBacktesterSizingTruncatesToZero(t *testing.T) {
	candles := makeCandles(50000, 51000)
	strategy := &scriptedStrategy{id: "too-small", signals: []float64{1, 0}}

	opts := frictionlessOptions()
	opts.UseFractionalSizes = false

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", opts)
	require.NoError(t, err)
	assert.Empty(t, result.Trades, "capital below unit price opens nothing")
}

func TestBacktesterExcursionTracking(t *testing.T) {
	candles := makeCandles(100, 108, 95, 102)
	strategy := &scriptedStrategy{id: "swing", signals: []float64{1, 0, 0, 0}}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.True(t, trade.MaxFavorableExcursion.Equal(decimal.NewFromInt(8)), "peak move was +8 percent")
	assert.True(t, trade.MaxAdverseExcursion.Equal(decimal.NewFromInt(5)), "trough move was -5 percent")
}

func TestBacktesterInvalidInputs(t *testing.T) {
	bt := NewBacktester(nil)
	ctx := context.Background()
	candles := makeCandles(100, 101)

	t.Run("empty candles", func(t *testing.T) {
		strategy := &scriptedStrategy{id: "s", signals: nil}
		_, err := bt.Run(ctx, strategy, nil, "BTC/USDT", "1h", frictionlessOptions())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("out of order candles", func(t *testing.T) {
		shuffled := makeCandles(100, 101)
		shuffled[0], shuffled[1] = shuffled[1], shuffled[0]
		strategy := &scriptedStrategy{id: "s", signals: []float64{0, 0}}
		_, err := bt.Run(ctx, strategy, shuffled, "BTC/USDT", "1h", frictionlessOptions())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("signal length mismatch", func(t *testing.T) {
		strategy := &scriptedStrategy{id: "s", signals: []float64{1}}
		mismatched := &truncatingStrategy{inner: strategy}
		_, err := bt.Run(ctx, mismatched, candles, "BTC/USDT", "1h", frictionlessOptions())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("strategy error", func(t *testing.T) {
		strategy := &scriptedStrategy{id: "s", err: fmt.Errorf("indicator blew up")}
		_, err := bt.Run(ctx, strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("bad options", func(t *testing.T) {
		strategy := &scriptedStrategy{id: "s", signals: []float64{0, 0}}
		opts := frictionlessOptions()
		opts.InitialCapital = decimal.Zero
		_, err := bt.Run(ctx, strategy, candles, "BTC/USDT", "1h", opts)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

// truncatingStrategy returns one signal fewer than requested.
type truncatingStrategy struct {
	inner *scriptedStrategy
}

func (s *truncatingStrategy) StrategyID() string { return s.inner.StrategyID() }

func (s *truncatingStrategy) GenerateSignals(candles []models.Candle) ([]float64, error) {
	return s.inner.signals, nil
}

func (s *truncatingStrategy) Clone() Strategy { return &truncatingStrategy{inner: s.inner} }

func (s *truncatingStrategy) UpdateParameters(params map[string]any) error { return nil }

func TestBacktestResultRecord(t *testing.T) {
	candles := makeCandles(100, 110)
	strategy := &scriptedStrategy{id: "recorded", signals: []float64{1, 0}}

	bt := NewBacktester(nil)
	result, err := bt.Run(context.Background(), strategy, candles, "BTC/USDT", "1h", frictionlessOptions())
	require.NoError(t, err)

	record := result.Record()
	assert.Equal(t, "recorded", record.StrategyID)
	assert.Equal(t, "BTC/USDT", record.Symbol)
	assert.Equal(t, 1.0, record.Summary[MetricTradeCount])
	assert.Equal(t, 1000.0, record.Summary[MetricTotalPnL])
	assert.Len(t, record.Trades, 1)

	restored, err := OptionsFromMap(record.Options)
	require.NoError(t, err)
	assert.True(t, restored.InitialCapital.Equal(decimal.NewFromInt(10000)))
}
