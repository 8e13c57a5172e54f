package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BacktestOptions)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(o *BacktestOptions) {},
		},
		{
			name:    "zero capital",
			mutate:  func(o *BacktestOptions) { o.InitialCapital = decimal.Zero },
			wantErr: true,
		},
		{
			name:    "negative capital",
			mutate:  func(o *BacktestOptions) { o.InitialCapital = decimal.NewFromInt(-100) },
			wantErr: true,
		},
		{
			name:    "negative commission",
			mutate:  func(o *BacktestOptions) { o.CommissionRate = decimal.NewFromFloat(-0.001) },
			wantErr: true,
		},
		{
			name:    "negative slippage",
			mutate:  func(o *BacktestOptions) { o.SlippageRate = decimal.NewFromFloat(-0.01) },
			wantErr: true,
		},
		{
			name:    "percent sizing above one",
			mutate:  func(o *BacktestOptions) { o.MaxPositionSize = decimal.NewFromFloat(1.5) },
			wantErr: true,
		},
		{
			name: "fixed sizing above one is fine",
			mutate: func(o *BacktestOptions) {
				o.PositionSizing = PositionSizingFixed
				o.MaxPositionSize = decimal.NewFromInt(500)
			},
		},
		{
			name:    "unknown sizing mode",
			mutate:  func(o *BacktestOptions) { o.PositionSizing = "kelly" },
			wantErr: true,
		},
		{
			name:    "zero trading days",
			mutate:  func(o *BacktestOptions) { o.TradingDaysPerYear = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultBacktestOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBacktestOptionsRoundTrip(t *testing.T) {
	opts := BacktestOptions{
		InitialCapital:       decimal.NewFromFloat(25000.50),
		CommissionRate:       decimal.NewFromFloat(0.00075),
		SlippageRate:         decimal.NewFromFloat(0.0002),
		MaxPositionSize:      decimal.NewFromFloat(0.8),
		PositionSizing:       PositionSizingPercent,
		UseFractionalSizes:   false,
		RiskFreeRate:         0.035,
		TradingDaysPerYear:   365,
		EnableShortPositions: true,
	}

	restored, err := OptionsFromMap(opts.ToMap())
	require.NoError(t, err)

	assert.True(t, opts.InitialCapital.Equal(restored.InitialCapital))
	assert.True(t, opts.CommissionRate.Equal(restored.CommissionRate))
	assert.True(t, opts.SlippageRate.Equal(restored.SlippageRate))
	assert.True(t, opts.MaxPositionSize.Equal(restored.MaxPositionSize))
	assert.Equal(t, opts.PositionSizing, restored.PositionSizing)
	assert.Equal(t, opts.UseFractionalSizes, restored.UseFractionalSizes)
	assert.Equal(t, opts.RiskFreeRate, restored.RiskFreeRate)
	assert.Equal(t, opts.TradingDaysPerYear, restored.TradingDaysPerYear)
	assert.Equal(t, opts.EnableShortPositions, restored.EnableShortPositions)
}

func TestOptionsFromMapCoercion(t *testing.T) {
	m := map[string]any{
		"initial_capital":        10000.0,
		"commission_rate":        "0.001",
		"slippage_rate":          0,
		"max_position_size":      1,
		"position_sizing":        "percent",
		"use_fractional_sizes":   "true",
		"risk_free_rate":         "0.02",
		"trading_days_per_year":  252.0,
		"enable_short_positions": false,
	}

	opts, err := OptionsFromMap(m)
	require.NoError(t, err)
	assert.True(t, opts.InitialCapital.Equal(decimal.NewFromInt(10000)))
	assert.True(t, opts.CommissionRate.Equal(decimal.NewFromFloat(0.001)))
	assert.True(t, opts.UseFractionalSizes)
	assert.Equal(t, 0.02, opts.RiskFreeRate)
	assert.Equal(t, 252, opts.TradingDaysPerYear)
}

func TestOptionsFromMapMissingKey(t *testing.T) {
	m := DefaultBacktestOptions().ToMap()
	delete(m, "position_sizing")

	_, err := OptionsFromMap(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "position_sizing")
}
