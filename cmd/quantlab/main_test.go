package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/quantlab-go/internal/config"
	"github.com/irfndi/quantlab-go/internal/services"
)

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("2024-01-01", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = parseRange("2024-03-01", "2024-01-01")
	assert.Error(t, err, "start must precede end")

	_, _, err = parseRange("not-a-date", "")
	assert.Error(t, err)
}

func TestParseRangeDefaults(t *testing.T) {
	start, end, err := parseRange("", "")
	require.NoError(t, err)
	assert.Equal(t, end.AddDate(0, 0, -90), start)
	assert.WithinDuration(t, time.Now().UTC(), end, time.Minute)
}

func TestParseTimeFormats(t *testing.T) {
	got, err := parseTime("2024-06-15T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC), got)

	got, err = parseTime("2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.BacktestConfig{
		InitialCapital:       25000,
		CommissionRate:       0.001,
		SlippageRate:         0.0005,
		MaxPositionSize:      0.5,
		PositionSizing:       "percent",
		UseFractionalSizes:   true,
		RiskFreeRate:         0.03,
		TradingDaysPerYear:   365,
		EnableShortPositions: true,
	}

	opts := optionsFromConfig(cfg)
	require.NoError(t, opts.Validate())
	assert.True(t, opts.InitialCapital.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, services.PositionSizingPercent, opts.PositionSizing)
	assert.Equal(t, 365, opts.TradingDaysPerYear)
	assert.True(t, opts.EnableShortPositions)
}
