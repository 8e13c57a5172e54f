package services

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks input errors that are fatal to a single backtest
// run: empty candle series, malformed options, or a strategy that fails to
// produce a signal for every bar.
var ErrInvalidInput = errors.New("invalid backtest input")

// PositionSizing selects how the engine sizes a new position.
type PositionSizing string

const (
	// PositionSizingPercent sizes positions as a fraction of current capital.
	PositionSizingPercent PositionSizing = "percent"
	// PositionSizingFixed sizes positions as an absolute unit count.
	PositionSizingFixed PositionSizing = "fixed"
)

// BacktestOptions contains configuration for a backtest run. It is
// immutable once a run starts.
type BacktestOptions struct {
	InitialCapital       decimal.Decimal `json:"initial_capital"`
	CommissionRate       decimal.Decimal `json:"commission_rate"`
	SlippageRate         decimal.Decimal `json:"slippage_rate"`
	MaxPositionSize      decimal.Decimal `json:"max_position_size"`
	PositionSizing       PositionSizing  `json:"position_sizing"`
	UseFractionalSizes   bool            `json:"use_fractional_sizes"`
	RiskFreeRate         float64         `json:"risk_free_rate"`
	TradingDaysPerYear   int             `json:"trading_days_per_year"`
	EnableShortPositions bool            `json:"enable_short_positions"`
}

// DefaultBacktestOptions returns a sensible default configuration.
func DefaultBacktestOptions() BacktestOptions {
	return BacktestOptions{
		InitialCapital:       decimal.NewFromInt(10000),
		CommissionRate:       decimal.NewFromFloat(0.001),
		SlippageRate:         decimal.NewFromFloat(0.0005),
		MaxPositionSize:      decimal.NewFromInt(1),
		PositionSizing:       PositionSizingPercent,
		UseFractionalSizes:   true,
		RiskFreeRate:         0.02,
		TradingDaysPerYear:   252,
		EnableShortPositions: false,
	}
}

// Validate checks the option invariants.
func (o BacktestOptions) Validate() error {
	if !o.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial_capital must be positive", ErrInvalidInput)
	}
	if o.CommissionRate.IsNegative() {
		return fmt.Errorf("%w: commission_rate must not be negative", ErrInvalidInput)
	}
	if o.SlippageRate.IsNegative() {
		return fmt.Errorf("%w: slippage_rate must not be negative", ErrInvalidInput)
	}
	switch o.PositionSizing {
	case PositionSizingPercent:
		if o.MaxPositionSize.IsNegative() || o.MaxPositionSize.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: max_position_size must be within [0, 1] for percent sizing", ErrInvalidInput)
		}
	case PositionSizingFixed:
		if o.MaxPositionSize.IsNegative() {
			return fmt.Errorf("%w: max_position_size must not be negative for fixed sizing", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown position_sizing %q", ErrInvalidInput, o.PositionSizing)
	}
	if o.TradingDaysPerYear <= 0 {
		return fmt.Errorf("%w: trading_days_per_year must be positive", ErrInvalidInput)
	}
	return nil
}

// ToMap flattens the options to a key-value mapping. Decimal values are
// rendered as strings so the round-trip through OptionsFromMap is lossless.
func (o BacktestOptions) ToMap() map[string]any {
	return map[string]any{
		"initial_capital":        o.InitialCapital.String(),
		"commission_rate":        o.CommissionRate.String(),
		"slippage_rate":          o.SlippageRate.String(),
		"max_position_size":      o.MaxPositionSize.String(),
		"position_sizing":        string(o.PositionSizing),
		"use_fractional_sizes":   o.UseFractionalSizes,
		"risk_free_rate":         o.RiskFreeRate,
		"trading_days_per_year":  o.TradingDaysPerYear,
		"enable_short_positions": o.EnableShortPositions,
	}
}

// OptionsFromMap rebuilds options from a flat key-value mapping produced by
// ToMap (or an equivalent decoded JSON object).
func OptionsFromMap(m map[string]any) (BacktestOptions, error) {
	var o BacktestOptions
	var err error

	if o.InitialCapital, err = decimalValue(m, "initial_capital"); err != nil {
		return o, err
	}
	if o.CommissionRate, err = decimalValue(m, "commission_rate"); err != nil {
		return o, err
	}
	if o.SlippageRate, err = decimalValue(m, "slippage_rate"); err != nil {
		return o, err
	}
	if o.MaxPositionSize, err = decimalValue(m, "max_position_size"); err != nil {
		return o, err
	}
	sizing, err := stringValue(m, "position_sizing")
	if err != nil {
		return o, err
	}
	o.PositionSizing = PositionSizing(sizing)
	if o.UseFractionalSizes, err = boolValue(m, "use_fractional_sizes"); err != nil {
		return o, err
	}
	if o.RiskFreeRate, err = floatValue(m, "risk_free_rate"); err != nil {
		return o, err
	}
	if o.TradingDaysPerYear, err = intValue(m, "trading_days_per_year"); err != nil {
		return o, err
	}
	if o.EnableShortPositions, err = boolValue(m, "enable_short_positions"); err != nil {
		return o, err
	}

	return o, nil
}

func decimalValue(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing option %q", ErrInvalidInput, key)
	}
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: option %q: %v", ErrInvalidInput, key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: option %q has unsupported type %T", ErrInvalidInput, key, v)
	}
}

func stringValue(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing option %q", ErrInvalidInput, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: option %q has unsupported type %T", ErrInvalidInput, key, v)
	}
	return s, nil
}

func boolValue(m map[string]any, key string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, fmt.Errorf("%w: missing option %q", ErrInvalidInput, key)
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("%w: option %q: %v", ErrInvalidInput, key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: option %q has unsupported type %T", ErrInvalidInput, key, v)
	}
}

func floatValue(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing option %q", ErrInvalidInput, key)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: option %q: %v", ErrInvalidInput, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: option %q has unsupported type %T", ErrInvalidInput, key, v)
	}
}

func intValue(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing option %q", ErrInvalidInput, key)
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		return int(val), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%w: option %q: %v", ErrInvalidInput, key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: option %q has unsupported type %T", ErrInvalidInput, key, v)
	}
}
