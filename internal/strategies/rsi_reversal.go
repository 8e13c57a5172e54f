package strategies

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"

	"github.com/irfndi/quantlab-go/internal/models"
	"github.com/irfndi/quantlab-go/internal/services"
)

// RSIReversal is a mean-reversion strategy: it buys when RSI recovers up
// through the oversold level and sells when RSI drops back through the
// overbought level.
type RSIReversal struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSIReversal creates the strategy with the standard 14/30/70 settings.
func NewRSIReversal() *RSIReversal {
	return &RSIReversal{Period: 14, Oversold: 30, Overbought: 70}
}

// StrategyID implements services.Strategy.
func (s *RSIReversal) StrategyID() string {
	return fmt.Sprintf("rsi_reversal_%d", s.Period)
}

// GenerateSignals implements services.Strategy. Bars inside the RSI warmup
// window yield zero.
func (s *RSIReversal) GenerateSignals(candles []models.Candle) ([]float64, error) {
	if s.Period <= 0 {
		return nil, fmt.Errorf("rsi reversal: period must be positive, got %d", s.Period)
	}
	if s.Oversold >= s.Overbought {
		return nil, fmt.Errorf("rsi reversal: oversold %v must be below overbought %v", s.Oversold, s.Overbought)
	}

	prices := closePrices(candles)
	signals := make([]float64, len(candles))
	if len(candles) <= s.Period+1 {
		return signals, nil
	}

	rsiIndicator := momentum.NewRsiWithPeriod[float64](s.Period)
	rsi := helper.ChanToSlice(rsiIndicator.Compute(helper.SliceToChan(prices)))
	idle := rsiIndicator.IdlePeriod()

	for i := idle + 1; i < len(candles); i++ {
		prev := rsi[i-1-idle]
		curr := rsi[i-idle]

		switch {
		case prev <= s.Oversold && curr > s.Oversold:
			signals[i] = 1
		case prev >= s.Overbought && curr < s.Overbought:
			signals[i] = -1
		}
	}

	return signals, nil
}

// Clone implements services.Strategy.
func (s *RSIReversal) Clone() services.Strategy {
	clone := *s
	return &clone
}

// UpdateParameters implements services.Strategy. Recognized parameters are
// period, oversold and overbought.
func (s *RSIReversal) UpdateParameters(params map[string]any) error {
	for name, value := range params {
		switch name {
		case "period":
			v, err := intParam(name, value)
			if err != nil {
				return err
			}
			s.Period = v
		case "oversold":
			v, err := floatParam(name, value)
			if err != nil {
				return err
			}
			s.Oversold = v
		case "overbought":
			v, err := floatParam(name, value)
			if err != nil {
				return err
			}
			s.Overbought = v
		default:
			return fmt.Errorf("rsi reversal: unknown parameter %q", name)
		}
	}
	if s.Oversold >= s.Overbought {
		return fmt.Errorf("rsi reversal: oversold %v must be below overbought %v", s.Oversold, s.Overbought)
	}
	return nil
}

// ParameterSpace returns the search space for optimization runs.
func (s *RSIReversal) ParameterSpace() (*services.ParameterSpace, error) {
	space := services.NewParameterSpace()
	if err := space.AddInt("period", 7, 28, 7); err != nil {
		return nil, err
	}
	if err := space.AddNumeric("oversold", 20, 40, 5); err != nil {
		return nil, err
	}
	if err := space.AddNumeric("overbought", 60, 80, 5); err != nil {
		return nil, err
	}
	return space, nil
}
