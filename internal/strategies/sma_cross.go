// Package strategies holds the built-in trading strategies. Each strategy
// produces one signal per candle from indicator series and exposes the
// parameter space an optimizer can search over.
package strategies

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"github.com/irfndi/quantlab-go/internal/models"
	"github.com/irfndi/quantlab-go/internal/services"
)

// SMACross is a moving-average crossover strategy: it buys when the fast
// SMA crosses above the slow SMA and sells when it crosses back below.
type SMACross struct {
	FastPeriod int
	SlowPeriod int
}

// NewSMACross creates the strategy with the classic 10/30 periods.
func NewSMACross() *SMACross {
	return &SMACross{FastPeriod: 10, SlowPeriod: 30}
}

// StrategyID implements services.Strategy.
func (s *SMACross) StrategyID() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.FastPeriod, s.SlowPeriod)
}

// GenerateSignals implements services.Strategy. Bars inside the slow SMA
// warmup window yield zero.
func (s *SMACross) GenerateSignals(candles []models.Candle) ([]float64, error) {
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 {
		return nil, fmt.Errorf("sma cross: periods must be positive, got fast=%d slow=%d", s.FastPeriod, s.SlowPeriod)
	}
	if s.FastPeriod >= s.SlowPeriod {
		return nil, fmt.Errorf("sma cross: fast period %d must be below slow period %d", s.FastPeriod, s.SlowPeriod)
	}

	prices := closePrices(candles)
	signals := make([]float64, len(candles))
	if len(candles) <= s.SlowPeriod {
		return signals, nil
	}

	fastSma := trend.NewSmaWithPeriod[float64](s.FastPeriod)
	slowSma := trend.NewSmaWithPeriod[float64](s.SlowPeriod)

	fast := helper.ChanToSlice(fastSma.Compute(helper.SliceToChan(prices)))
	slow := helper.ChanToSlice(slowSma.Compute(helper.SliceToChan(prices)))

	fastIdle := fastSma.IdlePeriod()
	slowIdle := slowSma.IdlePeriod()

	// Both series are valid from the slow warmup onward; a cross needs two
	// consecutive valid bars.
	for i := slowIdle + 1; i < len(candles); i++ {
		prevDiff := fast[i-1-fastIdle] - slow[i-1-slowIdle]
		currDiff := fast[i-fastIdle] - slow[i-slowIdle]

		switch {
		case prevDiff <= 0 && currDiff > 0:
			signals[i] = 1
		case prevDiff >= 0 && currDiff < 0:
			signals[i] = -1
		}
	}

	return signals, nil
}

// Clone implements services.Strategy.
func (s *SMACross) Clone() services.Strategy {
	clone := *s
	return &clone
}

// UpdateParameters implements services.Strategy. Recognized parameters are
// fast_period and slow_period.
func (s *SMACross) UpdateParameters(params map[string]any) error {
	for name, value := range params {
		switch name {
		case "fast_period":
			v, err := intParam(name, value)
			if err != nil {
				return err
			}
			s.FastPeriod = v
		case "slow_period":
			v, err := intParam(name, value)
			if err != nil {
				return err
			}
			s.SlowPeriod = v
		default:
			return fmt.Errorf("sma cross: unknown parameter %q", name)
		}
	}
	if s.FastPeriod >= s.SlowPeriod {
		return fmt.Errorf("sma cross: fast period %d must be below slow period %d", s.FastPeriod, s.SlowPeriod)
	}
	return nil
}

// ParameterSpace returns the search space for optimization runs.
func (s *SMACross) ParameterSpace() (*services.ParameterSpace, error) {
	space := services.NewParameterSpace()
	if err := space.AddInt("fast_period", 5, 50, 5); err != nil {
		return nil, err
	}
	if err := space.AddInt("slow_period", 20, 200, 10); err != nil {
		return nil, err
	}
	return space, nil
}

func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close.InexactFloat64()
	}
	return prices
}

func intParam(name string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %q: %v is not a whole number", name, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected int, got %T", name, value)
	}
}

func floatParam(name string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected float, got %T", name, value)
	}
}
