package services

import (
	"github.com/irfndi/quantlab-go/internal/models"
)

// Strategy is the capability set the engines depend on. Any concrete
// strategy variant works as long as it can produce a per-bar signal series,
// clone itself for isolated evaluation, and accept parameter updates.
type Strategy interface {
	// StrategyID returns a stable identifier for the strategy.
	StrategyID() string

	// GenerateSignals produces one signal value per candle: positive for
	// buy, negative for sell, zero for no action. Fractional values are
	// treated as sign-only by the engines.
	GenerateSignals(candles []models.Candle) ([]float64, error)

	// Clone returns an independent copy with deep-copied parameters. The
	// clone must share no mutable state with the original.
	Clone() Strategy

	// UpdateParameters applies named parameter values. Unknown names are
	// an error; values are coerced to the parameter's native type.
	UpdateParameters(params map[string]any) error
}
