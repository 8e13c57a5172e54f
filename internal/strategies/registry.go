package strategies

import (
	"fmt"
	"sort"

	"github.com/irfndi/quantlab-go/internal/services"
)

// Tunable is a strategy that can also describe its optimization search space.
type Tunable interface {
	services.Strategy
	ParameterSpace() (*services.ParameterSpace, error)
}

var builtins = map[string]func() Tunable{
	"sma_cross":    func() Tunable { return NewSMACross() },
	"rsi_reversal": func() Tunable { return NewRSIReversal() },
}

// New constructs a built-in strategy by name with its default parameters.
func New(name string) (Tunable, error) {
	ctor, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists the built-in strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
