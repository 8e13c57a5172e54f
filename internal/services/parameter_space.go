package services

import (
	"fmt"
	"math"
	"math/rand"
)

// ParameterKind identifies the value domain of a dimension.
type ParameterKind string

const (
	ParameterKindNumeric     ParameterKind = "numeric"
	ParameterKindInt         ParameterKind = "int"
	ParameterKindCategorical ParameterKind = "categorical"
	ParameterKindBoolean     ParameterKind = "boolean"
)

// ParameterRange is one dimension of a search space.
type ParameterRange struct {
	Name string        `json:"name"`
	Kind ParameterKind `json:"kind"`

	// Min, Max and Step apply to numeric and int dimensions.
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Step float64 `json:"step,omitempty"`

	// Choices applies to categorical dimensions.
	Choices []string `json:"choices,omitempty"`
}

// gridValues enumerates the discrete values of the dimension in ascending
// (or declaration) order.
func (r ParameterRange) gridValues() []any {
	switch r.Kind {
	case ParameterKindNumeric:
		values := make([]any, 0)
		// Index-based stepping avoids accumulating float error across the range.
		n := int(math.Floor((r.Max-r.Min)/r.Step + 1e-9))
		for i := 0; i <= n; i++ {
			values = append(values, r.Min+float64(i)*r.Step)
		}
		return values
	case ParameterKindInt:
		values := make([]any, 0)
		step := int(r.Step)
		for v := int(r.Min); v <= int(r.Max); v += step {
			values = append(values, v)
		}
		return values
	case ParameterKindCategorical:
		values := make([]any, len(r.Choices))
		for i, c := range r.Choices {
			values[i] = c
		}
		return values
	case ParameterKindBoolean:
		return []any{false, true}
	default:
		return nil
	}
}

// randomValue draws one uniform value from the dimension.
func (r ParameterRange) randomValue(rng *rand.Rand) any {
	switch r.Kind {
	case ParameterKindNumeric:
		return r.Min + rng.Float64()*(r.Max-r.Min)
	case ParameterKindInt:
		return int(r.Min) + rng.Intn(int(r.Max)-int(r.Min)+1)
	case ParameterKindCategorical:
		return r.Choices[rng.Intn(len(r.Choices))]
	case ParameterKindBoolean:
		return rng.Intn(2) == 1
	default:
		return nil
	}
}

// ParameterSpace is an ordered collection of search dimensions. Dimensions
// enumerate and report in the order they were added.
type ParameterSpace struct {
	ranges []ParameterRange
	byName map[string]int
}

// NewParameterSpace creates an empty parameter space.
func NewParameterSpace() *ParameterSpace {
	return &ParameterSpace{byName: make(map[string]int)}
}

func (s *ParameterSpace) add(r ParameterRange) error {
	if r.Name == "" {
		return fmt.Errorf("%w: parameter name must not be empty", ErrInvalidInput)
	}
	if _, exists := s.byName[r.Name]; exists {
		return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidInput, r.Name)
	}
	s.byName[r.Name] = len(s.ranges)
	s.ranges = append(s.ranges, r)
	return nil
}

// AddNumeric adds a continuous dimension discretized by step for grid
// enumeration. A non-positive step defaults to 1.
func (s *ParameterSpace) AddNumeric(name string, min, max, step float64) error {
	if max < min {
		return fmt.Errorf("%w: parameter %q: max %v is below min %v", ErrInvalidInput, name, max, min)
	}
	if step <= 0 {
		step = 1
	}
	return s.add(ParameterRange{Name: name, Kind: ParameterKindNumeric, Min: min, Max: max, Step: step})
}

// AddInt adds an integer dimension. A non-positive step defaults to 1.
func (s *ParameterSpace) AddInt(name string, min, max, step int) error {
	if max < min {
		return fmt.Errorf("%w: parameter %q: max %d is below min %d", ErrInvalidInput, name, max, min)
	}
	if step <= 0 {
		step = 1
	}
	return s.add(ParameterRange{Name: name, Kind: ParameterKindInt, Min: float64(min), Max: float64(max), Step: float64(step)})
}

// AddCategorical adds a dimension over an explicit choice list.
func (s *ParameterSpace) AddCategorical(name string, choices []string) error {
	if len(choices) == 0 {
		return fmt.Errorf("%w: parameter %q has no choices", ErrInvalidInput, name)
	}
	return s.add(ParameterRange{Name: name, Kind: ParameterKindCategorical, Choices: choices})
}

// AddBoolean adds a two-valued dimension.
func (s *ParameterSpace) AddBoolean(name string) error {
	return s.add(ParameterRange{Name: name, Kind: ParameterKindBoolean})
}

// Ranges returns the dimensions in declaration order.
func (s *ParameterSpace) Ranges() []ParameterRange {
	out := make([]ParameterRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the number of dimensions.
func (s *ParameterSpace) Len() int {
	return len(s.ranges)
}

// GridSize returns the total number of grid combinations.
func (s *ParameterSpace) GridSize() int {
	if len(s.ranges) == 0 {
		return 0
	}
	size := 1
	for _, r := range s.ranges {
		size *= len(r.gridValues())
	}
	return size
}

// GridCombinations enumerates the full cartesian grid. The first dimension
// varies slowest; values within a dimension appear in ascending order.
func (s *ParameterSpace) GridCombinations() []map[string]any {
	if len(s.ranges) == 0 {
		return nil
	}

	combos := []map[string]any{{}}
	for _, r := range s.ranges {
		values := r.gridValues()
		next := make([]map[string]any, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				combo := make(map[string]any, len(base)+1)
				for k, bv := range base {
					combo[k] = bv
				}
				combo[r.Name] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// GridCombinationAt returns the single combination at the given position of
// the GridCombinations enumeration without materializing the grid. The index
// decodes as a mixed-radix number whose most significant digit is the first
// dimension.
func (s *ParameterSpace) GridCombinationAt(index int) map[string]any {
	combo := make(map[string]any, len(s.ranges))
	for i := len(s.ranges) - 1; i >= 0; i-- {
		values := s.ranges[i].gridValues()
		combo[s.ranges[i].Name] = values[index%len(values)]
		index /= len(values)
	}
	return combo
}

// RandomCombinations draws n independent uniform samples from the space.
// Samples may repeat.
func (s *ParameterSpace) RandomCombinations(n int, rng *rand.Rand) []map[string]any {
	if len(s.ranges) == 0 || n <= 0 {
		return nil
	}
	combos := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		combo := make(map[string]any, len(s.ranges))
		for _, r := range s.ranges {
			combo[r.Name] = r.randomValue(rng)
		}
		combos = append(combos, combo)
	}
	return combos
}
