package optimize

import (
	"fmt"
	"math/rand"

	"github.com/tradeforge/tradeforge/internal/core"
)

// ParamRange declares one searchable parameter. A positive Step makes the
// range discrete; otherwise it is sampled continuously.
type ParamRange struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// steps returns the number of discrete values in the range, or 0 when the
// range is continuous.
func (r ParamRange) steps() int {
	if r.Step <= 0 {
		return 0
	}
	return int((r.Max-r.Min)/r.Step) + 1
}

// sample draws one value from the range.
func (r ParamRange) sample(rng *rand.Rand) float64 {
	if n := r.steps(); n > 0 {
		return r.Min + float64(rng.Intn(n))*r.Step
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// clamp bounds v to the range, snapping to the nearest step when discrete.
func (r ParamRange) clamp(v float64) float64 {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Step > 0 {
		k := int((v-r.Min)/r.Step + 0.5)
		v = r.Min + float64(k)*r.Step
		if v > r.Max {
			v -= r.Step
		}
	}
	return v
}

// Space is the declared search space of an optimization job.
type Space []ParamRange

// Validate checks the space for impossible ranges.
func (s Space) Validate() error {
	if len(s) == 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("empty search space"))
	}
	seen := make(map[string]bool, len(s))
	for _, r := range s {
		if r.Name == "" {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unnamed parameter range"))
		}
		if seen[r.Name] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("duplicate parameter %q", r.Name))
		}
		seen[r.Name] = true
		if r.Max < r.Min {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("parameter %q: max %g below min %g", r.Name, r.Max, r.Min))
		}
	}
	return nil
}

// GridSize returns the number of grid points, or 0 when any dimension is
// continuous and the space cannot be enumerated.
func (s Space) GridSize() int {
	size := 1
	for _, r := range s {
		n := r.steps()
		if n == 0 {
			return 0
		}
		size *= n
	}
	return size
}

// Sample draws one full parameter set.
func (s Space) Sample(rng *rand.Rand) map[string]float64 {
	params := make(map[string]float64, len(s))
	for _, r := range s {
		params[r.Name] = r.sample(rng)
	}
	return params
}

// Clamp bounds a parameter set to the space.
func (s Space) Clamp(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(s))
	for _, r := range s {
		out[r.Name] = r.clamp(params[r.Name])
	}
	return out
}

// normalize maps a parameter set onto [0,1] per dimension, in declaration
// order. Used as the surrogate model's feature vector.
func (s Space) normalize(params map[string]float64) []float64 {
	x := make([]float64, len(s))
	for i, r := range s {
		if r.Max > r.Min {
			x[i] = (params[r.Name] - r.Min) / (r.Max - r.Min)
		}
	}
	return x
}
