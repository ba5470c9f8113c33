// Package indicator computes technical indicators over ordered bar series.
// Every indicator is a pure function of (bars, params): identical inputs
// produce identical output.
package indicator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tradeforge/tradeforge/internal/core"
)

// Spec identifies one indicator computation.
type Spec struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Key returns the canonical identity of the spec, e.g. "rsi(period=14)".
// Params are sorted by name so the key is stable.
func (s Spec) Key() string {
	if len(s.Params) == 0 {
		return s.Name + "()"
	}
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, s.Params[name]))
	}
	return s.Name + "(" + strings.Join(parts, ",") + ")"
}

// Param returns the named parameter or the given default.
func (s Spec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// Series holds per-bar indicator values aligned to the input bars.
// Indices below Warmup carry no valid value.
type Series struct {
	Values []float64
	Warmup int
}

// Valid reports whether the value at index i is past the warmup window.
func (s Series) Valid(i int) bool {
	return i >= s.Warmup && i < len(s.Values)
}

// At returns the value at index i and whether it is valid.
func (s Series) At(i int) (float64, bool) {
	if !s.Valid(i) {
		return 0, false
	}
	return s.Values[i], true
}

// Len returns the series length.
func (s Series) Len() int {
	return len(s.Values)
}

// ComputeFunc computes one indicator series over the given bars.
type ComputeFunc func(bars []core.Bar, spec Spec) (Series, error)

var registry = map[string]ComputeFunc{}

// Register adds an indicator to the registry. Called from init.
func Register(name string, fn ComputeFunc) {
	registry[name] = fn
}

// Known reports whether an indicator name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Compute evaluates all specs over the bars. Unknown indicator names are a
// configuration error caught at strategy-processing time, not mid-simulation.
func Compute(bars []core.Bar, specs []Spec) (map[string]Series, error) {
	out := make(map[string]Series, len(specs))
	for _, spec := range specs {
		key := spec.Key()
		if _, done := out[key]; done {
			continue
		}
		fn, ok := registry[spec.Name]
		if !ok {
			return nil, core.WrapError(core.ErrParse,
				fmt.Errorf("unknown indicator %q", spec.Name))
		}
		series, err := fn(bars, spec)
		if err != nil {
			return nil, err
		}
		out[key] = series
	}
	return out, nil
}

func closes(bars []core.Bar) []float64 {
	prices := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.Close
	}
	return prices
}

func intParam(spec Spec, name string, def int) (int, error) {
	v := int(spec.Param(name, float64(def)))
	if v < 1 {
		return 0, core.WrapError(core.ErrParse,
			fmt.Errorf("indicator %q: %s must be >= 1, got %d", spec.Name, name, v))
	}
	return v, nil
}
