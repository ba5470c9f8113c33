package optimize

import (
	"fmt"
	"sort"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/core"
)

// Objective scores a finished backtest. Higher is better for every
// registered objective.
type Objective func(*backtest.Result) float64

var objectives = map[string]Objective{
	"total_return": func(r *backtest.Result) float64 { return r.TotalReturn },
	"sharpe":       func(r *backtest.Result) float64 { return r.SharpeRatio },
	"profit_factor": func(r *backtest.Result) float64 {
		return r.ProfitFactor
	},
	// Return discounted by the drawdown it took to earn it. Flat equity
	// curves score the raw return.
	"return_over_drawdown": func(r *backtest.Result) float64 {
		if r.MaxDrawdown <= 0 {
			return r.TotalReturn
		}
		return r.TotalReturn / r.MaxDrawdown
	},
}

// DefaultObjective is used when a job does not name one.
const DefaultObjective = "total_return"

// ObjectiveByName resolves a registered objective.
func ObjectiveByName(name string) (Objective, error) {
	if name == "" {
		name = DefaultObjective
	}
	obj, ok := objectives[name]
	if !ok {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown objective %q", name))
	}
	return obj, nil
}

// Objectives lists the registered objective names, sorted.
func Objectives() []string {
	names := make([]string, 0, len(objectives))
	for name := range objectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
