package optimize

import (
	"fmt"
	"math/rand"

	"github.com/tradeforge/tradeforge/internal/core"
)

// Method selects the search family for an optimization job.
const (
	MethodML     = "ml"     // surrogate-guided search
	MethodDL     = "dl"     // evolutionary search
	MethodHybrid = "hybrid" // surrogate phase, then evolution
	MethodAuto   = "auto"   // pick based on the space
)

// Named search strategies a method can be pinned to.
const (
	SearchGrid      = "grid"
	SearchRandom    = "random"
	SearchSurrogate = "surrogate"
	SearchEvolution = "evolution"
)

// Searcher proposes parameter sets for sequential trials. Next returns
// false when the searcher has nothing left to propose. Observe feeds the
// trial outcome back so adaptive searchers can learn; failed trials are
// reported with failed=true and their score ignored.
//
// Searchers are driven by a single job goroutine and need no locking.
type Searcher interface {
	Next() (map[string]float64, bool)
	Observe(params map[string]float64, score float64, failed bool)
}

// NewSearcher builds the searcher for a job. searchMethod may be empty, in
// which case the method's default strategy is used.
func NewSearcher(method, searchMethod string, space Space, seed int64, trials int) (Searcher, error) {
	if searchMethod == "" {
		switch method {
		case MethodML:
			searchMethod = SearchSurrogate
		case MethodDL:
			searchMethod = SearchEvolution
		case MethodHybrid, "":
			searchMethod = SearchGrid // resolved below for hybrid
		case MethodAuto:
			// Small enumerable spaces are searched exhaustively; anything
			// else falls back to the surrogate.
			if n := space.GridSize(); n > 0 && n <= trials {
				searchMethod = SearchGrid
			} else {
				searchMethod = SearchSurrogate
			}
		default:
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown method %q", method))
		}
	}
	if method == MethodHybrid {
		return newHybridSearch(space, seed, trials), nil
	}
	switch searchMethod {
	case SearchGrid:
		return newGridSearch(space), nil
	case SearchRandom:
		return newRandomSearch(space, seed), nil
	case SearchSurrogate:
		return newSurrogateSearch(space, seed), nil
	case SearchEvolution:
		return newEvolutionSearch(space, seed), nil
	}
	return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown search method %q", searchMethod))
}

// gridSearch enumerates every grid point in declaration order. Continuous
// dimensions make the grid infinite, so they are rejected up front by the
// scheduler's validation.
type gridSearch struct {
	space Space
	index []int
	done  bool
}

func newGridSearch(space Space) *gridSearch {
	return &gridSearch{space: space, index: make([]int, len(space)), done: space.GridSize() == 0}
}

func (g *gridSearch) Next() (map[string]float64, bool) {
	if g.done {
		return nil, false
	}
	params := make(map[string]float64, len(g.space))
	for i, r := range g.space {
		params[r.Name] = r.Min + float64(g.index[i])*r.Step
	}
	// odometer advance
	for i := len(g.index) - 1; i >= 0; i-- {
		g.index[i]++
		if g.index[i] < g.space[i].steps() {
			return params, true
		}
		g.index[i] = 0
	}
	g.done = true
	return params, true
}

func (g *gridSearch) Observe(map[string]float64, float64, bool) {}

// randomSearch samples the space independently each trial. Seeded, so a
// rerun with the same seed proposes the same sequence.
type randomSearch struct {
	space Space
	rng   *rand.Rand
}

func newRandomSearch(space Space, seed int64) *randomSearch {
	return &randomSearch{space: space, rng: rand.New(rand.NewSource(seed))}
}

func (r *randomSearch) Next() (map[string]float64, bool) {
	return r.space.Sample(r.rng), true
}

func (r *randomSearch) Observe(map[string]float64, float64, bool) {}
