package optimize

import "math/rand"

// elite is one observed parameter set kept for breeding.
type elite struct {
	params map[string]float64
	score  float64
}

// evolutionSearch proposes children of the best parameter sets seen so far.
// Parents are picked by tournament from a small elite pool and perturbed
// with gaussian noise scaled to each range; occasional crossover mixes two
// parents. Until enough elites exist it samples at random.
type evolutionSearch struct {
	space     Space
	rng       *rand.Rand
	elites    []elite
	poolSize  int
	minElites int
	crossP    float64
	mutScale  float64
}

func newEvolutionSearch(space Space, seed int64) *evolutionSearch {
	return &evolutionSearch{
		space:     space,
		rng:       rand.New(rand.NewSource(seed)),
		poolSize:  10,
		minElites: 4,
		crossP:    0.3,
		mutScale:  0.15,
	}
}

// tournament picks the better of k random elites.
func (e *evolutionSearch) tournament(k int) elite {
	best := e.elites[e.rng.Intn(len(e.elites))]
	for i := 1; i < k; i++ {
		c := e.elites[e.rng.Intn(len(e.elites))]
		if c.score > best.score {
			best = c
		}
	}
	return best
}

func (e *evolutionSearch) Next() (map[string]float64, bool) {
	if len(e.elites) < e.minElites {
		return e.space.Sample(e.rng), true
	}
	parent := e.tournament(4)
	child := make(map[string]float64, len(e.space))
	for k, v := range parent.params {
		child[k] = v
	}
	if e.rng.Float64() < e.crossP {
		other := e.tournament(4)
		for _, r := range e.space {
			if e.rng.Float64() < 0.5 {
				child[r.Name] = other.params[r.Name]
			}
		}
	}
	// mutate a couple of dimensions, gaussian step scaled to the range
	for i := 0; i < 1+e.rng.Intn(2); i++ {
		r := e.space[e.rng.Intn(len(e.space))]
		child[r.Name] += e.rng.NormFloat64() * e.mutScale * (r.Max - r.Min)
	}
	return e.space.Clamp(child), true
}

// Observe admits successful trials into the elite pool, kept sorted with
// the worst evicted once the pool is full.
func (e *evolutionSearch) Observe(params map[string]float64, score float64, failed bool) {
	if failed {
		return
	}
	cp := make(map[string]float64, len(params))
	for k, v := range params {
		cp[k] = v
	}
	e.elites = append(e.elites, elite{params: cp, score: score})
	// insertion keeps the pool small enough that a full sort is overkill
	for i := len(e.elites) - 1; i > 0 && e.elites[i].score > e.elites[i-1].score; i-- {
		e.elites[i], e.elites[i-1] = e.elites[i-1], e.elites[i]
	}
	if len(e.elites) > e.poolSize {
		e.elites = e.elites[:e.poolSize]
	}
}

// hybridSearch spends the first portion of the budget on the surrogate and
// the remainder evolving the best sets found. Both phases see every
// observation, so the evolutionary phase starts from a warm elite pool.
type hybridSearch struct {
	surrogate   *surrogateSearch
	evolution   *evolutionSearch
	switchAfter int
	proposed    int
}

func newHybridSearch(space Space, seed int64, trials int) *hybridSearch {
	switchAfter := trials / 2
	if switchAfter < 1 {
		switchAfter = 1
	}
	return &hybridSearch{
		surrogate:   newSurrogateSearch(space, seed),
		evolution:   newEvolutionSearch(space, seed+1),
		switchAfter: switchAfter,
	}
}

func (h *hybridSearch) Next() (map[string]float64, bool) {
	h.proposed++
	if h.proposed <= h.switchAfter {
		return h.surrogate.Next()
	}
	return h.evolution.Next()
}

func (h *hybridSearch) Observe(params map[string]float64, score float64, failed bool) {
	h.surrogate.Observe(params, score, failed)
	h.evolution.Observe(params, score, failed)
}
