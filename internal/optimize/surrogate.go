package optimize

import "math/rand"

// surrogateSearch keeps a cheap linear model over normalized parameters and
// proposes the candidate the model likes best out of a random batch.
// Epsilon exploration keeps it from getting stuck on an early ridge.
type surrogateSearch struct {
	space     Space
	rng       *rand.Rand
	w         []float64
	lr        float64
	l2        float64
	exploreP  float64
	batchSize int
}

func newSurrogateSearch(space Space, seed int64) *surrogateSearch {
	return &surrogateSearch{
		space: space,
		rng:   rand.New(rand.NewSource(seed)),
		// +1 for the bias term
		w:         make([]float64, len(space)+1),
		lr:        0.02,
		l2:        1e-4,
		exploreP:  0.10,
		batchSize: 16,
	}
}

// features is the normalized parameter vector with a trailing bias term.
func (s *surrogateSearch) features(params map[string]float64) []float64 {
	x := s.space.normalize(params)
	return append(x, 1.0)
}

func (s *surrogateSearch) score(x []float64) float64 {
	var sum float64
	for i := 0; i < len(s.w) && i < len(x); i++ {
		sum += s.w[i] * x[i]
	}
	return sum
}

func (s *surrogateSearch) Next() (map[string]float64, bool) {
	if s.rng.Float64() < s.exploreP {
		return s.space.Sample(s.rng), true
	}
	best := s.space.Sample(s.rng)
	bestScore := s.score(s.features(best))
	for i := 1; i < s.batchSize; i++ {
		cand := s.space.Sample(s.rng)
		if sc := s.score(s.features(cand)); sc > bestScore {
			best, bestScore = cand, sc
		}
	}
	return best, true
}

// Observe runs one SGD step toward the observed score. Failed trials are
// trained as a poor outcome so the model steers away from that region.
func (s *surrogateSearch) Observe(params map[string]float64, score float64, failed bool) {
	if failed {
		score = -1
	}
	x := s.features(params)
	err := s.score(x) - score
	// clamp the gradient so one outlier trial cannot blow up the weights
	if err > 5 {
		err = 5
	}
	if err < -5 {
		err = -5
	}
	for i := 0; i < len(s.w) && i < len(x); i++ {
		grad := err*x[i] + s.l2*s.w[i]
		s.w[i] -= s.lr * grad
	}
}
