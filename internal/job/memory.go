package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/tradeforge/internal/core"
)

// MemoryStore is an in-memory Store with bounded size. Oldest jobs are
// evicted once the capacity is reached.
type MemoryStore struct {
	jobs    map[string]*Job
	order   []string // insertion order for eviction
	maxSize int
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryStore creates a memory store holding at most maxSize jobs.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Create stores a new job, assigning an id and timestamps if unset.
func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	now := s.now()
	j.CreatedAt = now
	j.UpdatedAt = now

	// Evict oldest terminal job when at capacity. Active jobs are never
	// evicted out from under their workers.
	if len(s.jobs) >= s.maxSize {
		for i, id := range s.order {
			if s.jobs[id] != nil && s.jobs[id].Status.Terminal() {
				delete(s.jobs, id)
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}

	stored := *j
	s.jobs[j.ID] = &stored
	s.order = append(s.order, j.ID)
	return nil
}

// Get returns a copy of the job.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return copyJob(j), nil
}

// List returns copies of all jobs, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for i := len(s.order) - 1; i >= 0; i-- {
		if j, ok := s.jobs[s.order[i]]; ok {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

// Update applies mutate to the job. The status field is preserved: status
// changes must go through Transition.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return core.ErrJobNotFound
	}
	status := j.Status
	mutate(j)
	j.Status = status
	j.UpdatedAt = s.now()
	return nil
}

// Transition moves the job to a new status under a state guard.
func (s *MemoryStore) Transition(ctx context.Context, id string, from []Status, to Status, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return core.ErrJobNotFound
	}

	allowed := false
	for _, f := range from {
		if j.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return core.ErrJobConflict
	}

	if mutate != nil {
		mutate(j)
	}
	j.Status = to
	j.UpdatedAt = s.now()
	return nil
}

// HasActive reports whether the strategy has a pending or running job of
// the given kind.
func (s *MemoryStore) HasActive(ctx context.Context, strategyID string, kind Kind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		if j.StrategyID == strategyID && j.Kind == kind && !j.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func copyJob(j *Job) *Job {
	out := *j
	if j.History != nil {
		out.History = make([]TrialRecord, len(j.History))
		copy(out.History, j.History)
	}
	if j.BestParams != nil {
		out.BestParams = make(map[string]float64, len(j.BestParams))
		for k, v := range j.BestParams {
			out.BestParams[k] = v
		}
	}
	return &out
}
