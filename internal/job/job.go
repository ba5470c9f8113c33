// Package job defines the shared job records for backtest and optimization
// runs and the state store that guards their lifecycle transitions.
package job

import (
	"context"
	"time"
)

// Status represents job status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. A job reaches a terminal
// state exactly once and never leaves it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Kind distinguishes job types.
type Kind string

const (
	KindBacktest     Kind = "backtest"
	KindOptimization Kind = "optimization"
)

// TrialRecord is one entry of an optimization history: the sampled
// parameters and the score the objective assigned them.
type TrialRecord struct {
	Params map[string]float64 `json:"params"`
	Score  float64            `json:"score"`
	Error  string             `json:"error,omitempty"`
}

// Job is the persisted state of one asynchronous run.
type Job struct {
	ID         string `json:"id"`
	StrategyID string `json:"strategy_id"`
	Kind       Kind   `json:"kind"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"` // 0..100, never decreases

	// Optimization fields. History is append-only and survives
	// cancellation and failure untouched.
	Method     string             `json:"method,omitempty"`
	Objective  string             `json:"objective,omitempty"`
	History    []TrialRecord      `json:"history,omitempty"`
	BestParams map[string]float64 `json:"best_params,omitempty"`
	BestScore  float64            `json:"best_score"`
	HasBest    bool               `json:"has_best"`

	// Result payload for completed backtest jobs.
	Result any `json:"result,omitempty"`

	ErrorMessage    string    `json:"error_message,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists jobs. Status changes go through Transition, which applies
// the write only when the stored status is one of the expected predecessors,
// so a cancellation and a progress update cannot race into an inconsistent
// terminal state.
type Store interface {
	// Create stores a new job.
	Create(ctx context.Context, j *Job) error

	// Get returns a copy of the job.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns copies of all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)

	// Update applies mutate to the job without changing its status.
	Update(ctx context.Context, id string, mutate func(*Job)) error

	// Transition moves the job from one of the expected statuses to the
	// target status, applying mutate under the same guard. It returns
	// ErrJobConflict when the stored status is not in from.
	Transition(ctx context.Context, id string, from []Status, to Status, mutate func(*Job)) error

	// HasActive reports whether the strategy already has a pending or
	// running job of the given kind.
	HasActive(ctx context.Context, strategyID string, kind Kind) (bool, error)
}
