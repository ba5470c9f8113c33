package job

import (
	"context"
	"errors"
	"testing"

	"github.com/tradeforge/tradeforge/internal/core"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	j := &Job{StrategyID: "strat-1", Kind: KindOptimization}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if j.ID == "" {
		t.Fatal("Create should assign an id")
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}

	// The returned job is a copy.
	got.History = append(got.History, TrialRecord{Score: 1})
	again, _ := s.Get(ctx, j.ID)
	if len(again.History) != 0 {
		t.Error("Get must return copies, not shared state")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(10)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("error = %v, want JOB_NOT_FOUND", err)
	}
}

func TestMemoryStore_Transition(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	j := &Job{StrategyID: "strat-1", Kind: KindOptimization}
	s.Create(ctx, j)

	err := s.Transition(ctx, j.ID, []Status{StatusPending}, StatusRunning, nil)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	// Second transition from pending must conflict.
	err = s.Transition(ctx, j.ID, []Status{StatusPending}, StatusRunning, nil)
	if !errors.Is(err, core.ErrJobConflict) {
		t.Errorf("error = %v, want JOB_CONFLICT", err)
	}

	// running -> cancelled works, then the terminal state is sticky.
	err = s.Transition(ctx, j.ID, []Status{StatusPending, StatusRunning}, StatusCancelled, nil)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	err = s.Transition(ctx, j.ID, []Status{StatusRunning}, StatusCompleted, nil)
	if !errors.Is(err, core.ErrJobConflict) {
		t.Error("a terminal state must not be overwritten")
	}

	got, _ := s.Get(ctx, j.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", got.Status)
	}
}

func TestMemoryStore_UpdatePreservesStatus(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	j := &Job{StrategyID: "strat-1", Kind: KindOptimization}
	s.Create(ctx, j)

	s.Update(ctx, j.ID, func(job *Job) {
		job.Progress = 40
		job.Status = StatusCompleted // must be ignored
	})

	got, _ := s.Get(ctx, j.ID)
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40", got.Progress)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %v; Update must not change status", got.Status)
	}
}

func TestMemoryStore_HasActive(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	j := &Job{StrategyID: "strat-1", Kind: KindOptimization}
	s.Create(ctx, j)

	active, _ := s.HasActive(ctx, "strat-1", KindOptimization)
	if !active {
		t.Error("pending job should count as active")
	}

	active, _ = s.HasActive(ctx, "strat-2", KindOptimization)
	if active {
		t.Error("other strategies should not be active")
	}

	s.Transition(ctx, j.ID, []Status{StatusPending}, StatusCancelled, nil)
	active, _ = s.HasActive(ctx, "strat-1", KindOptimization)
	if active {
		t.Error("terminal job should not count as active")
	}
}

func TestMemoryStore_EvictsOnlyTerminal(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	a := &Job{StrategyID: "a", Kind: KindBacktest}
	b := &Job{StrategyID: "b", Kind: KindBacktest}
	s.Create(ctx, a)
	s.Create(ctx, b)
	s.Transition(ctx, a.ID, []Status{StatusPending}, StatusCancelled, nil)

	c := &Job{StrategyID: "c", Kind: KindBacktest}
	s.Create(ctx, c)

	if _, err := s.Get(ctx, a.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Error("terminal job should have been evicted")
	}
	if _, err := s.Get(ctx, b.ID); err != nil {
		t.Error("active job must not be evicted")
	}
}
