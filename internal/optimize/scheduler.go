package optimize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/job"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// BarSource supplies historical bars for a job. Satisfied by the
// marketdata providers.
type BarSource interface {
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error)
}

// Recorder receives scheduler lifecycle events. The metrics package
// implements it; a nil recorder is replaced with a no-op.
type Recorder interface {
	JobStarted(kind string)
	JobFinished(kind, status string)
	TrialCompleted(failed bool)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted(string)         {}
func (nopRecorder) JobFinished(string, string) {}
func (nopRecorder) TrialCompleted(bool)       {}

// Config tunes the scheduler pool.
type Config struct {
	// Workers is the number of jobs run concurrently.
	Workers int
	// QueueSize bounds the backlog. Submissions block once it is full
	// rather than being rejected.
	QueueSize int
	// MaxConsecutiveFailures fails an optimization after this many
	// failed trials in a row.
	MaxConsecutiveFailures int
	// DefaultTrials is used when a request does not set a trial count.
	DefaultTrials int
	// DefaultCapital is the starting equity when a request leaves it zero.
	DefaultCapital float64
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.DefaultTrials <= 0 {
		c.DefaultTrials = 50
	}
	if c.DefaultCapital <= 0 {
		c.DefaultCapital = 10000
	}
}

// Request describes one optimization job.
type Request struct {
	Strategy       *strategy.Definition
	Symbol         string
	Interval       string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Method         string
	SearchMethod   string
	Objective      string
	Space          Space
	Trials         int
	Seed           int64
}

// BacktestRequest describes one asynchronous backtest job.
type BacktestRequest struct {
	Strategy       *strategy.Definition
	Symbol         string
	Interval       string
	Start          time.Time
	End            time.Time
	InitialCapital float64
}

type queued struct {
	jobID    string
	opt      *Request
	backtest *BacktestRequest
}

// Scheduler runs backtest and optimization jobs on a bounded worker pool.
// One job holds one worker for its whole run; trials within a job are
// strictly sequential.
type Scheduler struct {
	cfg    Config
	store  job.Store
	source BarSource
	sim    *backtest.Simulator
	rec    Recorder
	log    *zap.Logger

	queue chan queued
	wg    sync.WaitGroup
}

// NewScheduler builds a scheduler. Start must be called before submissions
// make progress.
func NewScheduler(cfg Config, store job.Store, source BarSource, rec Recorder, log *zap.Logger) *Scheduler {
	cfg.Defaults()
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		source: source,
		sim:    backtest.New(),
		rec:    rec,
		log:    log,
		queue:  make(chan queued, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; Wait blocks until they exit.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case q := <-s.queue:
					s.run(ctx, q)
				}
			}
		}()
	}
}

// Wait blocks until all workers have stopped.
func (s *Scheduler) Wait() { s.wg.Wait() }

// SubmitOptimization validates the request, creates the job record and
// queues it. Returns ErrJobConflict when the strategy already has an
// active optimization. Blocks when the queue is full.
func (s *Scheduler) SubmitOptimization(ctx context.Context, req *Request) (*job.Job, error) {
	if req.Strategy == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("missing strategy"))
	}
	if err := req.Strategy.Validate(); err != nil {
		return nil, err
	}
	if err := req.Space.Validate(); err != nil {
		return nil, err
	}
	if req.Trials <= 0 {
		req.Trials = s.cfg.DefaultTrials
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = s.cfg.DefaultCapital
	}
	if req.Objective == "" {
		req.Objective = DefaultObjective
	}
	if req.Method == "" {
		req.Method = MethodAuto
	}
	// Fail bad method, search method or objective names at submission,
	// not inside a worker.
	if _, err := ObjectiveByName(req.Objective); err != nil {
		return nil, err
	}
	if _, err := NewSearcher(req.Method, req.SearchMethod, req.Space, req.Seed, req.Trials); err != nil {
		return nil, err
	}
	// A continuous dimension makes the grid infinite; grid over such a
	// space would complete immediately with no trials.
	if req.SearchMethod == SearchGrid && req.Space.GridSize() == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("grid search requires a step on every dimension"))
	}

	active, err := s.store.HasActive(ctx, req.Strategy.ID, job.KindOptimization)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, core.WrapError(core.ErrJobConflict,
			fmt.Errorf("strategy %s already has an active optimization", req.Strategy.ID))
	}

	j := &job.Job{
		StrategyID: req.Strategy.ID,
		Kind:       job.KindOptimization,
		Status:     job.StatusPending,
		Method:     req.Method,
		Objective:  req.Objective,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, s.enqueue(ctx, queued{jobID: j.ID, opt: req})
}

// SubmitBacktest creates and queues an asynchronous backtest job.
func (s *Scheduler) SubmitBacktest(ctx context.Context, req *BacktestRequest) (*job.Job, error) {
	if req.Strategy == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("missing strategy"))
	}
	if err := req.Strategy.Validate(); err != nil {
		return nil, err
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = s.cfg.DefaultCapital
	}
	j := &job.Job{
		StrategyID: req.Strategy.ID,
		Kind:       job.KindBacktest,
		Status:     job.StatusPending,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, s.enqueue(ctx, queued{jobID: j.ID, backtest: req})
}

// Cancel requests cooperative cancellation. Pending jobs are cancelled
// immediately; running jobs finish their current trial first.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	err := s.store.Transition(ctx, id, []job.Status{job.StatusPending}, job.StatusCancelled, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrJobConflict) {
		return err
	}
	return s.store.Update(ctx, id, func(j *job.Job) {
		if !j.Status.Terminal() {
			j.CancelRequested = true
		}
	})
}

func (s *Scheduler) enqueue(ctx context.Context, q queued) error {
	select {
	case s.queue <- q:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, q queued) {
	err := s.store.Transition(ctx, q.jobID,
		[]job.Status{job.StatusPending}, job.StatusRunning, nil)
	if err != nil {
		// Cancelled while queued.
		if errors.Is(err, core.ErrJobConflict) {
			return
		}
		s.log.Error("job start failed", zap.String("job_id", q.jobID), zap.Error(err))
		return
	}

	kind := job.KindBacktest
	if q.opt != nil {
		kind = job.KindOptimization
	}
	s.rec.JobStarted(string(kind))

	var status job.Status
	if q.opt != nil {
		status = s.runOptimization(ctx, q.jobID, q.opt)
	} else {
		status = s.runBacktest(ctx, q.jobID, q.backtest)
	}
	s.rec.JobFinished(string(kind), string(status))
}

func (s *Scheduler) runBacktest(ctx context.Context, id string, req *BacktestRequest) job.Status {
	bars, err := s.source.GetBars(ctx, req.Symbol, req.Interval, req.Start, req.End)
	if err != nil {
		return s.fail(ctx, id, err)
	}
	result, err := s.sim.Run(ctx, req.Strategy, bars, req.InitialCapital)
	if err != nil {
		return s.fail(ctx, id, err)
	}
	s.finish(ctx, id, job.StatusCompleted, func(j *job.Job) {
		j.Progress = 100
		j.Result = result
	})
	return job.StatusCompleted
}

func (s *Scheduler) runOptimization(ctx context.Context, id string, req *Request) job.Status {
	objective, err := ObjectiveByName(req.Objective)
	if err != nil {
		return s.fail(ctx, id, err)
	}
	searcher, err := NewSearcher(req.Method, req.SearchMethod, req.Space, req.Seed, req.Trials)
	if err != nil {
		return s.fail(ctx, id, err)
	}
	bars, err := s.source.GetBars(ctx, req.Symbol, req.Interval, req.Start, req.End)
	if err != nil {
		return s.fail(ctx, id, err)
	}

	consecutiveFailures := 0
	for t := 0; t < req.Trials; t++ {
		if cancelled, err := s.checkCancel(ctx, id); err != nil {
			return s.fail(ctx, id, err)
		} else if cancelled {
			return job.StatusCancelled
		}

		params, ok := searcher.Next()
		if !ok {
			// Grid exhausted before the trial budget.
			break
		}
		candidate := strategy.ApplyParams(req.Strategy, params)

		record := job.TrialRecord{Params: params}
		failed := false
		result, err := s.sim.Run(ctx, candidate, bars, req.InitialCapital)
		if err != nil {
			if ctx.Err() != nil {
				return job.StatusCancelled
			}
			failed = true
			record.Error = core.WrapError(core.ErrTrial, err).Error()
			s.log.Warn("trial failed",
				zap.String("job_id", id), zap.Int("trial", t), zap.Error(err))
		} else {
			record.Score = objective(result)
		}
		searcher.Observe(params, record.Score, failed)
		s.rec.TrialCompleted(failed)

		progress := (t + 1) * 100 / req.Trials
		if progress > 100 {
			progress = 100
		}
		uerr := s.store.Update(ctx, id, func(j *job.Job) {
			j.History = append(j.History, record)
			if progress > j.Progress {
				j.Progress = progress
			}
			// Strict improvement only, so equal scores keep the earlier
			// parameter set.
			if !failed && (!j.HasBest || record.Score > j.BestScore) {
				j.BestScore = record.Score
				j.BestParams = params
				j.HasBest = true
				j.Result = result
			}
		})
		if uerr != nil {
			s.log.Error("trial record failed", zap.String("job_id", id), zap.Error(uerr))
		}

		if failed {
			consecutiveFailures++
			if consecutiveFailures >= s.cfg.MaxConsecutiveFailures {
				return s.fail(ctx, id, core.WrapError(core.ErrJobFatal,
					fmt.Errorf("%d consecutive trial failures, last at trial %d", consecutiveFailures, t)))
			}
		} else {
			consecutiveFailures = 0
		}
	}

	s.finish(ctx, id, job.StatusCompleted, func(j *job.Job) {
		j.Progress = 100
	})
	return job.StatusCompleted
}

// checkCancel honors a cancel request between trials. The history and best
// result written so far stay untouched and the progress freezes where the
// last trial left it.
func (s *Scheduler) checkCancel(ctx context.Context, id string) (bool, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !j.CancelRequested && ctx.Err() == nil {
		return false, nil
	}
	err = s.store.Transition(ctx, id,
		[]job.Status{job.StatusRunning}, job.StatusCancelled, nil)
	if err != nil && !errors.Is(err, core.ErrJobConflict) {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) fail(ctx context.Context, id string, cause error) job.Status {
	s.log.Error("job failed", zap.String("job_id", id), zap.Error(cause))
	s.finish(ctx, id, job.StatusFailed, func(j *job.Job) {
		j.ErrorMessage = cause.Error()
	})
	return job.StatusFailed
}

func (s *Scheduler) finish(ctx context.Context, id string, to job.Status, mutate func(*job.Job)) {
	err := s.store.Transition(ctx, id, []job.Status{job.StatusRunning}, to, mutate)
	if err != nil && !errors.Is(err, core.ErrJobConflict) {
		s.log.Error("job finish failed",
			zap.String("job_id", id), zap.String("status", string(to)), zap.Error(err))
	}
}
