package app

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/job"
	"github.com/tradeforge/tradeforge/internal/storage"
	"github.com/tradeforge/tradeforge/internal/storage/archive"
)

// resultSink decorates a job store: when a job completes with a backtest
// result, the result is indexed in the database and archived as a JSON
// document. Persistence failures are logged, never propagated, so they
// cannot fail the job itself.
type resultSink struct {
	job.Store

	repo    *storage.Repository
	results *archive.Archive
	log     *zap.Logger
}

func newResultSink(store job.Store, repo *storage.Repository, results *archive.Archive, log *zap.Logger) *resultSink {
	return &resultSink{Store: store, repo: repo, results: results, log: log}
}

func (s *resultSink) Transition(ctx context.Context, id string, from []job.Status, to job.Status, mutate func(*job.Job)) error {
	// Capture the mutated job in memory; reading it back would lose the
	// concrete result type to JSON decoding.
	var result any
	wrapped := func(j *job.Job) {
		if mutate != nil {
			mutate(j)
		}
		result = j.Result
	}
	if err := s.Store.Transition(ctx, id, from, to, wrapped); err != nil {
		return err
	}
	if to != job.StatusCompleted {
		return nil
	}
	res, ok := coerceResult(result)
	if !ok {
		return nil
	}

	if err := s.repo.SaveBacktestResult(ctx, id, res); err != nil {
		s.log.Warn("indexing result", zap.String("job_id", id), zap.Error(err))
	}
	if err := s.results.SaveResult(ctx, id, res); err != nil {
		s.log.Warn("archiving result", zap.String("job_id", id), zap.Error(err))
	}
	return nil
}

// coerceResult recovers the typed result. A persistent store hands the
// mutate callback a job whose result has already been through a JSON
// round-trip, so the value may be a decoded map rather than the struct.
func coerceResult(v any) (*backtest.Result, bool) {
	switch r := v.(type) {
	case nil:
		return nil, false
	case *backtest.Result:
		return r, true
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var res backtest.Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, false
		}
		return &res, true
	}
}
