package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/job"
)

// GormJobStore implements job.Store on the jobs table. Transitions run in
// a transaction that re-reads the stored status, so a cancel racing a
// completion cannot overwrite a terminal state.
type GormJobStore struct {
	db *gorm.DB
}

// NewGormJobStore wraps db.
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) Create(ctx context.Context, j *job.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = job.StatusPending
	}
	rec, err := recordFromJob(j)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	j.CreatedAt = rec.CreatedAt
	j.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *GormJobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.WrapError(core.ErrJobNotFound, fmt.Errorf("id %s", id))
	}
	if err != nil {
		return nil, err
	}
	return jobFromRecord(&rec)
}

func (s *GormJobStore) List(ctx context.Context) ([]*job.Job, error) {
	var recs []JobRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(recs))
	for i := range recs {
		j, err := jobFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *GormJobStore) Update(ctx context.Context, id string, mutate func(*job.Job)) error {
	return s.mutate(ctx, id, nil, "", mutate)
}

func (s *GormJobStore) Transition(ctx context.Context, id string, from []job.Status, to job.Status, mutate func(*job.Job)) error {
	return s.mutate(ctx, id, from, to, mutate)
}

// mutate applies a guarded read-modify-write. With a from set the stored
// status must be one of them and becomes to; without one the status is
// preserved.
func (s *GormJobStore) mutate(ctx context.Context, id string, from []job.Status, to job.Status, mutateFn func(*job.Job)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec JobRecord
		err := tx.First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.WrapError(core.ErrJobNotFound, fmt.Errorf("id %s", id))
		}
		if err != nil {
			return err
		}

		j, err := jobFromRecord(&rec)
		if err != nil {
			return err
		}
		if from != nil {
			matched := false
			for _, f := range from {
				if j.Status == f {
					matched = true
					break
				}
			}
			if !matched {
				return core.WrapError(core.ErrJobConflict,
					fmt.Errorf("job %s is %s, expected one of %v", id, j.Status, from))
			}
			j.Status = to
		}
		if mutateFn != nil {
			status := j.Status
			mutateFn(j)
			j.Status = status
		}

		updated, err := recordFromJob(j)
		if err != nil {
			return err
		}
		updated.CreatedAt = rec.CreatedAt
		return tx.Save(updated).Error
	})
}

func (s *GormJobStore) HasActive(ctx context.Context, strategyID string, kind job.Kind) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("strategy_id = ? AND kind = ? AND status IN ?",
			strategyID, string(kind), []string{string(job.StatusPending), string(job.StatusRunning)}).
		Count(&count).Error
	return count > 0, err
}

func recordFromJob(j *job.Job) (*JobRecord, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	return &JobRecord{
		ID:              j.ID,
		StrategyID:      j.StrategyID,
		Kind:            string(j.Kind),
		Status:          string(j.Status),
		CancelRequested: j.CancelRequested,
		PayloadJSON:     string(payload),
	}, nil
}

func jobFromRecord(rec *JobRecord) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &j); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", rec.ID, err)
	}
	// Columns win over the payload snapshot.
	j.ID = rec.ID
	j.Status = job.Status(rec.Status)
	j.CancelRequested = rec.CancelRequested
	j.CreatedAt = rec.CreatedAt
	j.UpdatedAt = rec.UpdatedAt
	return &j, nil
}

var _ job.Store = (*GormJobStore)(nil)
