// Package archive stores finished job results as JSON documents on a
// pluggable backend, either the local filesystem or an S3-compatible
// object store. The SQLite database keeps the queryable columns; the
// archive keeps the full result payloads.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tradeforge/tradeforge/internal/backtest"
)

// Backend is a flat key/value blob store.
type Backend interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Archive writes backtest results under results/{jobID}.json.
type Archive struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) *Archive {
	return &Archive{backend: backend}
}

func resultKey(jobID string) string {
	return path.Join("results", jobID+".json")
}

// SaveResult archives the full result document for a job.
func (a *Archive) SaveResult(ctx context.Context, jobID string, res *backtest.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return a.backend.Write(ctx, resultKey(jobID), data)
}

// LoadResult reads back an archived result.
func (a *Archive) LoadResult(ctx context.Context, jobID string) (*backtest.Result, error) {
	data, err := a.backend.Read(ctx, resultKey(jobID))
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding archived result %s: %w", jobID, err)
	}
	return &res, nil
}

// HasResult reports whether a job has an archived result.
func (a *Archive) HasResult(ctx context.Context, jobID string) (bool, error) {
	return a.backend.Exists(ctx, resultKey(jobID))
}

// ListResults returns the job IDs with archived results.
func (a *Archive) ListResults(ctx context.Context) ([]string, error) {
	keys, err := a.backend.List(ctx, "results")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := path.Base(k)
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// DeleteResult removes an archived result.
func (a *Archive) DeleteResult(ctx context.Context, jobID string) error {
	return a.backend.Delete(ctx, resultKey(jobID))
}
