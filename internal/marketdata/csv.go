package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// CSVProvider serves bars from CSV files under a directory, one file per
// symbol and interval named "<symbol>_<interval>.csv" with the columns
// time,open,high,low,close,volume. The time column is RFC 3339 or a unix
// timestamp in seconds.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider over dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

func (p *CSVProvider) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(p.dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("opening %s: %w", path, err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("reading %s: %w", path, err))
	}

	var bars []core.Bar
	for i, rec := range records {
		if len(rec) < 6 {
			return nil, core.WrapError(core.ErrData, fmt.Errorf("%s line %d: want 6 columns, got %d", path, i+1, len(rec)))
		}
		// header row
		if i == 0 && rec[0] == "time" {
			continue
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			return nil, core.WrapError(core.ErrData, fmt.Errorf("%s line %d: %w", path, i+1, err))
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		bar := core.Bar{Symbol: symbol, Interval: interval, Time: ts}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		for j, dst := range fields {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, core.WrapError(core.ErrData, fmt.Errorf("%s line %d column %d: %w", path, i+1, j+2, err))
			}
			*dst = v
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData,
			fmt.Errorf("%s %s between %s and %s", symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	return sortAndDedupe(bars), nil
}

// sortAndDedupe enforces the provider contract on file input: bars come out
// in ascending time order and a repeated timestamp keeps the later row.
func sortAndDedupe(bars []core.Bar) []core.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if len(out) > 0 && out[len(out)-1].Time.Equal(b.Time) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}
	return time.Unix(unix, 0).UTC(), nil
}
