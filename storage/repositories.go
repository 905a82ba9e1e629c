package storage

import (
	"context"
	"time"

	"github.com/icodeforyou/pvforecast/series"
)

// Repositories is the set of backends a provider writes to.
type Repositories []Repository

// LastIssueTime is the oldest last issue time over all backends, so a
// backend that missed a write is caught up on the next run.
func (rs Repositories) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	if len(rs) == 0 {
		return SentinelIssueTime, nil
	}
	var oldest time.Time
	for i, r := range rs {
		t, err := r.LastIssueTime(ctx, table)
		if err != nil {
			return time.Time{}, err
		}
		if i == 0 || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest, nil
}

// History returns the first non-empty history.
func (rs Repositories) History(ctx context.Context, table string, start time.Time) series.TimeSeries {
	for _, r := range rs {
		if h := r.History(ctx, table, start); !h.IsEmpty() {
			return h
		}
	}
	return series.Empty(table)
}
