package task

import (
	"context"
	"math"
	"time"

	"github.com/icodeforyou/pvforecast/storage"
)

// Slack (minutes) tolerates schedulers firing slightly early.
const Slack = 2

// Due reports whether a forecast issued at candidate is worth fetching when
// last is the newest stored issue time.
func Due(last, candidate time.Time, minInterval int, force bool) bool {
	if force {
		return true
	}
	minutes := math.Round(candidate.Sub(last).Minutes())
	return minutes > float64(minInterval-Slack)
}

// IssueTimeSource is the part of a repository the reconciler reads.
type IssueTimeSource interface {
	LastIssueTime(ctx context.Context, table string) (time.Time, error)
}

// Reconciler decides for one run of a provider whether a forecast is new
// enough to keep. The last issue time is read once per reconciler.
type Reconciler struct {
	source IssueTimeSource
	last   map[string]time.Time
}

// NewReconciler over the repositories a provider writes to. Without any
// repository every fetch is due.
func NewReconciler(repos storage.Repositories) *Reconciler {
	return &Reconciler{source: repos, last: make(map[string]time.Time)}
}

func (r *Reconciler) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	if t, ok := r.last[table]; ok {
		return t, nil
	}
	t, err := r.source.LastIssueTime(ctx, table)
	if err != nil {
		return time.Time{}, err
	}
	r.last[table] = t
	return t, nil
}

// ShouldFetch looks up the last issue time of table and applies Due to
// candidate, the issue time a fetch would store.
func (r *Reconciler) ShouldFetch(ctx context.Context, table string, candidate time.Time, minInterval int, force bool) (bool, error) {
	if force {
		return true, nil
	}
	last, err := r.LastIssueTime(ctx, table)
	if err != nil {
		return false, err
	}
	return Due(last, candidate, minInterval, force), nil
}
