package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/icodeforyou/pvforecast/series"
)

// SentinelIssueTime is reported for tables that were never written, it
// makes every provider due on its first run.
var SentinelIssueTime = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// TimeFormat is used for issue_time and period_end in relational tables.
const TimeFormat = "2006-01-02T15:04:05Z"

// Repository persists time series and remembers which (table, issue time)
// pairs have been stored.
type Repository interface {
	Name() string
	// Append stores s under s.Name(). Appending an issue time that is already
	// stored is a no-op and reports stored == false.
	Append(ctx context.Context, s series.TimeSeries) (stored bool, err error)
	// LastIssueTime returns SentinelIssueTime for an empty or missing table.
	LastIssueTime(ctx context.Context, table string) (time.Time, error)
	// History returns rows with period_end >= start, an empty series when the
	// table is missing or the backend cannot be reached.
	History(ctx context.Context, table string, start time.Time) series.TimeSeries
}

// Error is returned when a backend is unreachable or rejects a request.
type Error struct {
	Backend string
	Op      string
	Table   string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(backend, op, table string, err error) error {
	return &Error{Backend: backend, Op: op, Table: table, Err: err}
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func ParseTime(s string) (time.Time, error) {
	return series.ParseTime(s)
}
