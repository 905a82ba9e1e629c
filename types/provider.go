package types

import (
	"context"
	"fmt"
	"time"

	"github.com/icodeforyou/pvforecast/series"
)

// Provider fetches one forecast. The returned series is named after the
// table it is stored in.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (series.TimeSeries, error)
}

// IssuePreviewer is implemented by providers whose next issue time is known
// before calling the upstream API. ok is false when no fetch should happen.
type IssuePreviewer interface {
	PreviewIssueTime(now time.Time) (issue time.Time, ok bool)
}

// IntervalAdvisor is implemented by providers that compute their minimum
// interval (minutes) between two fetches.
type IntervalAdvisor interface {
	MinInterval(now time.Time) int
}

// HistorySource serves previously stored rows of a table.
type HistorySource interface {
	History(ctx context.Context, table string, start time.Time) series.TimeSeries
}

// FetchError wraps a failed provider call.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func NewFetchError(provider string, err error) error {
	return &FetchError{Provider: provider, Err: err}
}

// ConfigurationError means a provider is missing required settings and
// will not be run.
type ConfigurationError struct {
	Provider string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration of %s: %v", e.Provider, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
