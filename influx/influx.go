package influx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
)

const (
	logMeasurement = "forecast_log"
	logField       = "IssueTime"
	logTag         = "Table"
)

// Point is a single line of data, decoupled from the client library.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

type backend interface {
	EnsureBucket(ctx context.Context) error
	Write(ctx context.Context, points ...Point) error
	Query(ctx context.Context, flux string) ([]map[string]any, error)
	Close()
}

// Repository stores the export fields of a series as one measurement per
// table and keeps a forecast_log of stored issue times.
type Repository struct {
	logger   *slog.Logger
	backend  backend
	bucket   string
	lookback time.Duration
	now      func() time.Time
}

func newRepository(logger *slog.Logger, b backend, bucket string, lookback time.Duration) *Repository {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &Repository{
		logger:   logger,
		backend:  b,
		bucket:   bucket,
		lookback: lookback,
		now:      time.Now,
	}
}

func (r *Repository) Name() string {
	return "influx"
}

func (r *Repository) Close() {
	r.backend.Close()
}

// Append writes the export fields of s. The issue time is logged even when
// there are no export fields, so the table still has a last issue time.
func (r *Repository) Append(ctx context.Context, s series.TimeSeries) (bool, error) {
	table := s.Name()
	export := s.Export()
	if len(export) == 0 {
		r.logger.Debug("no export fields, logging issue time only", slog.String("table", table))
	}

	exists, err := r.hasIssueTime(ctx, table, s.IssueTime())
	if err != nil {
		return false, storage.NewError(r.Name(), "append", table, err)
	}
	if exists {
		r.logger.Info("issue time already exists, no data added",
			slog.String("table", table),
			slog.String("issueTime", storage.FormatTime(s.IssueTime())))
		return false, nil
	}

	points := make([]Point, 0, s.Len()+1)
	for i := 0; i < s.Len(); i++ {
		fields := make(map[string]any, len(export))
		for _, f := range export {
			if v := s.Value(i, f); !math.IsNaN(v) && !math.IsInf(v, 0) {
				fields[string(f)] = v
			}
		}
		if len(fields) == 0 {
			continue
		}
		points = append(points, Point{Measurement: table, Fields: fields, Time: s.Time(i)})
	}
	// The log entry goes last so a failed write is retried on the next run
	points = append(points, Point{
		Measurement: logMeasurement,
		Tags:        map[string]string{logTag: table},
		Fields:      map[string]any{logField: s.IssueTime().Unix()},
		Time:        r.now().UTC(),
	})

	if err := r.backend.Write(ctx, points...); err != nil {
		return false, storage.NewError(r.Name(), "append", table, err)
	}

	r.logger.Debug("forecast stored",
		slog.String("table", table),
		slog.String("issueTime", storage.FormatTime(s.IssueTime())),
		slog.Int("points", len(points)-1))
	return true, nil
}

func (r *Repository) hasIssueTime(ctx context.Context, table string, issue time.Time) (bool, error) {
	records, err := r.backend.Query(ctx, fmt.Sprintf(`
		from(bucket: %s)
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == %s)
		  |> filter(fn: (r) => r._value == %d)
		  |> limit(n: 1)`,
		fluxString(r.bucket), fluxDuration(r.lookback),
		fluxString(logMeasurement), logTag, fluxString(table), fluxString(logField),
		issue.Unix()))
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// LastIssueTime reads the newest forecast_log entry of table within the
// lookback window.
func (r *Repository) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	records, err := r.backend.Query(ctx, fmt.Sprintf(`
		from(bucket: %s)
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == %s)
		  |> max()`,
		fluxString(r.bucket), fluxDuration(r.lookback),
		fluxString(logMeasurement), logTag, fluxString(table), fluxString(logField)))
	if err != nil {
		return time.Time{}, storage.NewError(r.Name(), "last issue time", table, err)
	}

	last := storage.SentinelIssueTime
	for _, rec := range records {
		secs, ok := asInt(rec["_value"])
		if !ok {
			continue
		}
		if t := time.Unix(secs, 0).UTC(); t.After(last) {
			last = t
		}
	}
	return last, nil
}

// History pivots the measurement of table into a series.
func (r *Repository) History(ctx context.Context, table string, start time.Time) series.TimeSeries {
	records, err := r.backend.Query(ctx, fmt.Sprintf(`
		from(bucket: %s)
		  |> range(start: %s)
		  |> filter(fn: (r) => r._measurement == %s)
		  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		fluxString(r.bucket), start.UTC().Format(time.RFC3339), fluxString(table)))
	if err != nil {
		r.logger.Warn("history not available", slog.String("table", table), slog.Any("error", err))
		return series.Empty(table)
	}

	b := series.NewBuilder(table, time.Time{})
	for _, rec := range records {
		ts, ok := rec["_time"].(time.Time)
		if !ok {
			continue
		}
		for k, v := range rec {
			if strings.HasPrefix(k, "_") || slices.Contains([]string{"result", "table"}, k) {
				continue
			}
			f := series.Field(k)
			if !f.Valid() {
				continue
			}
			if fv, ok := asFloat(v); ok {
				b.Set(ts, f, fv)
			}
		}
	}

	h, err := b.Build()
	if err != nil {
		r.logger.Warn("history not usable", slog.String("table", table), slog.Any("error", err))
		return series.Empty(table)
	}
	return h
}

func fluxString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func fluxDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d.Seconds()))
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
