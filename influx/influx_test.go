package influx

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
)

// fakeBackend understands just enough of the queries issued by Repository.
type fakeBackend struct {
	points []Point
	err    error
}

var (
	tableRe       = regexp.MustCompile(`r\.Table == "([^"]+)"`)
	valueRe       = regexp.MustCompile(`r\._value == (\d+)`)
	measurementRe = regexp.MustCompile(`r\._measurement == "([^"]+)"\)`)
)

func (f *fakeBackend) EnsureBucket(ctx context.Context) error { return f.err }

func (f *fakeBackend) Write(ctx context.Context, points ...Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, flux string) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []map[string]any
	switch {
	case strings.Contains(flux, "limit(n: 1)"):
		table := tableRe.FindStringSubmatch(flux)[1]
		value, _ := strconv.ParseInt(valueRe.FindStringSubmatch(flux)[1], 10, 64)
		for _, p := range f.points {
			if p.Measurement == logMeasurement && p.Tags[logTag] == table && p.Fields[logField] == value {
				out = append(out, map[string]any{"_value": value})
			}
		}
	case strings.Contains(flux, "max()"):
		table := tableRe.FindStringSubmatch(flux)[1]
		var best *int64
		for _, p := range f.points {
			if p.Measurement == logMeasurement && p.Tags[logTag] == table {
				v := p.Fields[logField].(int64)
				if best == nil || v > *best {
					best = &v
				}
			}
		}
		if best != nil {
			out = append(out, map[string]any{"_value": *best, "table": int64(0)})
		}
	case strings.Contains(flux, "pivot("):
		m := measurementRe.FindStringSubmatch(flux)[1]
		for _, p := range f.points {
			if p.Measurement != m {
				continue
			}
			rec := map[string]any{"_time": p.Time, "_measurement": m, "result": "_result", "table": int64(0)}
			for k, v := range p.Fields {
				rec[k] = v
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeBackend) Close() {}

func newTestRepo(b backend) *Repository {
	r := newRepository(slog.Default(), b, "pvforecast", 0)
	r.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func pvSeries(t *testing.T, issue time.Time, export ...series.Field) series.TimeSeries {
	t.Helper()
	b := series.NewBuilder("dwd", issue)
	b.Set(t0, "dc_disc", 100).Set(t0, series.GHI, 300)
	b.Set(t0.Add(time.Hour), "dc_disc", math.NaN()).Set(t0.Add(time.Hour), series.GHI, 400)
	b.Set(t0.Add(2*time.Hour), "dc_disc", 250)
	b.Export(export...)
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return s
}

func TestAppendWritesExportFieldsAndLog(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRepo(fb)

	stored, err := r.Append(context.Background(), pvSeries(t, t0, "dc_disc"))
	if err != nil || !stored {
		t.Fatalf("Append() expected stored, got %v (%v)", stored, err)
	}

	// row at t0+1h has only NaN export values and is skipped
	if len(fb.points) != 3 {
		t.Fatalf("expected 2 data points and 1 log point, got %d", len(fb.points))
	}
	for _, p := range fb.points[:2] {
		if p.Measurement != "dwd" {
			t.Errorf("expected measurement dwd, got %s", p.Measurement)
		}
		if _, ok := p.Fields["ghi"]; ok {
			t.Errorf("expected only export fields, got %v", p.Fields)
		}
	}
	log := fb.points[2]
	if log.Measurement != logMeasurement || log.Tags[logTag] != "dwd" || log.Fields[logField] != t0.Unix() {
		t.Errorf("unexpected log point %+v", log)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRepo(fb)
	s := pvSeries(t, t0, "dc_disc")

	if _, err := r.Append(context.Background(), s); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}
	written := len(fb.points)
	stored, err := r.Append(context.Background(), s)
	if err != nil {
		t.Fatalf("second Append() unexpected error: %v", err)
	}
	if stored || len(fb.points) != written {
		t.Errorf("expected second Append() to be a no-op, stored=%v points=%d", stored, len(fb.points))
	}
}

func TestAppendWithoutExportFields(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRepo(fb)
	ctx := context.Background()

	stored, err := r.Append(ctx, pvSeries(t, t0))
	if err != nil || !stored {
		t.Fatalf("Append() expected stored, got %v (%v)", stored, err)
	}
	if len(fb.points) != 1 || fb.points[0].Measurement != logMeasurement {
		t.Fatalf("expected only the log point, got %+v", fb.points)
	}

	last, err := r.LastIssueTime(ctx, "dwd")
	if err != nil || !last.Equal(t0) {
		t.Errorf("expected last issue time %v, got %v (%v)", t0, last, err)
	}

	stored, err = r.Append(ctx, pvSeries(t, t0))
	if err != nil || stored || len(fb.points) != 1 {
		t.Errorf("expected second Append() to be a no-op, stored=%v err=%v points=%d", stored, err, len(fb.points))
	}
}

func TestLastIssueTime(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRepo(fb)
	ctx := context.Background()

	last, err := r.LastIssueTime(ctx, "dwd")
	if err != nil || !last.Equal(storage.SentinelIssueTime) {
		t.Errorf("expected sentinel, got %v (%v)", last, err)
	}

	for _, issue := range []time.Time{t0, t0.Add(3 * time.Hour)} {
		if _, err := r.Append(ctx, pvSeries(t, issue, "dc_disc")); err != nil {
			t.Fatalf("Append() unexpected error: %v", err)
		}
	}
	last, err = r.LastIssueTime(ctx, "dwd")
	if err != nil || !last.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("expected %v, got %v (%v)", t0.Add(3*time.Hour), last, err)
	}
}

func TestUnreachableBackend(t *testing.T) {
	r := newTestRepo(&fakeBackend{err: errors.New("connection refused")})
	ctx := context.Background()

	_, err := r.Append(ctx, pvSeries(t, t0, "dc_disc"))
	var se *storage.Error
	if !errors.As(err, &se) {
		t.Errorf("expected storage error from Append(), got %v", err)
	}
	if _, err := r.LastIssueTime(ctx, "dwd"); !errors.As(err, &se) {
		t.Errorf("expected storage error from LastIssueTime(), got %v", err)
	}
	if h := r.History(ctx, "dwd", t0); !h.IsEmpty() {
		t.Errorf("expected empty history, got %d rows", h.Len())
	}
}

func TestHistory(t *testing.T) {
	fb := &fakeBackend{}
	r := newTestRepo(fb)
	ctx := context.Background()
	if _, err := r.Append(ctx, pvSeries(t, t0, "dc_disc", series.GHI)); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	h := r.History(ctx, "dwd", t0)
	if h.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", h.Len())
	}
	if h.Has("result") || h.Has("table") {
		t.Errorf("expected flux meta columns to be skipped, got %v", h.Fields())
	}
	if v := h.Value(2, "dc_disc"); v != 250 {
		t.Errorf("got dc_disc %f, wanted 250", v)
	}
	if v := h.Value(1, "dc_disc"); !math.IsNaN(v) {
		t.Errorf("expected NaN for missing dc_disc, got %f", v)
	}
}

func TestFluxString(t *testing.T) {
	if got := fluxString(`a"b\c`); got != `"a\"b\\c"` {
		t.Errorf("fluxString() got %s", got)
	}
}
