package database

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/schema"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
)

var issue0 = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(context.Background(), Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func forecast(t *testing.T, table string, issue time.Time, start time.Time, values map[series.Field][]float64) series.TimeSeries {
	t.Helper()
	b := series.NewBuilder(table, issue)
	for f, col := range values {
		for i, v := range col {
			b.Set(start.Add(time.Duration(i)*time.Hour), f, v)
		}
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return s
}

func countRows(t *testing.T, d *Database, table string) int {
	t.Helper()
	var n int
	if err := d.read.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+quote(table)); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	return n
}

func TestMigrationsApplied(t *testing.T) {
	d := newTestDB(t)
	v, err := d.dialect.version(context.Background(), d.read)
	if err != nil {
		t.Fatalf("version() unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("expected schema version 2, got %d", v)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	s := forecast(t, "dwd", issue0, issue0.Add(time.Hour), map[series.Field][]float64{
		series.GHI:     {0, 120, 340},
		series.TempAir: {285, 287, 290},
	})

	stored, err := d.Append(ctx, s)
	if err != nil || !stored {
		t.Fatalf("first Append() expected stored, got %v (%v)", stored, err)
	}
	stored, err = d.Append(ctx, s)
	if err != nil {
		t.Fatalf("second Append() unexpected error: %v", err)
	}
	if stored {
		t.Errorf("second Append() expected no-op")
	}
	if n := countRows(t, d, "dwd"); n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestAppendDropsUnknownFields(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	var drift *schema.DriftWarning
	d.OnSchemaDrift = func(w *schema.DriftWarning) { drift = w }

	first := forecast(t, "owm", issue0, issue0, map[series.Field][]float64{"a": {1}, "b": {2}})
	if _, err := d.Append(ctx, first); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	second := forecast(t, "owm", issue0.Add(time.Hour), issue0, map[series.Field][]float64{"a": {3}, "b": {4}, "c": {5}})
	stored, err := d.Append(ctx, second)
	if err != nil || !stored {
		t.Fatalf("Append() with extra field expected stored, got %v (%v)", stored, err)
	}
	if drift == nil || !slices.Equal(drift.Fields, series.Fields("c")) {
		t.Errorf("expected drift warning for c, got %v", drift)
	}

	// Reopened schema must not contain c
	d.columns = make(map[string][]series.Field)
	cols, err := d.tableColumns(ctx, "owm")
	if err != nil {
		t.Fatalf("tableColumns() unexpected error: %v", err)
	}
	if !slices.Equal(cols, series.Fields("a", "b")) {
		t.Errorf("expected columns [a b], got %v", cols)
	}
	if n := countRows(t, d, "owm"); n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestAppendCachesColumnsOnlyWhenStored(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	s := forecast(t, "dwd", issue0, issue0, map[series.Field][]float64{"a": {1}})
	if _, err := d.Append(ctx, s); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	// table created by another writer after the column lookup
	d.columns = make(map[string][]series.Field)
	d.dialect.listColumns = `SELECT name FROM pragma_table_info(?) WHERE 0`

	wider := forecast(t, "dwd", issue0, issue0, map[series.Field][]float64{"a": {1}, "b": {2}})
	stored, err := d.Append(ctx, wider)
	if err != nil || stored {
		t.Fatalf("Append() expected duplicate, got %v (%v)", stored, err)
	}
	if cols, ok := d.columns["dwd"]; ok {
		t.Errorf("expected no cached columns, got %v", cols)
	}
}

func TestAppendRejectsReservedTable(t *testing.T) {
	d := newTestDB(t)
	s := forecast(t, "log", issue0, issue0, map[series.Field][]float64{"a": {1}})
	_, err := d.Append(context.Background(), s)
	var se *storage.Error
	if !errors.As(err, &se) {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestLastIssueTime(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	last, err := d.LastIssueTime(ctx, "solcast")
	if err != nil {
		t.Fatalf("LastIssueTime() unexpected error: %v", err)
	}
	if !last.Equal(storage.SentinelIssueTime) {
		t.Errorf("expected sentinel for missing table, got %v", last)
	}

	for _, issue := range []time.Time{issue0.Add(2 * time.Hour), issue0} {
		if _, err := d.Append(ctx, forecast(t, "solcast", issue, issue0, map[series.Field][]float64{"pv_estimate": {1}})); err != nil {
			t.Fatalf("Append() unexpected error: %v", err)
		}
	}

	last, err = d.LastIssueTime(ctx, "solcast")
	if err != nil {
		t.Fatalf("LastIssueTime() unexpected error: %v", err)
	}
	if !last.Equal(issue0.Add(2 * time.Hour)) {
		t.Errorf("expected %v, got %v", issue0.Add(2*time.Hour), last)
	}
}

func TestHistory(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if h := d.History(ctx, "entsoe_DE", issue0); !h.IsEmpty() {
		t.Errorf("expected empty history for missing table, got %d rows", h.Len())
	}

	older := forecast(t, "entsoe_DE", issue0, issue0, map[series.Field][]float64{"co2": {300, 310, 320}})
	newer := forecast(t, "entsoe_DE", issue0.Add(time.Hour), issue0.Add(time.Hour), map[series.Field][]float64{"co2": {math.NaN(), 420}})
	for _, s := range []series.TimeSeries{older, newer} {
		if _, err := d.Append(ctx, s); err != nil {
			t.Fatalf("Append() unexpected error: %v", err)
		}
	}

	h := d.History(ctx, "entsoe_DE", issue0.Add(time.Hour))
	if h.Len() != 2 {
		t.Fatalf("expected 2 history rows, got %d", h.Len())
	}
	if !h.IssueTime().Equal(issue0.Add(time.Hour)) {
		t.Errorf("expected newest issue time, got %v", h.IssueTime())
	}
	if v := h.Value(0, "co2"); !math.IsNaN(v) {
		t.Errorf("expected NaN from the newer issue, got %f", v)
	}
	if v := h.Value(1, "co2"); v != 420 {
		t.Errorf("got co2 %f, wanted 420", v)
	}
}

func TestTablesAndPurge(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).UTC()
	recent := time.Now().UTC()
	for _, issue := range []time.Time{old, recent} {
		if _, err := d.Append(ctx, forecast(t, "dwd", issue, issue, map[series.Field][]float64{"ghi": {1}})); err != nil {
			t.Fatalf("Append() unexpected error: %v", err)
		}
	}

	tables, err := d.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() unexpected error: %v", err)
	}
	if !slices.Equal(tables, []string{"dwd"}) {
		t.Errorf("expected [dwd], got %v", tables)
	}

	if err := d.PurgeForecasts(ctx, 1); err != nil {
		t.Fatalf("PurgeForecasts() unexpected error: %v", err)
	}
	if n := countRows(t, d, "dwd"); n != 1 {
		t.Errorf("expected 1 row after purge, got %d", n)
	}
}

func TestFetchLog(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	rows := []FetchLogRow{
		{Provider: "dwd", Table: "dwd", IssueTime: issue0, Outcome: OutcomeStored, Rows: 240},
		{Provider: "owm", Table: "owm", Outcome: OutcomeFailed, Message: "timeout"},
	}
	for _, r := range rows {
		if err := d.SaveFetchLog(ctx, r); err != nil {
			t.Fatalf("SaveFetchLog() unexpected error: %v", err)
		}
	}

	got, err := d.GetFetchLog(ctx, 10)
	if err != nil {
		t.Fatalf("GetFetchLog() unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Provider != "owm" || got[0].Outcome != OutcomeFailed || !got[0].IssueTime.IsZero() {
		t.Errorf("expected newest entry first, got %+v", got[0])
	}
	if got[1].Rows != 240 || !got[1].IssueTime.Equal(issue0) {
		t.Errorf("expected stored entry with 240 rows, got %+v", got[1])
	}
}

func TestBackup(t *testing.T) {
	d := newTestDB(t)
	if err := d.Backup(context.Background()); err != nil {
		t.Fatalf("Backup() unexpected error: %v", err)
	}
	files, err := os.ReadDir(d.backupDir())
	if err != nil {
		t.Fatalf("reading backup dir: %v", err)
	}
	if len(files) != 1 || filepath.Ext(files[0].Name()) != ".zip" {
		t.Errorf("expected one zip file, got %v", files)
	}
}
