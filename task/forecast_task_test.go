package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/metrics"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// memRepo keeps appended issue times per table in memory.
type memRepo struct {
	name    string
	last    map[string]time.Time
	appends int
	stored  []series.TimeSeries
	err     error
}

func newMemRepo(name string) *memRepo {
	return &memRepo{name: name, last: make(map[string]time.Time)}
}

func (r *memRepo) Name() string {
	return r.name
}

func (r *memRepo) Append(ctx context.Context, s series.TimeSeries) (bool, error) {
	r.appends++
	if r.err != nil {
		return false, storage.NewError(r.name, "append", s.Name(), r.err)
	}
	for _, st := range r.stored {
		if st.Name() == s.Name() && st.IssueTime().Equal(s.IssueTime()) {
			return false, nil
		}
	}
	r.stored = append(r.stored, s)
	if s.IssueTime().After(r.last[s.Name()]) {
		r.last[s.Name()] = s.IssueTime()
	}
	return true, nil
}

func (r *memRepo) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	if r.err != nil {
		return time.Time{}, r.err
	}
	if t, ok := r.last[table]; ok {
		return t, nil
	}
	return storage.SentinelIssueTime, nil
}

func (r *memRepo) History(ctx context.Context, table string, start time.Time) series.TimeSeries {
	return series.Empty(table)
}

type fakeProvider struct {
	name    string
	s       series.TimeSeries
	err     error
	fetches int
}

func (p *fakeProvider) Name() string {
	return p.name
}

func (p *fakeProvider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	p.fetches++
	if p.err != nil {
		return series.TimeSeries{}, types.NewFetchError(p.name, p.err)
	}
	return p.s, nil
}

// previewProvider plans its own fetches like the Solcast adapter.
type previewProvider struct {
	fakeProvider
	ok       bool
	interval int
}

func (p *previewProvider) PreviewIssueTime(now time.Time) (time.Time, bool) {
	return now, p.ok
}

func (p *previewProvider) MinInterval(now time.Time) int {
	return p.interval
}

type memFetchLog struct {
	rows []database.FetchLogRow
}

func (l *memFetchLog) SaveFetchLog(ctx context.Context, r database.FetchLogRow) error {
	l.rows = append(l.rows, r)
	return nil
}

type memPublisher struct {
	published []string
}

func (p *memPublisher) Publish(ctx context.Context, s series.TimeSeries) error {
	p.published = append(p.published, s.Name())
	return nil
}

var issue = time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC)

func weather(t *testing.T, name string) series.TimeSeries {
	t.Helper()
	index := []time.Time{
		time.Date(2024, 6, 21, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 21, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC),
	}
	s, err := series.New(name, issue, index, map[series.Field][]float64{
		series.TempAir: {288.15, 290.15, 291.15},
		series.GHI:     {400, 600, 700},
	}, []series.Field{series.GHI})
	if err != nil {
		t.Fatalf("series.New() unexpected error: %v", err)
	}
	return s
}

func newTestPipeline(opts PipelineOptions) *Pipeline {
	p := NewPipeline(opts)
	p.now = func() time.Time { return issue.Add(10 * time.Minute) }
	return p
}

func TestPipelineStoresOnce(t *testing.T) {
	repo := newMemRepo("database")
	log := &memFetchLog{}
	m := metrics.New(prometheus.NewRegistry())
	p := newTestPipeline(PipelineOptions{Metrics: m, FetchLog: log})
	prov := &fakeProvider{name: "dwd", s: weather(t, "dwd")}
	job := Job{Provider: prov, Repositories: storage.Repositories{repo}}

	res := p.Run(context.Background(), job)
	if res.Outcome != database.OutcomeStored || res.Err != nil {
		t.Fatalf("expected stored, got %s (%v)", res.Outcome, res.Err)
	}
	if res.Rows != 3 || !res.IssueTime.Equal(issue) {
		t.Errorf("expected 3 rows at %v, got %d at %v", issue, res.Rows, res.IssueTime)
	}

	// same issue time again: fetched, but not stored twice
	res = p.Run(context.Background(), job)
	if res.Outcome != database.OutcomeDuplicate {
		t.Errorf("expected duplicate, got %s", res.Outcome)
	}
	if len(repo.stored) != 1 {
		t.Errorf("expected a single stored series, got %d", len(repo.stored))
	}

	if len(log.rows) != 2 || log.rows[0].Outcome != database.OutcomeStored {
		t.Errorf("expected two fetch log rows, got %+v", log.rows)
	}
	if got := testutil.ToFloat64(m.RowsStored.WithLabelValues("database", "dwd")); got != 3 {
		t.Errorf("got %f rows stored, wanted 3", got)
	}
	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("dwd", "duplicate")); got != 1 {
		t.Errorf("got %f duplicate runs, wanted 1", got)
	}
}

func TestPipelineNotDue(t *testing.T) {
	repo := newMemRepo("database")
	prov := &fakeProvider{name: "dwd", s: weather(t, "dwd")}
	repo.Append(context.Background(), prov.s)
	p := newTestPipeline(PipelineOptions{})

	res := p.Run(context.Background(), Job{Provider: prov, Interval: 60, Repositories: storage.Repositories{repo}})
	if res.Outcome != database.OutcomeNotDue || !res.IssueTime.Equal(issue) {
		t.Errorf("expected not due at %v, got %s at %v", issue, res.Outcome, res.IssueTime)
	}
	if prov.fetches != 1 || repo.appends != 1 {
		t.Errorf("expected a fetch without append, got %d fetches and %d appends", prov.fetches, repo.appends)
	}

	res = p.Run(context.Background(), Job{Provider: prov, Interval: 60, Force: true, Repositories: storage.Repositories{repo}})
	if prov.fetches != 2 || res.Outcome != database.OutcomeDuplicate {
		t.Errorf("expected forced fetch, got %d fetches and %s", prov.fetches, res.Outcome)
	}
}

// reissuingProvider reports an issue time half an hour ahead of the clock
// like VisualCrossing does.
type reissuingProvider struct {
	fakeProvider
	p *Pipeline
}

func (r *reissuingProvider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	r.fetches++
	at := r.p.now().UTC().Truncate(time.Hour).Add(30 * time.Minute)
	return r.s.WithIssueTime(at), nil
}

func TestPipelineUsesReportedIssueTime(t *testing.T) {
	repo := newMemRepo("database")
	p := newTestPipeline(PipelineOptions{})
	prov := &reissuingProvider{fakeProvider: fakeProvider{name: "vc", s: weather(t, "vc")}, p: p}
	job := Job{Provider: prov, Interval: 60, Repositories: storage.Repositories{repo}}

	for h := 0; h < 4; h++ {
		at := issue.Add(time.Duration(h)*time.Hour + 5*time.Minute)
		p.now = func() time.Time { return at }
		res := p.Run(context.Background(), job)
		want := at.Truncate(time.Hour).Add(30 * time.Minute)
		if res.Outcome != database.OutcomeStored || !res.IssueTime.Equal(want) {
			t.Errorf("run at %s: expected stored at %v, got %s at %v", at.Format("15:04"), want, res.Outcome, res.IssueTime)
		}
	}
	if len(repo.stored) != 4 {
		t.Errorf("expected 4 hourly issues stored, got %d", len(repo.stored))
	}

	// a provider lagging behind the clock keeps returning the same issue
	lagging := &fakeProvider{name: "vc", s: repo.stored[3]}
	p.now = func() time.Time { return issue.Add(6 * time.Hour) }
	res := p.Run(context.Background(), Job{Provider: lagging, Interval: 60, Repositories: storage.Repositories{repo}})
	if res.Outcome != database.OutcomeNotDue || repo.appends != 4 {
		t.Errorf("expected stale issue not due, got %s with %d appends", res.Outcome, repo.appends)
	}
}

func TestPipelinePreviewer(t *testing.T) {
	repo := newMemRepo("database")
	repo.last["solcast"] = issue
	prov := &previewProvider{fakeProvider: fakeProvider{name: "solcast", s: weather(t, "solcast")}}
	p := newTestPipeline(PipelineOptions{})
	job := Job{Provider: prov, Interval: 0, Repositories: storage.Repositories{repo}}

	if res := p.Run(context.Background(), job); res.Outcome != database.OutcomeNotDue || prov.fetches != 0 {
		t.Errorf("expected no fetch outside the plan, got %s", res.Outcome)
	}

	prov.ok = true
	prov.interval = 90
	if res := p.Run(context.Background(), job); res.Outcome != database.OutcomeNotDue || prov.fetches != 0 {
		t.Errorf("expected advised interval to hold the fetch back, got %s", res.Outcome)
	}

	prov.interval = 5
	if p.Run(context.Background(), job); prov.fetches != 1 {
		t.Errorf("expected a fetch, got %d", prov.fetches)
	}
}

func TestPipelineFetchError(t *testing.T) {
	repo := newMemRepo("database")
	prov := &fakeProvider{name: "owm", err: errors.New("401 unauthorized")}
	p := newTestPipeline(PipelineOptions{})

	res := p.Run(context.Background(), Job{Provider: prov, Repositories: storage.Repositories{repo}})
	var fe *types.FetchError
	if res.Outcome != database.OutcomeFailed || !errors.As(res.Err, &fe) {
		t.Errorf("expected failed run with fetch error, got %s (%v)", res.Outcome, res.Err)
	}
	if repo.appends != 0 {
		t.Errorf("expected no append, got %d", repo.appends)
	}
}

func TestPipelineLastIssueTimeError(t *testing.T) {
	repo := newMemRepo("influx")
	repo.err = errors.New("connection refused")
	prov := &fakeProvider{name: "owm", s: weather(t, "owm")}
	p := newTestPipeline(PipelineOptions{})

	res := p.Run(context.Background(), Job{Provider: prov, Repositories: storage.Repositories{repo}})
	if res.Outcome != database.OutcomeFailed || prov.fetches != 0 {
		t.Errorf("expected skipped provider, got %s with %d fetches", res.Outcome, prov.fetches)
	}
}

func TestPipelineStorageErrorKeepsOtherBackends(t *testing.T) {
	good := newMemRepo("database")
	bad := newMemRepo("influx")
	prov := &fakeProvider{name: "smhi", s: weather(t, "smhi")}
	p := newTestPipeline(PipelineOptions{})

	// LastIssueTime of the bad backend would fail, force skips it
	bad.err = errors.New("write refused")
	res := p.Run(context.Background(), Job{Provider: prov, Force: true, Repositories: storage.Repositories{good, bad}})

	var se *storage.Error
	if res.Outcome != database.OutcomeFailed || !errors.As(res.Err, &se) {
		t.Errorf("expected storage error, got %s (%v)", res.Outcome, res.Err)
	}
	if len(good.stored) != 1 {
		t.Errorf("expected the database append to stay, got %d", len(good.stored))
	}
}

func TestPipelineSimulation(t *testing.T) {
	a := pvmodel.DefaultArray()
	a.Latitude, a.Longitude = 52.52, 13.405
	a.Tilt, a.Azimuth = 30, 180
	a.SystemPower, a.InverterPower = 5000, 4600
	sim, err := pvmodel.NewSimulator([]pvmodel.Array{a}, []pvmodel.Model{pvmodel.ModelErbs}, series.CombineSum)
	if err != nil {
		t.Fatalf("NewSimulator() unexpected error: %v", err)
	}

	repo := newMemRepo("database")
	pub := &memPublisher{}
	dir := t.TempDir()
	p := newTestPipeline(PipelineOptions{Simulator: sim, Publisher: pub, StorePath: dir})
	prov := &fakeProvider{name: "dwd", s: weather(t, "dwd")}

	res := p.Run(context.Background(), Job{Provider: prov, Simulate: true, StoreCSV: true, Repositories: storage.Repositories{repo}})
	if res.Outcome != database.OutcomeStored {
		t.Fatalf("expected stored, got %s (%v)", res.Outcome, res.Err)
	}

	s := repo.stored[0]
	for _, f := range []series.Field{series.TempAir, series.GHI, "dc_erbs", "ac_erbs", series.Zenith} {
		if !s.Has(f) {
			t.Errorf("expected field %s, got %v", f, s.Fields())
		}
	}
	if s.Name() != "dwd" || s.Len() != 3 {
		t.Errorf("expected 3 rows of dwd, got %d of %s", s.Len(), s.Name())
	}
	if got := s.Value(1, "dc_erbs"); got <= 0 {
		t.Errorf("expected dc power at noon, got %f", got)
	}

	if len(pub.published) != 1 {
		t.Errorf("expected one published series, got %v", pub.published)
	}
	if _, err := os.Stat(filepath.Join(dir, series.CSVFileName(s))); err != nil {
		t.Errorf("expected csv export, got %v", err)
	}
}

func TestPipelineSimulationFallsBackToWeather(t *testing.T) {
	a := pvmodel.DefaultArray()
	a.SystemPower, a.InverterPower = 5000, 5000
	sim, _ := pvmodel.NewSimulator([]pvmodel.Array{a}, []pvmodel.Model{pvmodel.ModelErbs}, series.CombineSum)

	repo := newMemRepo("database")
	p := newTestPipeline(PipelineOptions{Simulator: sim})
	ws := weather(t, "vc").Drop(series.TempAir)
	prov := &fakeProvider{name: "vc", s: ws}

	res := p.Run(context.Background(), Job{Provider: prov, Simulate: true, Repositories: storage.Repositories{repo}})
	if res.Outcome != database.OutcomeStored {
		t.Fatalf("expected stored, got %s (%v)", res.Outcome, res.Err)
	}
	if repo.stored[0].Has("dc_erbs") {
		t.Error("expected weather only")
	}
}
