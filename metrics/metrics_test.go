package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	issue := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	m.CountRun("dwd", OutcomeStored)
	m.CountRun("dwd", OutcomeStored)
	m.CountStored("sqlite", "dwd", 240, issue)
	m.CountDrift("dwd")

	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("dwd", OutcomeStored)); got != 2 {
		t.Errorf("got %f runs, wanted 2", got)
	}
	if got := testutil.ToFloat64(m.RowsStored.WithLabelValues("sqlite", "dwd")); got != 240 {
		t.Errorf("got %f rows, wanted 240", got)
	}
	if got := testutil.ToFloat64(m.LastIssueTime.WithLabelValues("dwd")); got != float64(issue.Unix()) {
		t.Errorf("got last issue %f, wanted %d", got, issue.Unix())
	}
	if got := testutil.ToFloat64(m.SchemaDrift.WithLabelValues("dwd")); got != 1 {
		t.Errorf("got %f drift warnings, wanted 1", got)
	}
}
