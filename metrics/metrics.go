// Package metrics holds the Prometheus metrics of the forecast pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeNotDue    = "not_due"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	JobRuns       *prometheus.CounterVec
	FetchSeconds  *prometheus.HistogramVec
	RowsStored    *prometheus.CounterVec
	SchemaDrift   *prometheus.CounterVec
	LastIssueTime *prometheus.GaugeVec
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvforecast_job_runs_total",
			Help: "Provider runs by outcome",
		}, []string{"provider", "outcome"}),

		FetchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pvforecast_fetch_seconds",
			Help:    "Time spent fetching a forecast from its provider",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),

		RowsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvforecast_rows_stored_total",
			Help: "Forecast rows stored by backend and table",
		}, []string{"backend", "table"}),

		SchemaDrift: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvforecast_schema_drift_total",
			Help: "Appends that dropped fields unknown to the stored table",
		}, []string{"table"}),

		LastIssueTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pvforecast_last_issue_timestamp_seconds",
			Help: "Issue time of the newest stored forecast",
		}, []string{"table"}),
	}
}

func (m *Metrics) ObserveFetch(provider string, d time.Duration) {
	m.FetchSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) CountRun(provider, outcome string) {
	m.JobRuns.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) CountStored(backend, table string, rows int, issue time.Time) {
	m.RowsStored.WithLabelValues(backend, table).Add(float64(rows))
	m.LastIssueTime.WithLabelValues(table).Set(float64(issue.Unix()))
}

func (m *Metrics) CountDrift(table string) {
	m.SchemaDrift.WithLabelValues(table).Inc()
}
