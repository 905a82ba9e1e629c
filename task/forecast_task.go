package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/metrics"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/types"
)

// Job is one configured provider together with where its output goes.
type Job struct {
	Provider types.Provider
	// Minimum minutes between two issue times
	Interval int
	Force    bool
	// Run the PV model on the weather and store both together
	Simulate     bool
	StoreCSV     bool
	Repositories storage.Repositories
	// Cron spec in serve mode
	RunAt string
}

func (j Job) Name() string {
	return j.Provider.Name()
}

// Publisher receives every series that was stored.
type Publisher interface {
	Publish(ctx context.Context, s series.TimeSeries) error
}

type FetchLog interface {
	SaveFetchLog(ctx context.Context, r database.FetchLogRow) error
}

// Result of one job run.
type Result struct {
	Outcome   database.Outcome
	IssueTime time.Time
	Rows      int
	Err       error
}

type Pipeline struct {
	logger    *slog.Logger
	simulator *pvmodel.Simulator
	metrics   *metrics.Metrics
	publisher Publisher
	fetchLog  FetchLog
	storePath string
	now       func() time.Time
}

type PipelineOptions struct {
	// Optional, weather is stored without PV estimates when nil
	Simulator *pvmodel.Simulator
	Metrics   *metrics.Metrics
	Publisher Publisher
	FetchLog  FetchLog
	// Directory of csv exports
	StorePath string
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		logger:    slog.Default().With(slog.String("module", "task")),
		simulator: opts.Simulator,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		fetchLog:  opts.FetchLog,
		storePath: opts.StorePath,
		now:       time.Now,
	}
}

// Run executes one job: fetch, keep the result only when its issue time is
// due, add the PV estimates and append it to every repository of the job. Failures
// are logged and reported in the result, they never panic.
func (p *Pipeline) Run(ctx context.Context, job Job) Result {
	name := job.Name()
	logger := p.logger.With(slog.String("task", name))
	res := p.run(ctx, logger, job)

	if p.metrics != nil {
		p.metrics.CountRun(name, string(res.Outcome))
	}
	if p.fetchLog != nil {
		row := database.FetchLogRow{
			Provider:  name,
			Table:     name,
			IssueTime: res.IssueTime,
			Outcome:   res.Outcome,
			Rows:      res.Rows,
		}
		if res.Err != nil {
			row.Message = res.Err.Error()
		}
		if err := p.fetchLog.SaveFetchLog(ctx, row); err != nil {
			logger.Warn("can't save fetch log", slog.Any("error", err))
		}
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, job Job) Result {
	name := job.Name()
	now := p.now().UTC()

	minInterval := job.Interval
	if ia, ok := job.Provider.(types.IntervalAdvisor); ok {
		minInterval = ia.MinInterval(now)
	}
	rec := NewReconciler(job.Repositories)

	pv, previews := job.Provider.(types.IssuePreviewer)
	if previews {
		candidate, ok := pv.PreviewIssueTime(now)
		if !ok {
			logger.Debug("no fetch planned now")
			return Result{Outcome: database.OutcomeNotDue}
		}
		due, err := rec.ShouldFetch(ctx, name, candidate, minInterval, job.Force)
		if err != nil {
			logger.Error("can't read last issue time, skipping", slog.Any("error", err))
			return Result{Outcome: database.OutcomeFailed, Err: err}
		}
		if !due {
			logger.Info("forecast not due",
				slog.String("issueTime", storage.FormatTime(candidate)),
				slog.Int("minInterval", minInterval))
			return Result{Outcome: database.OutcomeNotDue}
		}
	} else if !job.Force {
		// Read up front so an unreachable backend skips the fetch
		if _, err := rec.LastIssueTime(ctx, name); err != nil {
			logger.Error("can't read last issue time, skipping", slog.Any("error", err))
			return Result{Outcome: database.OutcomeFailed, Err: err}
		}
	}

	start := time.Now()
	s, err := job.Provider.Fetch(ctx)
	if p.metrics != nil {
		p.metrics.ObserveFetch(name, time.Since(start))
	}
	if err != nil {
		var fe *types.FetchError
		if errors.As(err, &fe) {
			logger.Error("fetch failed", slog.String("provider", fe.Provider), slog.Any("error", fe.Err))
		} else {
			logger.Error("fetch failed", slog.Any("error", err))
		}
		return Result{Outcome: database.OutcomeFailed, Err: err}
	}
	if s.IsEmpty() {
		logger.Warn("provider returned no rows")
		return Result{Outcome: database.OutcomeFailed, IssueTime: s.IssueTime(), Err: fmt.Errorf("%s returned no rows", name)}
	}

	// Without a preview the reported issue time decides, it may run ahead
	// of or behind the wall clock
	if !previews {
		due, err := rec.ShouldFetch(ctx, name, s.IssueTime(), minInterval, job.Force)
		if err != nil {
			logger.Error("can't read last issue time, skipping", slog.Any("error", err))
			return Result{Outcome: database.OutcomeFailed, IssueTime: s.IssueTime(), Err: err}
		}
		if !due {
			logger.Info("forecast not due",
				slog.String("issueTime", storage.FormatTime(s.IssueTime())),
				slog.Int("minInterval", minInterval))
			return Result{Outcome: database.OutcomeNotDue, IssueTime: s.IssueTime()}
		}
	}

	if job.Simulate {
		s = p.simulate(logger, s)
	}
	return p.store(ctx, logger, job, s)
}

// simulate merges the PV estimates into the weather. The weather alone is
// returned when the model can't run on it.
func (p *Pipeline) simulate(logger *slog.Logger, weather series.TimeSeries) series.TimeSeries {
	if p.simulator == nil {
		logger.Warn("irradiance requested but no PV system configured")
		return weather
	}
	pv, err := p.simulator.Run(weather)
	if err != nil {
		logger.Warn("PV simulation failed, storing weather only", slog.Any("error", err))
		return weather
	}
	merged, err := series.Merge(weather, pv, series.JoinOuter)
	if err != nil {
		logger.Warn("can't merge PV simulation, storing weather only", slog.Any("error", err))
		return weather
	}
	return merged
}

func (p *Pipeline) store(ctx context.Context, logger *slog.Logger, job Job, s series.TimeSeries) Result {
	name := job.Name()
	issue := storage.FormatTime(s.IssueTime())
	res := Result{Outcome: database.OutcomeDuplicate, IssueTime: s.IssueTime(), Rows: s.Len()}

	var stored bool
	var errs []error
	for _, repo := range job.Repositories {
		ok, err := repo.Append(ctx, s)
		switch {
		case err != nil:
			logger.Error("storing forecast failed",
				slog.String("backend", repo.Name()),
				slog.String("issueTime", issue),
				slog.Any("error", err))
			errs = append(errs, err)
		case ok:
			logger.Info("forecast stored",
				slog.String("backend", repo.Name()),
				slog.String("issueTime", issue),
				slog.Int("rows", s.Len()))
			stored = true
			if p.metrics != nil {
				p.metrics.CountStored(repo.Name(), name, s.Len(), s.IssueTime())
			}
		default:
			logger.Info("forecast already exists",
				slog.String("backend", repo.Name()),
				slog.String("issueTime", issue))
		}
	}

	if len(job.Repositories) == 0 {
		stored = true
	}
	if stored && job.StoreCSV {
		if path, err := series.ExportCSV(p.storePath, s); err != nil {
			logger.Error("csv export failed", slog.Any("error", err))
			errs = append(errs, err)
		} else {
			logger.Info("forecast exported", slog.String("path", path))
		}
	}
	if stored && p.publisher != nil {
		if err := p.publisher.Publish(ctx, s); err != nil {
			logger.Warn("publishing forecast failed", slog.Any("error", err))
		}
	}

	switch {
	case len(errs) > 0:
		res.Outcome = database.OutcomeFailed
		res.Err = errors.Join(errs...)
	case stored:
		res.Outcome = database.OutcomeStored
	}
	return res
}
