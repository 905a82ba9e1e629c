package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Default time budget of one job run.
const jobTimeout = 5 * time.Minute

var ErrUnknownProvider = errors.New("unknown provider")

type Tasks struct {
	logger          *slog.Logger
	cron            *cron.Cron
	pipeline        *Pipeline
	jobs            []Job
	MaintenanceTask func()
	MaintenanceAt   string

	// jobs never overlap, scheduled or triggered
	mu sync.Mutex
}

func NewTasks(pipeline *Pipeline, jobs []Job) *Tasks {
	return &Tasks{
		logger:   slog.Default().With(slog.String("module", "tasks")),
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		pipeline: pipeline,
		jobs:     jobs,
	}
}

// Providers lists the names of all jobs in run order.
func (t *Tasks) Providers() []string {
	names := make([]string, len(t.jobs))
	for i, j := range t.jobs {
		names[i] = j.Name()
	}
	return names
}

// RunOnce runs every job once, one after another.
func (t *Tasks) RunOnce(ctx context.Context) []Result {
	results := make([]Result, 0, len(t.jobs))
	for _, j := range t.jobs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, t.runJob(ctx, j))
	}
	return results
}

// RunProvider runs the job of a single provider.
func (t *Tasks) RunProvider(ctx context.Context, name string) (Result, error) {
	i := slices.IndexFunc(t.jobs, func(j Job) bool { return j.Name() == name })
	if i < 0 {
		return Result{}, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return t.runJob(ctx, t.jobs[i]), nil
}

func (t *Tasks) runJob(ctx context.Context, j Job) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	return t.pipeline.Run(ctx, j)
}

// Run schedules every job at its cron spec and starts the scheduler.
func (t *Tasks) Run() {
	for _, j := range t.jobs {
		_, err := t.cron.AddFunc(j.RunAt, func() {
			t.runJob(context.Background(), j)
		})
		if err != nil {
			panic(fmt.Errorf("scheduling %s: %w", j.Name(), err))
		}
		t.logger.Debug("job scheduled", slog.String("task", j.Name()), slog.String("runAt", j.RunAt))
	}

	if t.MaintenanceTask != nil {
		_, err := t.cron.AddFunc(t.MaintenanceAt, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.MaintenanceTask()
		})
		if err != nil {
			panic(fmt.Errorf("scheduling maintenance: %w", err))
		}
	}
	t.cron.Start()
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
