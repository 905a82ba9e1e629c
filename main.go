package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icodeforyou/pvforecast/config"
	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/influx"
	"github.com/icodeforyou/pvforecast/logging"
	"github.com/icodeforyou/pvforecast/metrics"
	"github.com/icodeforyou/pvforecast/mqtt"
	"github.com/icodeforyou/pvforecast/schema"
	"github.com/icodeforyou/pvforecast/task"
	"github.com/icodeforyou/pvforecast/www"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	serve := flag.Bool("serve", false, "schedule the providers and serve the status api instead of running them once")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	logger := slog.New(consoleHandler)
	slog.SetDefault(logger)
	logger.Debug("pvforecast is starting...", slog.String("version", Version))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var b backends
	if cnfg.Database.IsEnabled() {
		db, err := database.New(ctx, database.Options{
			Driver: database.Driver(cnfg.Database.Driver),
			Path:   cnfg.Database.Path,
			DSN:    cnfg.Database.DSN,
		})
		if err != nil {
			panic(fmt.Sprintf("failed to connect to database: %v", err))
		}
		defer db.Close()

		logger = slog.New(logging.NewMultiHandler(
			consoleHandler,
			logging.NewDBHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
		slog.SetDefault(logger)

		// Now we can use the logger to log database operations into the database itself
		db.SetLogger(logger.With("module", "database"))
		db.OnSchemaDrift = func(w *schema.DriftWarning) {
			m.CountDrift(w.Table)
		}
		b.db = db
	}

	if cnfg.Influx.Enabled {
		repo, err := influx.New(ctx, influx.Options{
			URL:             cnfg.Influx.URL,
			Token:           cnfg.Influx.Token,
			Org:             cnfg.Influx.Org,
			Bucket:          cnfg.Influx.Bucket,
			Username:        cnfg.Influx.Username,
			Password:        cnfg.Influx.Password,
			Database:        cnfg.Influx.Database,
			RetentionPolicy: cnfg.Influx.RetentionPolicy,
			Timeout:         cnfg.Http.ClientConfig().Timeout,
			LogLookback:     cnfg.Influx.GetLogLookback(),
		})
		if err != nil {
			panic(fmt.Sprintf("failed to connect to influxdb: %v", err))
		}
		defer repo.Close()
		b.influx = repo
	}

	jobs := buildJobs(logger, cnfg, b)
	if len(jobs) == 0 {
		logger.Warn("no provider enabled")
	}

	simulator, err := buildSimulator(cnfg, jobs)
	if err != nil {
		panic(fmt.Sprintf("failed to set up the PV model: %v", err))
	}

	opts := task.PipelineOptions{
		Simulator: simulator,
		Metrics:   m,
		StorePath: cnfg.GetStorePath(),
	}
	if b.db != nil {
		opts.FetchLog = b.db
	}

	if cnfg.Mqtt.Enabled {
		pub := mqtt.New(mqtt.Options{
			Host:        cnfg.Mqtt.Host,
			Port:        int(cnfg.Mqtt.Port),
			Username:    cnfg.Mqtt.Username,
			Password:    cnfg.Mqtt.Password,
			TopicPrefix: cnfg.Mqtt.GetTopicPrefix(),
		})
		if err := pub.Connect(); err != nil {
			logger.Error("mqtt connection error, forecasts are not published", slog.Any("error", err))
		} else {
			defer pub.Disconnect()
			opts.Publisher = pub
		}
	}

	tasks := task.NewTasks(task.NewPipeline(opts), jobs)

	if !*serve {
		runOnce(ctx, logger, tasks)
		return
	}

	if b.db != nil {
		tasks.MaintenanceTask = task.NewMaintenanceTask(
			logger.With(slog.String("module", "tasks"), slog.String("task", "maintenance")),
			b.db,
			task.MaintenanceOptions{
				BackupRetentionDays: cnfg.Database.GetBackupRetentionDays(),
				DataRetentionDays:   cnfg.Database.GetDataRetentionDays(),
				MaxLogEntries:       cnfg.Logging.GetDbMaxEntries(),
			})
		tasks.MaintenanceAt = cnfg.Maintenance.GetRunAt()
	}
	tasks.Run()
	defer tasks.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	deps := www.Deps{
		Runner:   tasks,
		Issues:   b.all(),
		Gatherer: reg,
	}
	if b.db != nil {
		deps.Store = b.db
	}
	server := www.NewServer(cnfg.Api, deps)
	server.Run(ctx)
}

// runOnce runs every provider once, for use from an external scheduler.
func runOnce(ctx context.Context, logger *slog.Logger, tasks *task.Tasks) {
	results := tasks.RunOnce(ctx)
	counts := make(map[database.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	logger.Info("all providers done",
		slog.Int("stored", counts[database.OutcomeStored]),
		slog.Int("duplicate", counts[database.OutcomeDuplicate]),
		slog.Int("notDue", counts[database.OutcomeNotDue]),
		slog.Int("failed", counts[database.OutcomeFailed]))
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	if syncer, ok := logger.Handler().(interface{ Sync() error }); ok {
		if syncErr := syncer.Sync(); syncErr != nil {
			logger.Error("failed to flush logger", slog.Any("error", syncErr))
		}
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
