package task

import (
	"context"
	"log/slog"
	"time"
)

// Maintainer is the housekeeping surface of the relational store.
type Maintainer interface {
	Backup(ctx context.Context) error
	PurgeBackups(ctx context.Context, retentionDays int) error
	PurgeLog(ctx context.Context, maxLogEntries int) error
	PurgeForecasts(ctx context.Context, retentionDays int) error
	PurgeFetchLog(ctx context.Context, retentionDays int) error
}

type MaintenanceOptions struct {
	BackupRetentionDays int
	// 0 keeps forecasts forever
	DataRetentionDays int
	MaxLogEntries     int
}

func NewMaintenanceTask(logger *slog.Logger, db Maintainer, opts MaintenanceOptions) func() {
	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		if err := db.Backup(ctx); err != nil {
			logger.Error("database backup error", slog.Any("error", err))
		}

		if err := db.PurgeBackups(ctx, opts.BackupRetentionDays); err != nil {
			logger.Error("backup maintenance error", slog.Any("error", err))
		}

		if err := db.PurgeLog(ctx, opts.MaxLogEntries); err != nil {
			logger.Error("log maintenance error", slog.Any("error", err))
		}

		if opts.DataRetentionDays > 0 {
			if err := db.PurgeForecasts(ctx, opts.DataRetentionDays); err != nil {
				logger.Error("forecast maintenance error", slog.Any("error", err))
			}

			if err := db.PurgeFetchLog(ctx, opts.DataRetentionDays); err != nil {
				logger.Error("fetch_log maintenance error", slog.Any("error", err))
			}
		}

		logger.Info("maintenance task done")
	}
}
