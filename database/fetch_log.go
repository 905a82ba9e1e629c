package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/pvforecast/storage"
)

type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeFailed    Outcome = "failed"
)

// FetchLogRow records the result of one provider run.
type FetchLogRow struct {
	Provider  string
	Table     string
	IssueTime time.Time
	Outcome   Outcome
	Rows      int
	Message   string
	CreatedAt time.Time
}

type fetchLogRecord struct {
	Provider  string `db:"provider"`
	Table     string `db:"forecast_table"`
	IssueTime string `db:"issue_time"`
	Outcome   string `db:"outcome"`
	Rows      int    `db:"row_count"`
	Message   string `db:"message"`
	CreatedAt string `db:"created_at"`
}

func (d *Database) SaveFetchLog(ctx context.Context, r FetchLogRow) error {
	issue := ""
	if !r.IssueTime.IsZero() {
		issue = storage.FormatTime(r.IssueTime)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := d.write.ExecContext(ctx, d.write.Rebind(`
		INSERT INTO fetch_log (provider, forecast_table, issue_time, outcome, row_count, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.Provider,
		r.Table,
		issue,
		string(r.Outcome),
		r.Rows,
		r.Message,
		storage.FormatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving fetch log: %w", err)
	}
	return nil
}

// GetFetchLog returns the newest entries first.
func (d *Database) GetFetchLog(ctx context.Context, limit int) ([]FetchLogRow, error) {
	if limit < 1 {
		limit = 50
	}
	var records []fetchLogRecord
	err := d.read.SelectContext(ctx, &records, d.read.Rebind(`
		SELECT provider, forecast_table, issue_time, outcome, row_count, message, created_at
		FROM fetch_log
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("fetching fetch log: %w", err)
	}

	rows := make([]FetchLogRow, 0, len(records))
	for _, rec := range records {
		r := FetchLogRow{
			Provider: rec.Provider,
			Table:    rec.Table,
			Outcome:  Outcome(rec.Outcome),
			Rows:     rec.Rows,
			Message:  rec.Message,
		}
		if rec.IssueTime != "" {
			if r.IssueTime, err = storage.ParseTime(rec.IssueTime); err != nil {
				return nil, fmt.Errorf("parsing issue time: %w", err)
			}
		}
		if r.CreatedAt, err = storage.ParseTime(rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("parsing created at: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (d *Database) PurgeFetchLog(ctx context.Context, retentionDays int) error {
	d.logger.Debug("purging fetch log")
	before := storage.FormatTime(time.Now().Add(-24 * time.Hour * time.Duration(retentionDays)))
	res, err := d.write.ExecContext(ctx, d.write.Rebind(`DELETE FROM fetch_log WHERE created_at < ?`), before)
	if err != nil {
		return fmt.Errorf("purging fetch log: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		d.logger.Warn("can't get rows affected by purge", slog.String("table", "fetch_log"), slog.Any("error", err))
	} else {
		d.logger.Debug(fmt.Sprintf("purged %d rows from fetch_log", rows))
	}
	return nil
}
