package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/schema"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
)

const (
	colIssueTime = "issue_time"
	colPeriodEnd = "period_end"
)

// Append stores s in the table s.Name(), creating the table on first use.
// Fields the table has no column for are dropped with a warning.
func (d *Database) Append(ctx context.Context, s series.TimeSeries) (bool, error) {
	table := s.Name()
	if err := checkTableName(table); err != nil {
		return false, storage.NewError(d.Name(), "append", table, err)
	}
	if s.IsEmpty() {
		d.logger.Debug("nothing to store", slog.String("table", table))
		return false, nil
	}

	existing, err := d.tableColumns(ctx, table)
	if err != nil {
		return false, storage.NewError(d.Name(), "append", table, err)
	}

	res := schema.Reconcile(table, s.Fields(), existing)
	if w := res.Warning(); w != nil {
		d.logger.Warn("schema drift, dropping fields",
			slog.String("table", table),
			slog.String("issueTime", storage.FormatTime(s.IssueTime())),
			slog.Any("error", w))
		if d.OnSchemaDrift != nil {
			d.OnSchemaDrift(w)
		}
	}

	stored, err := d.insert(ctx, s, res)
	if err != nil {
		return false, storage.NewError(d.Name(), "append", table, err)
	}
	// A duplicate rolls back the create, the table may hold other columns
	if res.Create && stored {
		d.mu.Lock()
		d.columns[table] = slices.Clone(res.Write)
		d.mu.Unlock()
	}
	return stored, nil
}

func (d *Database) insert(ctx context.Context, s series.TimeSeries, res schema.Result) (bool, error) {
	table := s.Name()
	issue := storage.FormatTime(s.IssueTime())

	tx, err := d.write.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if res.Create {
		d.logger.Info("creating table", slog.String("table", table), slog.Int("columns", len(res.Write)))
		if _, err := tx.ExecContext(ctx, d.createTableSQL(table, res.Write)); err != nil {
			return false, fmt.Errorf("create table: %w", err)
		}
	}

	var one int
	err = tx.QueryRowxContext(ctx,
		d.write.Rebind(fmt.Sprintf(`SELECT 1 FROM %s WHERE issue_time = ? LIMIT 1`, quote(table))),
		issue).Scan(&one)
	if err == nil {
		d.logger.Info("issue time already exists, no data added",
			slog.String("table", table),
			slog.String("issueTime", issue))
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check issue time: %w", err)
	}

	cols := []string{colIssueTime, colPeriodEnd}
	for _, f := range res.Write {
		cols = append(cols, quote(string(f)))
	}
	stmt, err := tx.PreparexContext(ctx, d.write.Rebind(fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (issue_time, period_end) DO NOTHING`,
		quote(table),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))))
	if err != nil {
		return false, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for i := 0; i < s.Len(); i++ {
		args[0] = issue
		args[1] = storage.FormatTime(s.Time(i))
		for j, f := range res.Write {
			args[j+2] = nullable(s.Value(i, f))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return false, fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	d.logger.Debug("forecast stored",
		slog.String("table", table),
		slog.String("issueTime", issue),
		slog.Int("rows", s.Len()))
	return true, nil
}

func (d *Database) createTableSQL(table string, fields []series.Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (issue_time TEXT NOT NULL, period_end TEXT NOT NULL", quote(table))
	for _, f := range fields {
		fmt.Fprintf(&b, ", %s %s", quote(string(f)), d.dialect.realType)
	}
	b.WriteString(", PRIMARY KEY (issue_time, period_end))")
	return b.String()
}

// LastIssueTime returns the newest stored issue time of table.
func (d *Database) LastIssueTime(ctx context.Context, table string) (time.Time, error) {
	if err := checkTableName(table); err != nil {
		return time.Time{}, storage.NewError(d.Name(), "last issue time", table, err)
	}
	existing, err := d.tableColumns(ctx, table)
	if err != nil {
		return time.Time{}, storage.NewError(d.Name(), "last issue time", table, err)
	}
	if existing == nil {
		return storage.SentinelIssueTime, nil
	}

	var last sql.NullString
	err = d.read.QueryRowxContext(ctx, fmt.Sprintf(`SELECT MAX(issue_time) FROM %s`, quote(table))).Scan(&last)
	if err != nil {
		return time.Time{}, storage.NewError(d.Name(), "last issue time", table, err)
	}
	if !last.Valid || last.String == "" {
		return storage.SentinelIssueTime, nil
	}
	t, err := storage.ParseTime(last.String)
	if err != nil {
		return time.Time{}, storage.NewError(d.Name(), "last issue time", table, err)
	}
	return t, nil
}

// History returns all rows with period_end >= start. For every period the
// newest issue wins; the issue time of the result is the newest one seen.
func (d *Database) History(ctx context.Context, table string, start time.Time) series.TimeSeries {
	logger := d.logger.With(slog.String("table", table))
	if err := checkTableName(table); err != nil {
		logger.Warn("history not available", slog.Any("error", err))
		return series.Empty(table)
	}
	existing, err := d.tableColumns(ctx, table)
	if err != nil {
		logger.Warn("history not available", slog.Any("error", err))
		return series.Empty(table)
	}
	if existing == nil {
		logger.Debug("no history, table does not exist")
		return series.Empty(table)
	}

	rows, err := d.read.QueryxContext(ctx,
		d.read.Rebind(fmt.Sprintf(`
			SELECT * FROM %s
			WHERE period_end >= ?
			ORDER BY period_end, issue_time`, quote(table))),
		storage.FormatTime(start))
	if err != nil {
		logger.Warn("history query failed", slog.Any("error", err))
		return series.Empty(table)
	}
	defer rows.Close()

	b := series.NewBuilder(table, time.Time{})
	var newest time.Time
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			logger.Warn("history scan failed", slog.Any("error", err))
			return series.Empty(table)
		}
		period, err := storage.ParseTime(asString(m[colPeriodEnd]))
		if err != nil {
			logger.Warn("history row skipped", slog.Any("error", err))
			continue
		}
		if issue, err := storage.ParseTime(asString(m[colIssueTime])); err == nil && issue.After(newest) {
			newest = issue
		}
		for _, f := range existing {
			b.Set(period, f, asFloat(m[string(f)]))
		}
	}
	if err := rows.Err(); err != nil {
		logger.Warn("reading history rows failed", slog.Any("error", err))
		return series.Empty(table)
	}

	h, err := b.SetIssueTime(newest).Build()
	if err != nil {
		logger.Warn("history not usable", slog.Any("error", err))
		return series.Empty(table)
	}
	return h
}

// Tables lists the forecast tables.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	var names []string
	if err := d.read.SelectContext(ctx, &names, d.dialect.listTables); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	tables := make([]string, 0, len(names))
	for _, n := range names {
		if checkTableName(n) == nil {
			tables = append(tables, n)
		}
	}
	slices.Sort(tables)
	return tables, nil
}

// PurgeForecasts deletes issues older than retentionDays from every
// forecast table. Zero or less keeps everything.
func (d *Database) PurgeForecasts(ctx context.Context, retentionDays int) error {
	if retentionDays < 1 {
		return nil
	}
	tables, err := d.Tables(ctx)
	if err != nil {
		return err
	}
	before := storage.FormatTime(time.Now().Add(-24 * time.Hour * time.Duration(retentionDays)))
	for _, table := range tables {
		d.logger.Debug(fmt.Sprintf("purging table %s", table))
		res, err := d.write.ExecContext(ctx,
			d.write.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE issue_time < ?`, quote(table))),
			before)
		if err != nil {
			return fmt.Errorf("error when purging %s: %w", table, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			d.logger.Warn("can't get rows affected by purge", slog.String("table", table), slog.Any("error", err))
		} else {
			d.logger.Debug(fmt.Sprintf("purged %d rows from %s", rows, table))
		}
	}
	return nil
}

// tableColumns returns the value columns of table, nil if it does not exist.
func (d *Database) tableColumns(ctx context.Context, table string) ([]series.Field, error) {
	d.mu.Lock()
	cached, ok := d.columns[table]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	var names []string
	if err := d.read.SelectContext(ctx, &names, d.read.Rebind(d.dialect.listColumns), table); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	fields := []series.Field{}
	for _, n := range names {
		if n == colIssueTime || n == colPeriodEnd {
			continue
		}
		fields = append(fields, series.Field(n))
	}

	d.mu.Lock()
	d.columns[table] = fields
	d.mu.Unlock()
	return fields, nil
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return storage.FormatTime(t)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case []byte:
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return math.NaN()
}
