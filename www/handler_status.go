package www

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/task"
)

type Runner interface {
	Providers() []string
	RunProvider(ctx context.Context, name string) (task.Result, error)
}

type IssueTimeSource interface {
	LastIssueTime(ctx context.Context, table string) (time.Time, error)
}

type Store interface {
	GetFetchLog(ctx context.Context, limit int) ([]database.FetchLogRow, error)
	GetLogEntries(ctx context.Context, minLvl slog.Level, page, pageSize int) ([]database.LogEntryRow, error)
}

type tableStatus struct {
	Table         string  `json:"table"`
	LastIssueTime *string `json:"last_issue_time"`
	Error         string  `json:"error,omitempty"`
}

type fetchLogEntry struct {
	Provider  string `json:"provider"`
	Table     string `json:"table"`
	IssueTime string `json:"issue_time,omitempty"`
	Outcome   string `json:"outcome"`
	Rows      int    `json:"rows"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"created_at"`
}

type status struct {
	Tables   []tableStatus   `json:"tables"`
	FetchLog []fetchLogEntry `json:"fetch_log"`
}

// NewStatusHandler reports the last stored issue time per provider table
// (null if never stored) and the latest runs.
func NewStatusHandler(logger *slog.Logger, runner Runner, issues IssueTimeSource, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := status{Tables: []tableStatus{}, FetchLog: []fetchLogEntry{}}

		for _, table := range runner.Providers() {
			ts := tableStatus{Table: table}
			if issues != nil {
				last, err := issues.LastIssueTime(r.Context(), table)
				switch {
				case err != nil:
					ts.Error = err.Error()
				case !last.Equal(storage.SentinelIssueTime):
					formatted := storage.FormatTime(last)
					ts.LastIssueTime = &formatted
				}
			}
			st.Tables = append(st.Tables, ts)
		}

		if store != nil {
			rows, err := store.GetFetchLog(r.Context(), intOrDefault(r.URL, "limit", 50))
			if err != nil {
				logger.Error("handling status request", slog.Any("error", err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			for _, row := range rows {
				e := fetchLogEntry{
					Provider:  row.Provider,
					Table:     row.Table,
					Outcome:   string(row.Outcome),
					Rows:      row.Rows,
					Message:   row.Message,
					CreatedAt: storage.FormatTime(row.CreatedAt),
				}
				if !row.IssueTime.IsZero() {
					e.IssueTime = storage.FormatTime(row.IssueTime)
				}
				st.FetchLog = append(st.FetchLog, e)
			}
		}

		writeJSON(logger, w, http.StatusOK, st)
	}
}
