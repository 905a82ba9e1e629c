package www

import (
	"log/slog"
	"net/http"

	"github.com/icodeforyou/pvforecast/database"
)

// NewLogHandler pages through the log table, newest first.
func NewLogHandler(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "database is disabled", http.StatusNotFound)
			return
		}

		page := intOrDefault(r.URL, "page", 1)
		pageSize := intOrDefault(r.URL, "pageSize", 25)
		if page < 1 || pageSize < 1 {
			http.Error(w, "page and pageSize must be positive", http.StatusBadRequest)
			return
		}

		e, err := store.GetLogEntries(r.Context(), slog.LevelDebug, page, pageSize)
		if err != nil {
			logger.Error("handling log request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data := struct {
			Page     int                    `json:"page"`
			PageSize int                    `json:"pageSize"`
			Entries  []database.LogEntryRow `json:"entries"`
		}{
			Page:     page,
			PageSize: pageSize,
			Entries:  e,
		}
		writeJSON(logger, w, http.StatusOK, data)
	}
}
