package www

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/task"
)

type runResponse struct {
	Provider  string `json:"provider"`
	Outcome   string `json:"outcome"`
	IssueTime string `json:"issue_time,omitempty"`
	Rows      int    `json:"rows"`
	Error     string `json:"error,omitempty"`
}

// NewRunHandler runs the job of one provider and waits for it. Runs are
// serialized with the scheduled jobs.
func NewRunHandler(logger *slog.Logger, runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := mux.Vars(r)["provider"]

		res, err := runner.RunProvider(r.Context(), provider)
		if errors.Is(err, task.ErrUnknownProvider) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("handling run request", slog.String("provider", provider), slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := runResponse{
			Provider: provider,
			Outcome:  string(res.Outcome),
			Rows:     res.Rows,
		}
		if !res.IssueTime.IsZero() {
			resp.IssueTime = storage.FormatTime(res.IssueTime)
		}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		writeJSON(logger, w, http.StatusOK, resp)
	}
}
