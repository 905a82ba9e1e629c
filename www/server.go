package www

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/icodeforyou/pvforecast/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	logger  *slog.Logger
	config  config.AppConfigApi
	handler http.Handler
}

// Deps are the parts of the application the api reads and triggers.
type Deps struct {
	Runner Runner
	// Last issue times, usually every enabled backend
	Issues IssueTimeSource
	// Optional, nil when the relational store is disabled
	Store    Store
	Gatherer prometheus.Gatherer
}

func NewServer(config config.AppConfigApi, deps Deps) *Server {
	logger := slog.Default().With("module", "www")
	s := &Server{
		logger: logger,
		config: config,
	}

	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}

	r := mux.NewRouter()
	r.Use(logReqMW)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/status", NewStatusHandler(
		logger.With(slog.String("handler", "status")),
		deps.Runner,
		deps.Issues,
		deps.Store)).Methods(http.MethodGet)

	api.Handle("/run/{provider}", NewRunHandler(
		logger.With(slog.String("handler", "run")),
		deps.Runner)).Methods(http.MethodPost)

	api.Handle("/log", NewLogHandler(
		logger.With(slog.String("handler", "log")),
		deps.Store)).Methods(http.MethodGet)

	s.handler = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("starting server...", "port", s.config.Port)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErrors := make(chan error, 1)

	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErrors:
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", slog.Any("error", err))
		}

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.Any("error", err))
		}
	}
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("unable to encode response", slog.Any("error", err))
	}
}
