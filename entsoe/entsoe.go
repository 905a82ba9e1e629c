// Package entsoe reads load, generation and price data of a bidding zone
// from the ENTSO-E transparency platform and derives the carbon intensity
// of the generation mix together with a forecast of it.
package entsoe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
)

const (
	BASE_URL    = "https://web-api.tp.entsoe.eu/api"
	TablePrefix = "entsoe_"

	queryTimeFormat = "200601021504"
)

type Options struct {
	ApiKey  string
	Zone    string
	BaseURL string
	// Keep the raw report columns next to the derived fields
	KeepRaw bool
	// Days of history the co2 model is fitted on
	ModelDays int
	// electricityMaps zone file overriding the default emission factors
	EmissionFactorsFile string
}

type Provider struct {
	logger   *slog.Logger
	client   *httpclient.Client
	opts     Options
	eic      string
	priceEIC string
	factors  EmissionFactors
	history  types.HistorySource
	now      func() time.Time
}

// New creates the provider of one zone. history serves previously stored
// rows for the co2 model, it may be nil.
func New(opts Options, client *httpclient.Client, history types.HistorySource) (*Provider, error) {
	logger := slog.Default().With(slog.String("module", "entsoe"), slog.String("zone", opts.Zone))

	eic, err := EIC(opts.Zone)
	if err != nil {
		return nil, err
	}
	priceEIC, err := EIC(priceZone(opts.Zone))
	if err != nil {
		return nil, err
	}

	factors := DefaultEmissionFactors()
	if opts.EmissionFactorsFile != "" {
		if factors, err = LoadEmissionFactors(opts.EmissionFactorsFile); err != nil {
			logger.Warn("using default emission factors", slog.Any("error", err))
			factors = DefaultEmissionFactors()
		}
	}

	if opts.BaseURL == "" {
		opts.BaseURL = BASE_URL
	}
	if opts.ModelDays <= 0 {
		opts.ModelDays = 7
	}

	return &Provider{
		logger:   logger,
		client:   client,
		opts:     opts,
		eic:      eic,
		priceEIC: priceEIC,
		factors:  factors,
		history:  history,
		now:      time.Now,
	}, nil
}

func (p *Provider) Name() string {
	return TablePrefix + p.opts.Zone
}

// Fetch reads all reports from yesterday until the end of tomorrow. A
// report without data is skipped, an unavailable service aborts the fetch.
func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	now := p.now().UTC()
	start := now.Add(-24 * time.Hour).Round(15 * time.Minute)
	end := midnight(now).Add(48 * time.Hour)

	got := make(map[string]series.TimeSeries)
	for _, r := range reports {
		p.logger.Info("fetching report from ENTSO-E...", slog.String("report", r.name))
		s, err := p.fetchReport(ctx, r, start, end)
		switch {
		case err == nil:
			got[r.name] = s
		case unavailable(err):
			return series.TimeSeries{}, types.NewFetchError(p.Name(), fmt.Errorf("service unavailable, aborted: %w", err))
		default:
			p.logger.Warn("report skipped", slog.String("report", r.name), slog.Any("error", err))
		}
	}

	a := assembler{
		logger:  p.logger,
		table:   p.Name(),
		factors: p.factors,
		model:   p.model(ctx, now),
		keepRaw: p.opts.KeepRaw,
	}
	s, err := a.assemble(got, now.Round(time.Second))
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(p.Name(), err)
	}
	return s, nil
}

func (p *Provider) fetchReport(ctx context.Context, r report, start, end time.Time) (series.TimeSeries, error) {
	q := r.query(p.eic, p.priceEIC)
	q.Set("periodStart", start.Format(queryTimeFormat))
	q.Set("periodEnd", end.Format(queryTimeFormat))
	q.Set("securityToken", p.opts.ApiKey)

	body, err := p.client.Get(ctx, p.opts.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return series.TimeSeries{}, err
	}
	return reportSeries(r, body)
}

// model fits the co2 model on the stored history before today, the
// identity model when there is not enough of it.
func (p *Provider) model(ctx context.Context, now time.Time) Model {
	if p.history == nil {
		p.logger.Warn("co2 model needs stored history, using identity model")
		return IdentityModel()
	}
	today := midnight(now)
	history := p.history.History(ctx, p.Name(), today.AddDate(0, 0, -p.opts.ModelDays))
	m, ok := FitModel(history, today)
	if !ok {
		p.logger.Info("insufficient history for the co2 model, using identity model", slog.Int("rows", history.Len()))
		return m
	}
	p.logger.Info("co2 model regenerated",
		slog.Float64("r2", m.R2),
		slog.Float64("slope", m.Slope),
		slog.Float64("intercept", m.Intercept),
		slog.Int("rows", m.Rows))
	return m
}

func unavailable(err error) bool {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound || se.Code == http.StatusServiceUnavailable
	}
	return errors.Is(err, httpclient.ErrServerError) || errors.Is(err, httpclient.ErrCircuitOpen)
}

func midnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
