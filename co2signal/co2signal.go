// Package co2signal reads the latest carbon intensity of a grid zone from
// electricityMaps' CO2signal API.
package co2signal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/tidwall/gjson"
)

const (
	BASE_URL    = "https://api.co2signal.com/v1/latest"
	TablePrefix = "co2signal_"
)

type Options struct {
	ApiKey  string
	Zone    string
	BaseURL string
}

// Provider reads a single zone. Configure one provider per zone.
type Provider struct {
	logger *slog.Logger
	client *httpclient.Client
	opts   Options
	now    func() time.Time
}

func New(opts Options, client *httpclient.Client) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = BASE_URL
	}
	return &Provider{
		logger: slog.Default().With(slog.String("module", "co2signal"), slog.String("zone", opts.Zone)),
		client: client,
		opts:   opts,
		now:    time.Now,
	}
}

func (p *Provider) Name() string {
	return TablePrefix + p.opts.Zone
}

// Fetch reads the latest reading. The API has no issue time, so the time
// of the call (rounded to the second) is used.
func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	p.logger.Info("fetching latest reading from CO2signal...")

	u := p.opts.BaseURL + "?" + url.Values{"countryCode": {p.opts.Zone}}.Encode()
	body, err := p.client.Get(ctx, u, http.Header{"auth-token": {p.opts.ApiKey}})
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(p.Name(), err)
	}

	s, err := Parse(body, p.Name(), p.now().Round(time.Second))
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(p.Name(), err)
	}
	return s, nil
}

// Parse reads a latest response. data.datetime is the period end, every
// numeric member of data becomes an exported field.
func Parse(body []byte, table string, issue time.Time) (series.TimeSeries, error) {
	if !gjson.ValidBytes(body) {
		return series.TimeSeries{}, errors.New("invalid json response")
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = "response has no data"
		}
		return series.TimeSeries{}, errors.New(strings.ToLower(msg))
	}

	end, err := series.ParseTime(data.Get("datetime").String())
	if err != nil {
		return series.TimeSeries{}, err
	}

	b := series.NewBuilder(table, issue)
	var export []series.Field
	data.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			f := series.NormalizeField(key.String())
			b.Set(end, f, value.Float())
			export = append(export, f)
		}
		return true
	})
	if len(export) == 0 {
		return series.TimeSeries{}, errors.New("response has no numeric values")
	}
	return b.Export(export...).Build()
}
