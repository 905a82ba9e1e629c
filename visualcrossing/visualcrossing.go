// Package visualcrossing reads hourly forecasts of the VisualCrossing
// timeline API.
package visualcrossing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/icodeforyou/pvforecast/convert"
	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/tidwall/gjson"
)

const (
	BASE_URL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline/"
	Table    = "visualcrossing"
)

// GHI is reported at the hour; the period end is moved half an hour later
// so the value represents the surrounding hour.
const halfHour = 30 * time.Minute

type Options struct {
	Latitude    float64
	Longitude   float64
	ApiKey      string
	BaseURL     string
	DropWeather bool
}

type Provider struct {
	logger *slog.Logger
	client *httpclient.Client
	opts   Options
}

func New(opts Options, client *httpclient.Client) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = BASE_URL
	}
	return &Provider{
		logger: slog.Default().With(slog.String("module", "visualcrossing")),
		client: client,
		opts:   opts,
	}
}

func (p *Provider) Name() string {
	return Table
}

func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	location := strconv.FormatFloat(p.opts.Latitude, 'f', 4, 64) + "," + strconv.FormatFloat(p.opts.Longitude, 'f', 4, 64)
	q := url.Values{}
	q.Set("unitGroup", "metric")
	q.Set("include", "hours")
	q.Set("contentType", "json")
	p.logger.Info("fetching forecast from VisualCrossing...", slog.String("location", location))
	q.Set("key", p.opts.ApiKey)

	body, err := p.client.Get(ctx, p.opts.BaseURL+url.PathEscape(location)+"?"+q.Encode(), nil)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}

	s, err := Parse(body, p.opts.DropWeather)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}
	return s, nil
}

var known = map[string]bool{
	"temp": true, "dew": true, "windspeed": true, "pressure": true, "cloudcover": true,
	"solarradiation": true, "source": true, "datetime": true, "datetimeEpoch": true,
}

// Parse converts a metric timeline response. Only forecast hours are used,
// observed hours of the current day are skipped. The issue time is half an
// hour before the first forecast hour.
func Parse(body []byte, dropWeather bool) (series.TimeSeries, error) {
	if !gjson.ValidBytes(body) {
		return series.TimeSeries{}, fmt.Errorf("invalid json response")
	}

	b := series.NewBuilder(Table, time.Time{})
	var issue time.Time

	gjson.GetBytes(body, "days.#.hours").ForEach(func(_, hours gjson.Result) bool {
		hours.ForEach(func(_, hour gjson.Result) bool {
			if hour.Get("source").String() != "fcst" {
				return true
			}
			at := time.Unix(hour.Get("datetimeEpoch").Int(), 0)
			if issue.IsZero() {
				issue = at.Add(-halfHour)
			}
			t := at.Add(halfHour)

			b.Set(t, series.TempAir, convert.CelsiusToKelvin(hour.Get("temp").Float()))
			b.Set(t, series.TempDew, convert.CelsiusToKelvin(hour.Get("dew").Float()))
			b.Set(t, series.WindSpeed, hour.Get("windspeed").Float())
			b.Set(t, series.Pressure, convert.HPaToPa(hour.Get("pressure").Float()))
			b.Set(t, series.Clouds, hour.Get("cloudcover").Float())
			b.Set(t, series.GHI, hour.Get("solarradiation").Float())

			if !dropWeather {
				hour.ForEach(func(key, value gjson.Result) bool {
					if !known[key.String()] && value.Type == gjson.Number {
						b.Set(t, series.NormalizeField(key.String()), value.Float())
					}
					return true
				})
			}
			return true
		})
		return true
	})

	if issue.IsZero() {
		return series.TimeSeries{}, fmt.Errorf("response has no forecast hours")
	}
	return b.SetIssueTime(issue).Build()
}
