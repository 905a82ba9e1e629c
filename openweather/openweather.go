// Package openweather reads hourly forecasts of the OpenWeatherMap One Call
// API.
package openweather

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
	BASE_URL = "https://api.openweathermap.org/data/2.5/onecall"
	Table    = "owm"
)

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
		logger: slog.Default().With(slog.String("module", "openweather")),
		client: client,
		opts:   opts,
	}
}

func (p *Provider) Name() string {
	return Table
}

func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.opts.Latitude, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(p.opts.Longitude, 'f', 4, 64))
	q.Set("exclude", "minutely,daily,alerts")
	p.logger.Info("fetching forecast from OpenWeatherMap...", slog.String("query", q.Encode()))
	q.Set("appid", p.opts.ApiKey)

	body, err := p.client.Get(ctx, p.opts.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}

	s, err := Parse(body, p.opts.DropWeather)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}
	return s, nil
}

// Parse converts a One Call response. Temperatures are reported in Kelvin
// (standard units), pressure in hPa.
func Parse(body []byte, dropWeather bool) (series.TimeSeries, error) {
	if !gjson.ValidBytes(body) {
		return series.TimeSeries{}, fmt.Errorf("invalid json response")
	}
	doc := gjson.ParseBytes(body)

	current := doc.Get("current.dt")
	if !current.Exists() {
		return series.TimeSeries{}, fmt.Errorf("response has no current.dt")
	}
	b := series.NewBuilder(Table, time.Unix(current.Int(), 0))

	doc.Get("hourly").ForEach(func(_, hour gjson.Result) bool {
		t := time.Unix(hour.Get("dt").Int(), 0)
		b.Touch(t)
		hour.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if name == "dt" || value.Type != gjson.Number {
				return true
			}
			switch name {
			case "temp":
				b.Set(t, series.TempAir, value.Float())
			case "dew_point":
				b.Set(t, series.TempDew, value.Float())
			case "pressure":
				b.Set(t, series.Pressure, convert.HPaToPa(value.Float()))
			case "wind_speed":
				b.Set(t, series.WindSpeed, value.Float())
			case "clouds":
				b.Set(t, series.Clouds, value.Float())
			default:
				if !dropWeather {
					b.Set(t, series.NormalizeField(name), value.Float())
				}
			}
			return true
		})
		return true
	})

	if b.Len() == 0 {
		return series.TimeSeries{}, fmt.Errorf("response has no hourly forecast")
	}
	return b.Build()
}
