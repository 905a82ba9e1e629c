// Package smhi reads point forecasts of the Swedish Meteorological and
// Hydrological Institute.
package smhi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/icodeforyou/pvforecast/convert"
	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
)

type Options struct {
	Latitude    float64
	Longitude   float64
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
		logger: slog.Default().With(slog.String("module", "smhi")),
		client: client,
		opts:   opts,
	}
}

func (p *Provider) Name() string {
	return Table
}

func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	url := fmt.Sprintf(
		"%s/api/category/pmp3g/version/2/geotype/point/lon/%0.4f/lat/%0.4f/data.json",
		p.opts.BaseURL, p.opts.Longitude, p.opts.Latitude)

	p.logger.Info("fetching forecast from SMHI...", slog.String("url", url))

	body, err := p.client.Get(ctx, url, nil)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}

	s, err := Parse(body, p.opts.DropWeather)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}
	return s, nil
}

// Parse converts a pmp3g point forecast. The issue time is the approved
// time of the forecast, or its reference time when not approved.
func Parse(body []byte, dropWeather bool) (series.TimeSeries, error) {
	var smhi smhi
	if err := json.Unmarshal(body, &smhi); err != nil {
		return series.TimeSeries{}, fmt.Errorf("error unmarshaling SMHI json: %v", err)
	}
	if len(smhi.TimeSeries) == 0 {
		return series.TimeSeries{}, fmt.Errorf("SMHI forecast has no time series")
	}

	issue := smhi.ApprovedTime
	if issue.IsZero() {
		issue = smhi.ReferenceTime
	}

	b := series.NewBuilder(Table, issue)
	for _, entry := range smhi.TimeSeries {
		t := entry.ValidTime
		for _, param := range entry.Parameters {
			if len(param.Values) == 0 {
				continue
			}
			v := param.Values[0]
			switch param.Name {
			case "t":
				b.Set(t, series.TempAir, convert.CelsiusToKelvin(v))
			case "msl":
				b.Set(t, series.Pressure, convert.HPaToPa(v))
			case "ws":
				b.Set(t, series.WindSpeed, v)
			case "tcc_mean":
				b.Set(t, series.Clouds, convert.OctasToPercentage(v))
			case "pmean":
				b.Set(t, series.Precipitation, v)
			default:
				if !dropWeather {
					b.Set(t, series.NormalizeField(param.Name), v)
				}
			}
		}
	}

	return b.Build()
}
