// Package solcast reads PV forecasts of Solcast rooftop sites. Split array
// installations use one site per array.
package solcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/convert"
	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/tidwall/gjson"
)

const (
	BASE_URL = "https://api.solcast.com.au/rooftop_sites/"
	Table    = "solcast"
)

type Options struct {
	ApiKey string
	// One site, or two for a split array
	ResourceIDs []string
	Hours       int
	Latitude    float64
	Longitude   float64
	// auto, late, early, 24h or minutes
	Interval string
	// API calls per day over all sites
	ApiCalls int
	BaseURL  string
}

type Provider struct {
	logger   *slog.Logger
	client   *httpclient.Client
	opts     Options
	mode     Mode
	minutes  int
	apiCalls int
	now      func() time.Time
}

func New(opts Options, client *httpclient.Client) (*Provider, error) {
	if len(opts.ResourceIDs) == 0 || len(opts.ResourceIDs) > 2 {
		return nil, fmt.Errorf("solcast needs one or two resource ids, got %d", len(opts.ResourceIDs))
	}
	mode, minutes, err := ParseInterval(opts.Interval)
	if err != nil {
		return nil, err
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BASE_URL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Hours <= 0 {
		opts.Hours = 168
	}
	if opts.ApiCalls <= 0 {
		opts.ApiCalls = 10
	}

	// each site consumes a call
	apiCalls := max(opts.ApiCalls/len(opts.ResourceIDs), 1)

	return &Provider{
		logger:   slog.Default().With(slog.String("module", "solcast")),
		client:   client,
		opts:     opts,
		mode:     mode,
		minutes:  minutes,
		apiCalls: apiCalls,
		now:      time.Now,
	}, nil
}

func (p *Provider) Name() string {
	return Table
}

// PreviewIssueTime lets the caller decide before spending an API call. The
// candidate is now; outside daylight nothing is fetched unless the whole
// day is planned.
func (p *Provider) PreviewIssueTime(now time.Time) (time.Time, bool) {
	if p.mode == Mode24h {
		return now, true
	}
	rise, set := pvmodel.SunriseSunset(now, p.opts.Latitude, p.opts.Longitude)
	return now, now.After(rise) && now.Before(set)
}

// MinInterval is the configured interval, or the planned one spreading the
// daily call budget over daylight.
func (p *Provider) MinInterval(now time.Time) int {
	if p.mode == ModeMinutes {
		return p.minutes
	}
	rise, set := pvmodel.SunriseSunset(now, p.opts.Latitude, p.opts.Longitude)
	return plan(p.mode, p.apiCalls, set.Sub(rise).Minutes(), now.Sub(rise).Minutes(), set.Sub(now).Minutes())
}

// Fetch reads all sites. Values are converted from kW to W; with two sites
// the sum is kept next to the per site fields (suffix 1 and 2).
func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	var parts []series.Part
	var period time.Duration
	for i, id := range p.opts.ResourceIDs {
		s, d, err := p.fetchSite(ctx, id)
		if err != nil {
			return series.TimeSeries{}, types.NewFetchError(Table, err)
		}
		if i == 0 {
			period = d
		}
		parts = append(parts, series.Part{Suffix: strconv.Itoa(i + 1), Series: s})
	}

	s := parts[0].Series
	if len(parts) > 1 {
		var err error
		if s, err = series.Combine(series.CombineBoth, nil, parts...); err != nil {
			return series.TimeSeries{}, types.NewFetchError(Table, err)
		}
	}
	if s.IsEmpty() {
		return series.TimeSeries{}, types.NewFetchError(Table, errors.New("no forecast periods"))
	}

	s = s.Scale(1000, s.Fields()...)
	issue := IssueTime(s.Time(0), period, p.now())
	return s.WithIssueTime(issue).WithExport(s.Fields()...), nil
}

func (p *Provider) fetchSite(ctx context.Context, id string) (series.TimeSeries, time.Duration, error) {
	u := fmt.Sprintf("%s%s/forecasts?format=json&hours=%d", p.opts.BaseURL, url.PathEscape(id), p.opts.Hours)
	p.logger.Info("fetching forecast from Solcast...", slog.String("site", id))

	body, err := p.client.Get(ctx, u, http.Header{"Authorization": {"Bearer " + p.opts.ApiKey}})
	if err != nil {
		return series.TimeSeries{}, 0, err
	}
	return Parse(body)
}

// IssueTime is the start of the first forecast period. A forecast read
// more than 8 minutes later is taken as the next quarter hour's issue.
func IssueTime(firstPeriodEnd time.Time, period time.Duration, now time.Time) time.Time {
	issue := firstPeriodEnd.Add(-period)
	if now.Sub(issue) > 8*time.Minute {
		issue = issue.Add(15 * time.Minute)
	}
	return issue
}

// Parse reads a forecasts response in kW and returns the period length.
func Parse(body []byte) (series.TimeSeries, time.Duration, error) {
	if !gjson.ValidBytes(body) {
		return series.TimeSeries{}, 0, errors.New("invalid json response")
	}

	b := series.NewBuilder(Table, time.Time{})
	var period time.Duration
	var err error

	gjson.GetBytes(body, "forecasts").ForEach(func(_, fc gjson.Result) bool {
		var end time.Time
		if end, err = series.ParseTime(fc.Get("period_end").String()); err != nil {
			return false
		}
		if period == 0 {
			if period, err = convert.ISODuration(fc.Get("period").String()); err != nil {
				return false
			}
		}
		fc.ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.Number {
				b.Set(end, series.NormalizeField(key.String()), value.Float())
			}
			return true
		})
		return true
	})
	if err != nil {
		return series.TimeSeries{}, 0, err
	}

	s, err := b.Build()
	return s, period, err
}
