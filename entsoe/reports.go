package entsoe

import (
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/series"
)

const (
	reportLoad          = "load"
	reportGenForecast   = "gen_forecast"
	reportRenewDayAhead = "renew_day_ahead"
	reportRenewIntraday = "renew_intraday"
	reportGenActual     = "gen_actual"
	reportPrices        = "prices"

	consumptionPrefix = "consumption_"
)

type report struct {
	name   string
	query  func(eic, priceEIC string) url.Values
	column columnFunc
}

func areaQuery(domain, documentType, processType string) func(eic, priceEIC string) url.Values {
	return func(eic, _ string) url.Values {
		return url.Values{
			"documentType": {documentType},
			"processType":  {processType},
			domain:         {eic},
		}
	}
}

// generation keeps aggregated values and marks consumption series of
// storage and pumped hydro.
func generation(prefix string) columnFunc {
	return func(ts timeSeries) string {
		name := prefix + "_" + psrName(ts.PSRType)
		if ts.InDomain == "" && ts.OutDomain != "" {
			return consumptionPrefix + name
		}
		return name
	}
}

var reports = []report{
	{
		name:   reportLoad,
		query:  areaQuery("outBiddingZone_Domain", "A65", "A01"),
		column: func(timeSeries) string { return "load_forecasted_load" },
	},
	{
		name:  reportGenForecast,
		query: areaQuery("in_Domain", "A71", "A01"),
		column: func(ts timeSeries) string {
			if ts.InDomain == "" && ts.OutDomain != "" {
				return ""
			}
			return "gen_forecast_total"
		},
	},
	{
		name:   reportRenewDayAhead,
		query:  areaQuery("in_Domain", "A69", "A01"),
		column: generation(reportRenewDayAhead),
	},
	{
		name:   reportRenewIntraday,
		query:  areaQuery("in_Domain", "A69", "A40"),
		column: generation(reportRenewIntraday),
	},
	{
		name:   reportGenActual,
		query:  areaQuery("in_Domain", "A75", "A16"),
		column: generation(reportGenActual),
	},
	{
		name: reportPrices,
		query: func(_, priceEIC string) url.Values {
			return url.Values{
				"documentType": {"A44"},
				"in_Domain":    {priceEIC},
				"out_Domain":   {priceEIC},
			}
		},
		column: func(timeSeries) string { return "prices_price" },
	},
}

// reportSeries converts a document into a series indexed by period start.
// Actual generation is gap filled: a production type that only reports
// consumption generated nothing.
func reportSeries(r report, data []byte) (series.TimeSeries, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return series.TimeSeries{}, err
	}
	values, err := doc.values(r.column)
	if err != nil {
		return series.TimeSeries{}, err
	}

	b := series.NewBuilder(r.name, time.Time{})
	for name, col := range values {
		if strings.HasPrefix(name, consumptionPrefix) {
			continue
		}
		for t, v := range col {
			b.Set(t, series.Field(name), v)
		}
	}
	for name, cons := range values {
		gen, ok := strings.CutPrefix(name, consumptionPrefix)
		if !ok {
			continue
		}
		for t := range cons {
			if _, ok := values[gen][t]; !ok {
				b.Set(t, series.Field(gen), 0)
			}
		}
	}
	s, err := b.Build()
	if err != nil {
		return series.TimeSeries{}, err
	}
	if r.name != reportGenActual {
		return s, nil
	}

	for _, f := range s.Fields() {
		filled := fillForward(s.Column(f), -1, s.Len())
		fillBackward(filled)
		if s, err = s.WithColumn(f, filled); err != nil {
			return series.TimeSeries{}, err
		}
	}
	return s, nil
}

// fillForward repeats the last valid value into at most limit following
// NaNs (no limit when negative) before index end.
func fillForward(values []float64, limit, end int) []float64 {
	out := append([]float64(nil), values...)
	run := 0
	prev, have := 0.0, false
	for i := 0; i < end && i < len(out); i++ {
		if !math.IsNaN(out[i]) {
			prev, have, run = out[i], true, 0
			continue
		}
		run++
		if have && (limit < 0 || run <= limit) {
			out[i] = prev
		}
	}
	return out
}

// fillBackward sets leading NaNs to the first valid value.
func fillBackward(values []float64) {
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		for j := 0; j < i; j++ {
			values[j] = v
		}
		return
	}
}

// interpolate fills at most limit NaNs of each gap between two valid values
// linearly. Leading and trailing NaNs stay.
func interpolate(values []float64, limit int) []float64 {
	out := append([]float64(nil), values...)
	prev := -1
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			gap := i - prev
			for k := 1; k < gap && k <= limit; k++ {
				out[prev+k] = out[prev] + (v-out[prev])*float64(k)/float64(gap)
			}
		}
		prev = i
	}
	return out
}

func lastValid(values []float64) int {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return i
		}
	}
	return -1
}
