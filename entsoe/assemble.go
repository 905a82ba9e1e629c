package entsoe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/series"
)

const (
	FieldCO2                  series.Field = "co2"
	FieldCO2Forecast          series.Field = "co2_forecast"
	FieldPrice                series.Field = "price"
	FieldForecastedLoad       series.Field = "forecasted_load"
	FieldPctGeneratedDayAhead series.Field = "pct_generated_day_ahead"
	FieldPctLoadDayAhead      series.Field = "pct_load_day_ahead"
	FieldPctGeneratedIntraday series.Field = "pct_generated_intraday"
	FieldPctLoadIntraday      series.Field = "pct_load_intraday"

	rawLoad        series.Field = "load_forecasted_load"
	rawGenForecast series.Field = "gen_forecast_total"
	rawPrice       series.Field = "prices_price"
)

// Gaps of up to this many periods are filled, e.g. hourly values on a
// quarter hour index.
const fillLimit = 3

// An intraday forecast with more zero periods than this share of its last
// day (where the day-ahead forecast is not zero) is incomplete.
const incompleteShare = 0.3

type assembler struct {
	logger  *slog.Logger
	table   string
	factors EmissionFactors
	model   Model
	keepRaw bool
}

// assemble joins the reports (indexed by period start) into one series
// indexed by period end and derives co2, the pct fields and co2_forecast.
func (a assembler) assemble(got map[string]series.TimeSeries, issue time.Time) (series.TimeSeries, error) {
	a.checkIntraday(got)

	var merged series.TimeSeries
	var earliest time.Time
	have := false
	for _, r := range reports {
		s, ok := got[r.name]
		if !ok || s.IsEmpty() {
			continue
		}
		if s.Time(0).After(earliest) {
			earliest = s.Time(0)
		}
		if !have {
			merged, have = s, true
			continue
		}
		var err error
		if merged, err = series.Merge(merged, s, series.JoinOuter); err != nil {
			return series.TimeSeries{}, err
		}
	}
	if !have {
		return series.TimeSeries{}, errors.New("no report available")
	}

	merged = merged.Since(earliest)
	if merged.Len() < 2 {
		return series.TimeSeries{}, fmt.Errorf("%d periods are not enough", merged.Len())
	}
	delta := merged.Time(1).Sub(merged.Time(0))

	raw := make(map[series.Field][]float64)
	for _, f := range merged.Fields() {
		if f == rawPrice {
			col := merged.Column(f)
			raw[f] = fillForward(col, fillLimit, lastValid(col)+1)
		} else {
			raw[f] = interpolate(merged.Column(f), fillLimit)
		}
	}

	calc := a.calculate(raw, merged.Len())
	if pct, ok := a.bestPct(calc, merged.Times()); ok {
		forecast := make([]float64, len(pct))
		for i, v := range pct {
			forecast[i] = a.model.Predict(v)
		}
		calc[FieldCO2Forecast] = forecast
	}

	columns := calc
	if a.keepRaw {
		for f, col := range raw {
			columns[f] = col
		}
	} else {
		if col, ok := raw[rawPrice]; ok {
			columns[FieldPrice] = col
		}
		if col, ok := raw[rawLoad]; ok {
			columns[FieldForecastedLoad] = col
		}
		if len(columns) == 0 {
			return series.TimeSeries{}, errors.New("no essential columns to keep")
		}
	}

	index := make([]time.Time, merged.Len())
	for i, t := range merged.Times() {
		index[i] = t.Add(delta)
	}
	export := make([]series.Field, 0, len(columns))
	for f := range columns {
		export = append(export, f)
	}
	slices.Sort(export)
	return series.New(a.table, issue, index, columns, export)
}

// checkIntraday drops renewable forecasts that cannot be compared: both
// when their production types differ, the intraday one when it looks
// incomplete.
func (a assembler) checkIntraday(got map[string]series.TimeSeries) {
	dayAhead, okDA := got[reportRenewDayAhead]
	intraday, okID := got[reportRenewIntraday]
	if !okDA || !okID {
		return
	}

	psrTypes := func(s series.TimeSeries, report string) []string {
		var names []string
		for _, f := range s.Fields() {
			names = append(names, strings.TrimPrefix(string(f), report+"_"))
		}
		return names
	}
	if !slices.Equal(psrTypes(dayAhead, reportRenewDayAhead), psrTypes(intraday, reportRenewIntraday)) {
		a.logger.Warn("missing or incomplete renewable energy forecast, dropped")
		delete(got, reportRenewDayAhead)
		delete(got, reportRenewIntraday)
		return
	}

	if intraday.IsEmpty() {
		return
	}
	lastDay := day(intraday.Time(intraday.Len() - 1))
	for _, name := range psrTypes(intraday, reportRenewIntraday) {
		idField := series.Field(reportRenewIntraday + "_" + name)
		daField := series.Field(reportRenewDayAhead + "_" + name)
		var total, zeros int
		for i := 0; i < intraday.Len(); i++ {
			t := intraday.Time(i)
			if !day(t).Equal(lastDay) {
				continue
			}
			total++
			j := dayAhead.IndexOf(t)
			if intraday.Value(i, idField) == 0 && j >= 0 && dayAhead.Value(j, daField) > 0 {
				zeros++
			}
		}
		if total > 0 && float64(zeros)/float64(total) > incompleteShare {
			a.logger.Warn("incomplete intraday renewable forecast, dropped", slog.String("type", name))
			delete(got, reportRenewIntraday)
			return
		}
	}
}

func day(t time.Time) time.Time {
	y, m, d := t.In(brussels).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, brussels)
}

// calculate derives the carbon intensity of the actual generation and the
// share of non renewable generation and load.
func (a assembler) calculate(raw map[series.Field][]float64, n int) map[series.Field][]float64 {
	calc := make(map[series.Field][]float64)
	prefixed := func(prefix string) []series.Field {
		var fields []series.Field
		for f := range raw {
			if f.HasPrefix(prefix + "_") {
				fields = append(fields, f)
			}
		}
		slices.Sort(fields)
		return fields
	}
	sum := func(fields []series.Field, i int, weight func(series.Field) float64) float64 {
		var s float64
		for _, f := range fields {
			s += raw[f][i] * weight(f)
		}
		return s
	}
	one := func(series.Field) float64 { return 1 }

	if gen := prefixed(reportGenActual); len(gen) > 0 {
		factor := func(f series.Field) float64 {
			return a.factors.forType(strings.TrimPrefix(string(f), reportGenActual+"_"))
		}
		co2 := make([]float64, n)
		for i := range co2 {
			co2[i] = sum(gen, i, factor) / sum(gen, i, one)
		}
		calc[FieldCO2] = co2
	} else {
		a.logger.Warn("no actual generation, co2 not calculated")
	}

	share := func(renew []series.Field, total series.Field, into series.Field) {
		denom, ok := raw[total]
		if len(renew) == 0 || !ok {
			return
		}
		pct := make([]float64, n)
		for i := range pct {
			pct[i] = 1 - sum(renew, i, one)/denom[i]
		}
		calc[into] = pct
	}
	dayAhead := prefixed(reportRenewDayAhead)
	intraday := prefixed(reportRenewIntraday)
	share(dayAhead, rawGenForecast, FieldPctGeneratedDayAhead)
	share(dayAhead, rawLoad, FieldPctLoadDayAhead)
	share(intraday, rawGenForecast, FieldPctGeneratedIntraday)
	share(intraday, rawLoad, FieldPctLoadIntraday)
	return calc
}

// bestPct is the pct generated estimate per period start.
func (a assembler) bestPct(calc map[series.Field][]float64, starts []time.Time) ([]float64, bool) {
	dayAhead, okDA := calc[FieldPctGeneratedDayAhead]
	intraday, okID := calc[FieldPctGeneratedIntraday]
	if !okDA && !okID {
		return nil, false
	}
	nan := make([]float64, len(starts))
	for i := range nan {
		nan[i] = math.NaN()
	}
	if !okDA {
		dayAhead = nan
	}
	if !okID {
		intraday = nan
	}

	pct := make([]float64, len(starts))
	for i, t := range starts {
		pct[i] = best(dayAhead[i], intraday[i], t, true)
	}
	return pct, true
}
