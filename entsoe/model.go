package entsoe

import (
	"math"
	"time"
	_ "time/tzdata"

	"github.com/icodeforyou/pvforecast/series"
)

// Intraday forecasts are preferred once they are published, from 08:00
// Brussels time.
const intradayHour = 8

// A model is only fitted from more rows than this.
const minModelRows = 100

var brussels = loadBrussels()

func loadBrussels() *time.Location {
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

// Model predicts the carbon intensity from the share of non renewable
// generation: co2 = slope * pct + intercept.
type Model struct {
	Slope     float64
	Intercept float64
	R2        float64
	Rows      int
}

// IdentityModel is used until enough history is stored.
func IdentityModel() Model {
	return Model{Slope: 1}
}

func (m Model) Predict(pct float64) float64 {
	return pct*m.Slope + m.Intercept
}

// best picks the intraday share when it is published for the period,
// otherwise the day-ahead share. With fallback set the intraday share is
// also used when no day-ahead share exists.
func best(dayAhead, intraday float64, periodStart time.Time, fallback bool) float64 {
	if !math.IsNaN(intraday) && periodStart.In(brussels).Hour() >= intradayHour {
		return intraday
	}
	if fallback && math.IsNaN(dayAhead) {
		return intraday
	}
	return dayAhead
}

// FitModel regresses co2 on the best pct generated estimate of the history
// rows before the given time. ok is false when the history is too short.
func FitModel(history series.TimeSeries, before time.Time) (Model, bool) {
	if history.Len() <= minModelRows || !history.Has(FieldPctGeneratedDayAhead) || !history.Has(FieldCO2) {
		return IdentityModel(), false
	}
	delta := history.Time(1).Sub(history.Time(0))

	var x, y []float64
	for i := 0; i < history.Len(); i++ {
		end := history.Time(i)
		if !end.Before(before) {
			break
		}
		pct := best(history.Value(i, FieldPctGeneratedDayAhead), history.Value(i, FieldPctGeneratedIntraday), end.Add(-delta), false)
		co2 := history.Value(i, FieldCO2)
		if math.IsNaN(pct) || math.IsNaN(co2) {
			continue
		}
		x = append(x, pct)
		y = append(y, co2)
	}
	if len(x) <= minModelRows {
		return IdentityModel(), false
	}

	m, ok := linearRegression(x, y)
	if !ok {
		return IdentityModel(), false
	}
	return m, true
}

func linearRegression(x, y []float64) (Model, bool) {
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n

	var sxx, sxy, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return Model{}, false
	}

	m := Model{Slope: sxy / sxx, Rows: len(x)}
	m.Intercept = my - m.Slope*mx
	if syy > 0 {
		m.R2 = sxy * sxy / (sxx * syy)
	}
	return m, true
}
