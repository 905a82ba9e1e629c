// Package pvmodel simulates PV output from weather forecasts: irradiance
// models, plane of array transposition, SAPM cell temperature and PVWatts
// DC/AC conversion.
package pvmodel

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/icodeforyou/pvforecast/convert"
	"github.com/icodeforyou/pvforecast/series"
)

type Model string

const (
	ModelDisc            Model = "disc"
	ModelErbs            Model = "erbs"
	ModelClearskyScaling Model = "clearsky_scaling"
	ModelCampbellNorman  Model = "campbell_norman"
	ModelClearsky        Model = "clearsky"
)

var AllModels = []Model{ModelDisc, ModelErbs, ModelClearskyScaling, ModelCampbellNorman, ModelClearsky}

// ParseModels reads "all" or a comma separated list of models.
func ParseModels(s string) ([]Model, error) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if s == "" || s == "all" {
		return slices.Clone(AllModels), nil
	}
	var models []Model
	for _, name := range strings.Split(s, ",") {
		m := Model(name)
		if !slices.Contains(AllModels, m) {
			return nil, fmt.Errorf("unknown irradiance model %q", name)
		}
		if !slices.Contains(models, m) {
			models = append(models, m)
		}
	}
	return models, nil
}

func (m Model) needsGHI() bool {
	return m == ModelDisc || m == ModelErbs
}

func (m Model) needsClouds() bool {
	return m == ModelClearskyScaling || m == ModelCampbellNorman
}

// GHI is an input of the decomposition models, only the other models
// report their own.
func (m Model) derivesGHI() bool {
	return !m.needsGHI()
}

// Array is one fully resolved PV array.
type Array struct {
	Suffix            string
	Latitude          float64
	Longitude         float64
	Altitude          float64
	Tilt              float64
	Azimuth           float64
	SystemPower       float64 // W, DC nameplate
	InverterPower     float64 // W, inverter DC rating
	NominalEfficiency float64
	TemperatureCoeff  float64 // 1/°C
	Temperature       TemperatureModel
	Albedo            float64
}

// DefaultArray carries the PVWatts defaults.
func DefaultArray() Array {
	return Array{
		NominalEfficiency: 0.96,
		TemperatureCoeff:  -0.005,
		Temperature:       temperatureModels["open_rack_glass_glass"],
		Albedo:            0.25,
	}
}

const Table = "pvmodel"

type Simulator struct {
	logger  *slog.Logger
	arrays  []Array
	models  []Model
	storage series.CombineMode
}

// NewSimulator for one or more arrays. Split arrays are combined by
// storage; detail fields are suffixed by the array suffix (default its
// position, starting at 1).
func NewSimulator(arrays []Array, models []Model, storage series.CombineMode) (*Simulator, error) {
	if len(arrays) == 0 {
		return nil, errors.New("no PV array configured")
	}
	if len(models) == 0 {
		models = slices.Clone(AllModels)
	}
	if _, err := series.ParseCombineMode(string(storage)); err != nil {
		return nil, err
	}

	arrays = slices.Clone(arrays)
	for i := range arrays {
		if arrays[i].Suffix == "" {
			arrays[i].Suffix = strconv.Itoa(i + 1)
		}
		if arrays[i].SystemPower <= 0 || arrays[i].InverterPower <= 0 {
			return nil, fmt.Errorf("array %s: system and inverter power must be positive", arrays[i].Suffix)
		}
	}

	return &Simulator{
		logger:  slog.Default().With(slog.String("module", "pvmodel")),
		arrays:  arrays,
		models:  models,
		storage: storage,
	}, nil
}

// Run simulates all arrays on weather. The result holds dc_<m>, ac_<m>,
// dni_<m>, dhi_<m>, kt_<m> (disc, erbs) and ghi_<m> (cloud and clear sky
// models) per irradiance model plus zenith; all dc fields are exported.
func (s *Simulator) Run(weather series.TimeSeries) (series.TimeSeries, error) {
	if !weather.Has(series.TempAir) {
		return series.TimeSeries{}, fmt.Errorf("weather has no %s", series.TempAir)
	}

	var models []Model
	for _, m := range s.models {
		switch {
		case m.needsGHI() && !weather.Has(series.GHI):
			s.logger.Debug("no ghi in weather, model skipped", slog.String("model", string(m)))
		case m.needsClouds() && !weather.Has(series.Clouds):
			s.logger.Debug("no clouds in weather, model skipped", slog.String("model", string(m)))
		default:
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return series.TimeSeries{}, fmt.Errorf("no irradiance model applicable to %s", weather.Name())
	}

	parts := make([]series.Part, len(s.arrays))
	for i, a := range s.arrays {
		out, err := s.runArray(weather, a, models)
		if err != nil {
			return series.TimeSeries{}, fmt.Errorf("array %s: %w", a.Suffix, err)
		}
		parts[i] = series.Part{Suffix: a.Suffix, Series: out}
	}

	if len(parts) == 1 {
		return parts[0].Series, nil
	}
	return series.Combine(s.storage, isPower, parts...)
}

func isPower(f series.Field) bool {
	return f.HasPrefix("dc_") || f.HasPrefix("ac_")
}

func (s *Simulator) runArray(weather series.TimeSeries, a Array, models []Model) (series.TimeSeries, error) {
	b := series.NewBuilder(Table, weather.IssueTime())
	var export []series.Field

	for i := 0; i < weather.Len(); i++ {
		t := weather.Time(i)
		tempC := convert.KelvinToCelsius(weather.Value(i, series.TempAir))
		wind := weather.Value(i, series.WindSpeed)
		if math.IsNaN(wind) {
			wind = 0
		}
		pressure := weather.Value(i, series.Pressure)
		if math.IsNaN(pressure) {
			pressure = AltitudeToPressure(a.Altitude)
		}

		pos := Position(t, a.Latitude, a.Longitude, pressure, tempC)
		var cs *Irradiance
		clearsky := func() Irradiance {
			if cs == nil {
				irr := SimplifiedSolis(pos.Elevation(), pressure, ExtraRadiation(t, 1366.1))
				cs = &irr
			}
			return *cs
		}

		for _, m := range models {
			var irr Irradiance
			switch m {
			case ModelDisc:
				irr = Disc(weather.Value(i, series.GHI), pos.ApparentZenith, t, pressure)
			case ModelErbs:
				irr = Erbs(weather.Value(i, series.GHI), pos.ApparentZenith, t)
			case ModelClearsky:
				irr = clearsky()
			case ModelClearskyScaling:
				irr = ClearskyScaling(weather.Value(i, series.Clouds), clearsky(), pos.ApparentZenith, t, pressure)
			case ModelCampbellNorman:
				irr = CampbellNorman(weather.Value(i, series.Clouds), pos.ApparentZenith, pressure)
			}

			poa := Transpose(irr, pos, a.Tilt, a.Azimuth, a.Albedo)
			cell := a.Temperature.CellTemperature(poa.Global, tempC, wind)
			dc := DCPower(poa.Effective, cell, a.SystemPower, a.TemperatureCoeff)
			ac := ACPower(dc, a.InverterPower, a.NominalEfficiency)

			name := series.Field(m)
			b.Set(t, "dc_"+name, dc)
			b.Set(t, "ac_"+name, ac)
			b.Set(t, "dni_"+name, irr.DNI)
			b.Set(t, "dhi_"+name, irr.DHI)
			if m.needsGHI() {
				b.Set(t, "kt_"+name, irr.Kt)
			}
			if m.derivesGHI() {
				b.Set(t, "ghi_"+name, irr.GHI)
			}
		}
		b.Set(t, series.Zenith, pos.Zenith)
	}

	for _, m := range models {
		export = append(export, "dc_"+series.Field(m))
	}
	return b.Export(export...).Build()
}
