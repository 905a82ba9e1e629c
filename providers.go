package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/icodeforyou/pvforecast/co2signal"
	"github.com/icodeforyou/pvforecast/config"
	"github.com/icodeforyou/pvforecast/csvinput"
	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/dwd"
	"github.com/icodeforyou/pvforecast/entsoe"
	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/influx"
	"github.com/icodeforyou/pvforecast/openweather"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/smhi"
	"github.com/icodeforyou/pvforecast/solcast"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/task"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/icodeforyou/pvforecast/visualcrossing"
)

// backends are the enabled repositories, nil when disabled.
type backends struct {
	db     *database.Database
	influx *influx.Repository
}

// all returns every enabled backend.
func (b backends) all() storage.Repositories {
	var repos storage.Repositories
	if b.db != nil {
		repos = append(repos, b.db)
	}
	if b.influx != nil {
		repos = append(repos, b.influx)
	}
	return repos
}

func (b backends) forProvider(c config.ProviderCommon) storage.Repositories {
	var repos storage.Repositories
	if c.GetStoreDB() && b.db != nil {
		repos = append(repos, b.db)
	}
	if c.StoreInflux && b.influx != nil {
		repos = append(repos, b.influx)
	}
	return repos
}

var errNoLocation = errors.New("pv_system latitude and longitude are required")

// buildJobs creates one job per enabled and valid provider, in a fixed
// order. Invalid providers are logged and left out.
func buildJobs(logger *slog.Logger, cnfg *config.AppConfig, b backends) []task.Job {
	invalid := cnfg.Validate()
	httpCnfg := cnfg.Http.ClientConfig()
	lat, lon, hasLocation := location(cnfg.PVSystem)

	var jobs []task.Job
	add := func(key string, c config.ProviderCommon, build func() ([]types.Provider, error)) {
		if !c.Enabled {
			return
		}
		if err, ok := invalid[key]; ok {
			logger.Error("provider not scheduled", slog.String("provider", key), slog.Any("error", err))
			return
		}
		providers, err := build()
		if err != nil {
			logger.Error("provider not scheduled",
				slog.String("provider", key),
				slog.Any("error", &types.ConfigurationError{Provider: key, Err: err}))
			return
		}
		for _, p := range providers {
			jobs = append(jobs, task.Job{
				Provider:     p,
				Interval:     c.Interval,
				Force:        c.Force,
				Simulate:     c.Irradiance,
				StoreCSV:     c.StoreCSV,
				Repositories: b.forProvider(c),
				RunAt:        c.GetRunAt(),
			})
		}
	}
	needsLocation := func(build func() ([]types.Provider, error)) func() ([]types.Provider, error) {
		return func() ([]types.Provider, error) {
			if !hasLocation {
				return nil, errNoLocation
			}
			return build()
		}
	}

	add("dwd", cnfg.DWD.ProviderCommon, func() ([]types.Provider, error) {
		return []types.Provider{dwd.New(dwd.Options{
			Station:     cnfg.DWD.Station,
			DropWeather: cnfg.DWD.DropWeather,
			StoreKML:    cnfg.DWD.StoreKML,
			StorePath:   cnfg.GetStorePath(),
		}, httpclient.New(dwd.Table, httpCnfg))}, nil
	})

	add("openweather", cnfg.OpenWeather.ProviderCommon, needsLocation(func() ([]types.Provider, error) {
		return []types.Provider{openweather.New(openweather.Options{
			Latitude:    lat,
			Longitude:   lon,
			ApiKey:      cnfg.OpenWeather.ApiKey,
			DropWeather: cnfg.OpenWeather.DropWeather,
		}, httpclient.New(openweather.Table, httpCnfg))}, nil
	}))

	add("visualcrossing", cnfg.VisualCrossing.ProviderCommon, needsLocation(func() ([]types.Provider, error) {
		return []types.Provider{visualcrossing.New(visualcrossing.Options{
			Latitude:    lat,
			Longitude:   lon,
			ApiKey:      cnfg.VisualCrossing.ApiKey,
			DropWeather: cnfg.VisualCrossing.DropWeather,
		}, httpclient.New(visualcrossing.Table, httpCnfg))}, nil
	}))

	add("smhi", cnfg.SMHI.ProviderCommon, needsLocation(func() ([]types.Provider, error) {
		return []types.Provider{smhi.New(smhi.Options{
			Latitude:    lat,
			Longitude:   lon,
			DropWeather: cnfg.SMHI.DropWeather,
		}, httpclient.New(smhi.Table, httpCnfg))}, nil
	}))

	add("solcast", cnfg.Solcast.ProviderCommon, needsLocation(func() ([]types.Provider, error) {
		p, err := solcast.New(solcast.Options{
			ApiKey:      cnfg.Solcast.ApiKey,
			ResourceIDs: cnfg.Solcast.ResourceIDs,
			Hours:       cnfg.Solcast.Hours,
			Latitude:    lat,
			Longitude:   lon,
			Interval:    cnfg.Solcast.SolcastInterval(),
			ApiCalls:    cnfg.Solcast.ApiCalls,
		}, httpclient.New(solcast.Table, httpCnfg))
		if err != nil {
			return nil, err
		}
		return []types.Provider{p}, nil
	}))

	add("co2signal", cnfg.CO2Signal.ProviderCommon, func() ([]types.Provider, error) {
		var providers []types.Provider
		for _, zone := range cnfg.CO2Signal.Zones {
			providers = append(providers, co2signal.New(co2signal.Options{
				ApiKey: cnfg.CO2Signal.ApiKey,
				Zone:   zone,
			}, httpclient.New(co2signal.TablePrefix+zone, httpCnfg)))
		}
		return providers, nil
	})

	add("entsoe", cnfg.Entsoe.ProviderCommon, func() ([]types.Provider, error) {
		history := b.forProvider(cnfg.Entsoe.ProviderCommon)
		var providers []types.Provider
		for _, zone := range cnfg.Entsoe.Zones {
			p, err := entsoe.New(entsoe.Options{
				ApiKey:              cnfg.Entsoe.ApiKey,
				Zone:                zone,
				KeepRaw:             cnfg.Entsoe.KeepRaw,
				ModelDays:           cnfg.Entsoe.ModelDays,
				EmissionFactorsFile: cnfg.Entsoe.EmissionFactors,
			}, httpclient.New(entsoe.TablePrefix+zone, httpCnfg), history)
			if err != nil {
				return nil, fmt.Errorf("zone %s: %w", zone, err)
			}
			providers = append(providers, p)
		}
		return providers, nil
	})

	add("csvinput", cnfg.CSVInput.ProviderCommon, func() ([]types.Provider, error) {
		return []types.Provider{csvinput.New(csvinput.Options{
			Path:       cnfg.CSVInput.Path,
			TimeColumn: cnfg.CSVInput.TimeColumn,
			Table:      cnfg.CSVInput.Table,
		})}, nil
	})

	return jobs
}

// buildSimulator returns nil when no job runs the PV model.
func buildSimulator(cnfg *config.AppConfig, jobs []task.Job) (*pvmodel.Simulator, error) {
	if !slices.ContainsFunc(jobs, func(j task.Job) bool { return j.Simulate }) {
		return nil, nil
	}
	arrays, err := cnfg.PVSystem.Resolve()
	if err != nil {
		return nil, fmt.Errorf("pv_system: %w", err)
	}
	models, err := cnfg.PVSystem.GetModels()
	if err != nil {
		return nil, fmt.Errorf("pv_system: %w", err)
	}
	return pvmodel.NewSimulator(arrays, models, cnfg.PVSystem.GetStorage())
}

func location(p config.PVSystem) (float64, float64, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, false
	}
	return *p.Latitude, *p.Longitude, true
}
