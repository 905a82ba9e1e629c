// Command file_input runs the PV model on weather files already on disk:
// a MOSMIX file or directory of MOSMIX files (stored like DWD downloads),
// or a csv file (written next to the input).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/config"
	"github.com/icodeforyou/pvforecast/csvinput"
	"github.com/icodeforyou/pvforecast/database"
	"github.com/icodeforyou/pvforecast/dwd"
	"github.com/icodeforyou/pvforecast/influx"
	"github.com/icodeforyou/pvforecast/pvmodel"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
	"github.com/icodeforyou/pvforecast/task"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/lmittmann/tint"
)

// mosmixFile reads one MOSMIX file as if it was downloaded.
type mosmixFile struct {
	path        string
	dropWeather bool
}

func (f mosmixFile) Name() string {
	return dwd.Table
}

func (f mosmixFile) Fetch(ctx context.Context) (series.TimeSeries, error) {
	s, err := dwd.ReadFile(f.path, f.dropWeather)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(dwd.Table, err)
	}
	return s, nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	kind := flag.String("type", "kml", "input type: kml or csv")
	file := flag.String("file", "", "input file or directory of MOSMIX files")
	ext := flag.String("ext", ".zip", "extension of the MOSMIX files in a directory")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	simulator, err := newSimulator(cnfg)
	if err != nil {
		panic(fmt.Sprintf("failed to set up the PV model: %v", err))
	}

	ctx := context.Background()
	switch *kind {
	case "kml":
		err = processDWD(ctx, logger, cnfg, simulator, *file, *ext)
	case "csv":
		err = processCSV(logger, cnfg, simulator, *file)
	default:
		err = fmt.Errorf("unsupported input type %q", *kind)
	}
	if err != nil {
		logger.Error("file input failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newSimulator(cnfg *config.AppConfig) (*pvmodel.Simulator, error) {
	arrays, err := cnfg.PVSystem.Resolve()
	if err != nil {
		return nil, err
	}
	models, err := cnfg.PVSystem.GetModels()
	if err != nil {
		return nil, err
	}
	return pvmodel.NewSimulator(arrays, models, cnfg.PVSystem.GetStorage())
}

// processDWD stores every file like a DWD download. A directory is read in
// name order, which is issue order for DWD file names.
func processDWD(ctx context.Context, logger *slog.Logger, cnfg *config.AppConfig, simulator *pvmodel.Simulator, path, ext string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	files := []string{path}
	if info.IsDir() {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		files = files[:0]
		for _, e := range entries {
			name := filepath.Join(path, e.Name())
			if !e.IsDir() && strings.HasSuffix(e.Name(), ext) && dwd.IsForecastFile(name) {
				files = append(files, name)
			}
		}
		slices.Sort(files)
	}

	repos, closeRepos, err := openRepositories(ctx, cnfg)
	if err != nil {
		return err
	}
	defer closeRepos()

	pipeline := task.NewPipeline(task.PipelineOptions{Simulator: simulator, StorePath: cnfg.GetStorePath()})
	var failed int
	for _, f := range files {
		res := pipeline.Run(ctx, task.Job{
			Provider:     mosmixFile{path: f, dropWeather: cnfg.DWD.DropWeather},
			Force:        true,
			Simulate:     true,
			StoreCSV:     cnfg.DWD.StoreCSV,
			Repositories: repos,
		})
		if res.Outcome == database.OutcomeFailed {
			failed++
		}
	}
	logger.Info(fmt.Sprintf("processed %d files", len(files)), slog.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func openRepositories(ctx context.Context, cnfg *config.AppConfig) (storage.Repositories, func(), error) {
	var repos storage.Repositories
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cnfg.Database.IsEnabled() && cnfg.DWD.GetStoreDB() {
		db, err := database.New(ctx, database.Options{
			Driver: database.Driver(cnfg.Database.Driver),
			Path:   cnfg.Database.Path,
			DSN:    cnfg.Database.DSN,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)
		repos = append(repos, db)
	}

	if cnfg.Influx.Enabled && cnfg.DWD.StoreInflux {
		repo, err := influx.New(ctx, influx.Options{
			URL:             cnfg.Influx.URL,
			Token:           cnfg.Influx.Token,
			Org:             cnfg.Influx.Org,
			Bucket:          cnfg.Influx.Bucket,
			Username:        cnfg.Influx.Username,
			Password:        cnfg.Influx.Password,
			Database:        cnfg.Influx.Database,
			RetentionPolicy: cnfg.Influx.RetentionPolicy,
			LogLookback:     cnfg.Influx.GetLogLookback(),
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to influxdb: %w", err)
		}
		closers = append(closers, repo.Close)
		repos = append(repos, repo)
	}
	return repos, closeAll, nil
}

// processCSV simulates a csv weather file and writes the merged result
// next to it.
func processCSV(logger *slog.Logger, cnfg *config.AppConfig, simulator *pvmodel.Simulator, path string) error {
	weather, err := csvinput.ReadFile(path, csvinput.Table, cnfg.CSVInput.TimeColumn, time.Now().UTC().Round(time.Second))
	if err != nil {
		return err
	}
	pv, err := simulator.Run(weather)
	if err != nil {
		return err
	}
	merged, err := series.Merge(weather, pv, series.JoinOuter)
	if err != nil {
		return err
	}

	out := csvinput.OutputName(path)
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := series.WriteCSV(f, merged); err != nil {
		return err
	}
	logger.Info("csv written", slog.String("path", out), slog.Int("rows", merged.Len()))
	return f.Close()
}
