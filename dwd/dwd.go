// Package dwd reads MOSMIX_L station forecasts of the Deutscher Wetterdienst.
package dwd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const (
	BASE_URL = "https://opendata.dwd.de/weather/local_forecasts/mos/MOSMIX_L/single_stations/"
	Table    = "dwd"
)

type Options struct {
	Station string
	BaseURL string
	// Keep only the fields the PV model needs
	DropWeather bool
	// Store the downloaded kml (gzip) in StorePath
	StoreKML  bool
	StorePath string
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
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	return &Provider{
		logger: slog.Default().With(slog.String("module", "dwd")),
		client: client,
		opts:   opts,
	}
}

func (p *Provider) Name() string {
	return Table
}

// Fetch downloads the latest MOSMIX_L kmz of the configured station.
func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	url := fmt.Sprintf("%s%s/kml/MOSMIX_L_LATEST_%s.kmz", p.opts.BaseURL, p.opts.Station, p.opts.Station)
	p.logger.Info("fetching forecast from DWD...", slog.String("url", url))

	body, err := p.client.Get(ctx, url, nil)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}

	name, kml, err := unzipSingle(body)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}

	if p.opts.StoreKML && p.opts.StorePath != "" {
		if err := storeGzip(filepath.Join(p.opts.StorePath, name+".gz"), kml); err != nil {
			p.logger.Warn("unable to store kml", slog.String("file", name), slog.Any("error", err))
		}
	}

	s, err := Parse(kml, Table, p.opts.DropWeather)
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(Table, err)
	}
	return s, nil
}

var (
	zipFile  = regexp.MustCompile(`(?i)\.(zip|kmz)$`)
	gzipFile = regexp.MustCompile(`(?i)\.(kml|xml)\.gz$`)
	kmlFile  = regexp.MustCompile(`(?i)\.(kml|xml)$`)
)

// IsForecastFile tells whether ReadFile understands the file name.
func IsForecastFile(path string) bool {
	return zipFile.MatchString(path) || gzipFile.MatchString(path) || kmlFile.MatchString(path)
}

// ReadFile reads a MOSMIX forecast from disk. .kml and .xml files are read
// as is or gzip compressed (.gz), .kmz and .zip must contain a single kml.
func ReadFile(path string, dropWeather bool) (series.TimeSeries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return series.TimeSeries{}, fmt.Errorf("reading weather file: %w", err)
	}

	switch {
	case zipFile.MatchString(path):
		if _, data, err = unzipSingle(data); err != nil {
			return series.TimeSeries{}, fmt.Errorf("%s: %w", path, err)
		}
	case gzipFile.MatchString(path):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return series.TimeSeries{}, fmt.Errorf("%s: %w", path, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return series.TimeSeries{}, fmt.Errorf("%s: %w", path, err)
		}
	case kmlFile.MatchString(path):
	default:
		return series.TimeSeries{}, fmt.Errorf("unknown file type for weather file %s", path)
	}

	return Parse(data, Table, dropWeather)
}

func unzipSingle(data []byte) (string, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("opening kmz: %w", err)
	}
	if len(zr.File) != 1 {
		return "", nil, fmt.Errorf("%d files found inside kmz, expected 1", len(zr.File))
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return "", nil, fmt.Errorf("opening %s: %w", zr.File[0].Name, err)
	}
	defer f.Close()

	kml, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", zr.File[0].Name, err)
	}
	return zr.File[0].Name, kml, nil
}

func storeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	return zw.Close()
}
