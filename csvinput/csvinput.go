// Package csvinput reads weather data from CSV files with a period end
// column, plain or gzip compressed.
package csvinput

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/types"
	"github.com/klauspost/compress/gzip"
)

const Table = "csvinput"

type Options struct {
	Path string
	// Period end column, "period_end" or "PeriodEnd" when empty
	TimeColumn string
	// Table the rows are stored in, csvinput when empty
	Table string
}

type Provider struct {
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

func New(opts Options) *Provider {
	if opts.Table == "" {
		opts.Table = Table
	}
	return &Provider{
		logger: slog.Default().With(slog.String("module", "csvinput")),
		opts:   opts,
		now:    time.Now,
	}
}

func (p *Provider) Name() string {
	return p.opts.Table
}

// Fetch reads the configured file. A file carries no issue time, the time
// of reading is used.
func (p *Provider) Fetch(ctx context.Context) (series.TimeSeries, error) {
	p.logger.Info("reading weather from file...", slog.String("path", p.opts.Path))
	s, err := ReadFile(p.opts.Path, p.opts.Table, p.opts.TimeColumn, p.now().UTC().Round(time.Second))
	if err != nil {
		return series.TimeSeries{}, types.NewFetchError(p.opts.Table, err)
	}
	return s, nil
}

// ReadFile reads path into table. All numeric columns are exported.
func ReadFile(path, table, timeColumn string, issue time.Time) (series.TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return series.TimeSeries{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return series.TimeSeries{}, fmt.Errorf("opening %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	s, err := series.ReadCSV(r, table, issue, timeColumn)
	if err != nil {
		return series.TimeSeries{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.IsEmpty() {
		return series.TimeSeries{}, fmt.Errorf("%s: no rows", path)
	}
	return s.WithExport(s.Fields()...), nil
}

var csvSuffix = regexp.MustCompile(`(?i)\.csv.*$`)

// OutputName is the export file name of an input file, data.csv becomes
// data_out.csv.gz.
func OutputName(path string) string {
	return csvSuffix.ReplaceAllString(filepath.Base(path), "_out.csv.gz")
}
