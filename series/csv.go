package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
)

const csvTimeFormat = "2006-01-02T15:04:05Z"

// CSVFileName is <name>_<YYYY-MM-DD_HH-MM>.csv.gz from the issue time.
func CSVFileName(s TimeSeries) string {
	return fmt.Sprintf("%s_%s.csv.gz", s.Name(), s.IssueTime().Format("2006-01-02_15-04"))
}

// WriteCSV writes s gzip compressed: a period_end column followed by all
// fields in sorted order. NaN cells are left empty.
func WriteCSV(w io.Writer, s TimeSeries) error {
	zw := gzip.NewWriter(w)
	cw := csv.NewWriter(zw)

	fields := s.Fields()
	header := make([]string, 0, len(fields)+1)
	header = append(header, "period_end")
	for _, f := range fields {
		header = append(header, string(f))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	record := make([]string, len(header))
	for i, t := range s.index {
		record[0] = t.Format(csvTimeFormat)
		for j, f := range fields {
			v := s.columns[f][i]
			if math.IsNaN(v) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	return nil
}

// ExportCSV writes s into dir and returns the path of the file.
func ExportCSV(dir string, s TimeSeries) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, CSVFileName(s))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	if err := WriteCSV(f, s); err != nil {
		return "", err
	}
	return path, f.Close()
}

// ReadCSV parses a plain CSV table. timeColumn names the period end column
// (matched case insensitively, "period_end" and "PeriodEnd" when empty).
// Period ends must be unique. Other columns are normalized to fields, cells that are not numbers become
// NaN and columns without a single number are skipped.
func ReadCSV(r io.Reader, name string, issueTime time.Time, timeColumn string) (TimeSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return TimeSeries{}, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return Empty(name), nil
	}

	header := records[0]
	timeIdx := -1
	for i, h := range header {
		n := NormalizeField(h)
		if (timeColumn != "" && NormalizeField(timeColumn) == n) ||
			(timeColumn == "" && (n == "period_end" || n == "periodend")) {
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		return TimeSeries{}, fmt.Errorf("csv has no period end column")
	}

	b := NewBuilder(name, issueTime)
	seen := make(map[time.Time]bool, len(records))
	for line, rec := range records[1:] {
		t, err := ParseTime(rec[timeIdx])
		if err != nil {
			return TimeSeries{}, fmt.Errorf("csv line %d: %w", line+2, err)
		}
		if seen[t] {
			return TimeSeries{}, fmt.Errorf("csv line %d: duplicate period end %s", line+2, rec[timeIdx])
		}
		seen[t] = true
		b.Touch(t)
		for i, cell := range rec {
			if i == timeIdx || i >= len(header) {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue
			}
			b.Set(t, NormalizeField(header[i]), v)
		}
	}
	return b.Build()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTime accepts ISO-8601 timestamps with or without zone, local times
// without zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}
