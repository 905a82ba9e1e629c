package dwd

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const sampleKML = `<?xml version="1.0" encoding="ISO-8859-1" standalone="yes"?>
<kml:kml xmlns:dwd="https://opendata.dwd.de/weather/lib/pointforecast_dwd_extension_V1_0.xsd" xmlns:kml="http://www.opengis.net/kml/2.2">
  <kml:Document>
    <kml:ExtendedData>
      <dwd:ProductDefinition>
        <dwd:Issuer>Deutscher Wetterdienst</dwd:Issuer>
        <dwd:ProductID>MOSMIX</dwd:ProductID>
        <dwd:IssueTime>2024-06-01T03:00:00.000Z</dwd:IssueTime>
        <dwd:ForecastTimeSteps>
          <dwd:TimeStep>2024-06-01T04:00:00.000Z</dwd:TimeStep>
          <dwd:TimeStep>2024-06-01T05:00:00.000Z</dwd:TimeStep>
          <dwd:TimeStep>2024-06-01T06:00:00.000Z</dwd:TimeStep>
        </dwd:ForecastTimeSteps>
      </dwd:ProductDefinition>
    </kml:ExtendedData>
    <kml:Placemark>
      <kml:name>K1174</kml:name>
      <kml:ExtendedData>
        <dwd:Forecast dwd:elementName="TTT">
          <dwd:value>     285.15     286.15     287.15</dwd:value>
        </dwd:Forecast>
        <dwd:Forecast dwd:elementName="PPPP">
          <dwd:value>   101300.0   101200.0          -</dwd:value>
        </dwd:Forecast>
        <dwd:Forecast dwd:elementName="Rad1h">
          <dwd:value>       0.00     360.00     720.00</dwd:value>
        </dwd:Forecast>
        <dwd:Forecast dwd:elementName="RRad1">
          <dwd:value>       0.00      50.00      80.00</dwd:value>
        </dwd:Forecast>
        <dwd:Forecast dwd:elementName="SunD1">
          <dwd:value>       0.00     600.00    3600.00</dwd:value>
        </dwd:Forecast>
      </kml:ExtendedData>
    </kml:Placemark>
  </kml:Document>
</kml:kml>`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleKML), Table, false)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	issue := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	if !s.IssueTime().Equal(issue) {
		t.Errorf("expected issue time %v, got %v", issue, s.IssueTime())
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", s.Len())
	}

	tests := []struct {
		row   int
		field series.Field
		want  float64
	}{
		{0, series.TempAir, 285.15},
		{1, series.Pressure, 101200},
		{1, series.GHI, 100.000008},
		{2, series.Kt, 0.8},
		{2, "sund1", 3600},
	}
	for _, tt := range tests {
		if got := s.Value(tt.row, tt.field); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("%s[%d]: got %f, wanted %f", tt.field, tt.row, got, tt.want)
		}
	}
	if v := s.Value(2, series.Pressure); !math.IsNaN(v) {
		t.Errorf("expected NaN for missing value, got %f", v)
	}
}

func TestParseDropWeather(t *testing.T) {
	s, err := Parse([]byte(sampleKML), Table, true)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if s.Has("sund1") {
		t.Errorf("expected sund1 to be dropped, got %v", s.Fields())
	}
	if !s.Has(series.GHI) || !s.Has(series.TempAir) {
		t.Errorf("expected model fields to be kept, got %v", s.Fields())
	}
}

func TestParseLengthMismatch(t *testing.T) {
	broken := bytes.Replace([]byte(sampleKML), []byte("285.15     286.15     287.15"), []byte("285.15"), 1)
	if _, err := Parse(broken, Table, false); err == nil {
		t.Error("expected error for length mismatch, got nil")
	}
}

func kmz(t *testing.T, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(sampleKML))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/K1174/kml/MOSMIX_L_LATEST_K1174.kmz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(kmz(t, "MOSMIX_L_2024060103_K1174.kml"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := New(Options{Station: "K1174", BaseURL: srv.URL, DropWeather: true, StoreKML: true, StorePath: dir},
		httpclient.New("dwd", httpclient.Config{MaxRetries: 0}))

	s, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if s.Name() != Table || s.Len() != 3 {
		t.Errorf("expected table dwd with 3 rows, got %s with %d", s.Name(), s.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "MOSMIX_L_2024060103_K1174.kml.gz")); err != nil {
		t.Errorf("expected stored kml, got %v", err)
	}
}

func TestFetchRejectsMultiFileKMZ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(kmz(t, "a.kml", "b.kml"))
	}))
	defer srv.Close()

	p := New(Options{Station: "K1174", BaseURL: srv.URL}, httpclient.New("dwd", httpclient.Config{}))
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Error("expected error for kmz with two files, got nil")
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "forecast.kml")
	os.WriteFile(plain, []byte(sampleKML), 0o644)

	zipped := filepath.Join(dir, "forecast.kmz")
	os.WriteFile(zipped, kmz(t, "forecast.kml"), 0o644)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(sampleKML))
	zw.Close()
	gzipped := filepath.Join(dir, "forecast.kml.gz")
	os.WriteFile(gzipped, gz.Bytes(), 0o644)

	for _, path := range []string{plain, zipped, gzipped} {
		s, err := ReadFile(path, true)
		if err != nil {
			t.Errorf("ReadFile(%s) unexpected error: %v", filepath.Base(path), err)
			continue
		}
		if s.Len() != 3 {
			t.Errorf("ReadFile(%s): expected 3 rows, got %d", filepath.Base(path), s.Len())
		}
	}

	other := filepath.Join(dir, "forecast.txt")
	os.WriteFile(other, []byte(sampleKML), 0o644)
	if _, err := ReadFile(other, true); err == nil {
		t.Error("expected error for unknown file type, got nil")
	}
}
