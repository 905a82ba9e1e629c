package entsoe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/httpclient"
	"github.com/icodeforyou/pvforecast/series"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func tsXML(domain, psr, curve, res string, values ...float64) string {
	var b strings.Builder
	b.WriteString("<TimeSeries>")
	fmt.Fprintf(&b, `<%sBiddingZone_Domain.mRID codingScheme="A01">10Y1001A1001A83F</%sBiddingZone_Domain.mRID>`, domain, domain)
	fmt.Fprintf(&b, "<curveType>%s</curveType>", curve)
	if psr != "" {
		fmt.Fprintf(&b, "<MktPSRType><psrType>%s</psrType></MktPSRType>", psr)
	}
	step, _ := time.ParseDuration(strings.ToLower(strings.TrimPrefix(res, "PT")))
	end := t0.Add(time.Duration(len(values)) * step)
	fmt.Fprintf(&b, "<Period><timeInterval><start>%s</start><end>%s</end></timeInterval><resolution>%s</resolution>",
		t0.Format(timeLayout), end.Format(timeLayout), res)
	for i, v := range values {
		if !math.IsNaN(v) {
			fmt.Fprintf(&b, "<Point><position>%d</position><quantity>%g</quantity></Point>", i+1, v)
		}
	}
	b.WriteString("</Period></TimeSeries>")
	return b.String()
}

func docXML(series ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<GL_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-6:generationloaddocument:3:0">` +
		strings.Join(series, "") + `</GL_MarketDocument>`
}

const acknowledgement = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-1:acknowledgementdocument:7:0">
  <Reason><code>999</code><text>No matching data found</text></Reason>
</Acknowledgement_MarketDocument>`

func reportByName(name string) report {
	for _, r := range reports {
		if r.name == name {
			return r
		}
	}
	panic("unknown report " + name)
}

func TestReportSeriesGeneration(t *testing.T) {
	nan := math.NaN()
	body := docXML(
		tsXML("in", "B04", "A01", "PT15M", 100, nan, 120, 130),
		tsXML("in", "B10", "A01", "PT15M", nan, 40, nan, nan),
		tsXML("out", "B10", "A01", "PT15M", 20, nan, 30, nan),
	)
	s, err := reportSeries(reportByName(reportGenActual), []byte(body))
	if err != nil {
		t.Fatalf("reportSeries() unexpected error: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("expected 4 periods, got %d", s.Len())
	}

	gas := s.Column("gen_actual_fossil_gas")
	if gas[1] != 100 {
		t.Errorf("expected gap filled forward, got %f", gas[1])
	}
	pumped := s.Column("gen_actual_hydro_pumped_storage")
	want := []float64{0, 40, 0, 0}
	for i := range want {
		if pumped[i] != want[i] {
			t.Errorf("pumped storage period %d: got %f, wanted %f", i, pumped[i], want[i])
		}
	}
	if s.Has("consumption_gen_actual_hydro_pumped_storage") {
		t.Error("expected consumption series to be dropped")
	}
}

func TestReportSeriesCurveA03(t *testing.T) {
	nan := math.NaN()
	body := strings.Replace(docXML(tsXML("in", "", "A03", "PT60M", 80, nan, nan, 95)), "<quantity>", "<price.amount>", -1)
	body = strings.Replace(body, "</quantity>", "</price.amount>", -1)

	s, err := reportSeries(reportByName(reportPrices), []byte(body))
	if err != nil {
		t.Fatalf("reportSeries() unexpected error: %v", err)
	}
	want := []float64{80, 80, 80, 95}
	for i, v := range s.Column("prices_price") {
		if v != want[i] {
			t.Errorf("period %d: got %f, wanted %f", i, v, want[i])
		}
	}
}

func TestReportSeriesNoData(t *testing.T) {
	_, err := reportSeries(reportByName(reportPrices), []byte(acknowledgement))
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestFill(t *testing.T) {
	nan := math.NaN()
	got := interpolate([]float64{nan, 0, nan, nan, nan, nan, nan, 6, nan}, 3)
	want := []float64{nan, 0, 1, 2, 3, nan, nan, 6, nan}
	for i := range want {
		if !(got[i] == want[i] || math.IsNaN(got[i]) && math.IsNaN(want[i])) {
			t.Errorf("interpolate %d: got %f, wanted %f", i, got[i], want[i])
		}
	}

	values := []float64{1, nan, nan, nan, nan, 2, nan}
	got = fillForward(values, 3, lastValid(values)+1)
	want = []float64{1, 1, 1, 1, nan, 2, nan}
	for i := range want {
		if !(got[i] == want[i] || math.IsNaN(got[i]) && math.IsNaN(want[i])) {
			t.Errorf("fillForward %d: got %f, wanted %f", i, got[i], want[i])
		}
	}
}

func quarterHours(t *testing.T, name string, cols map[series.Field][]float64) series.TimeSeries {
	t.Helper()
	b := series.NewBuilder(name, time.Time{})
	for f, values := range cols {
		for i, v := range values {
			b.Set(t0.Add(time.Duration(i)*15*time.Minute), f, v)
		}
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return s
}

func testReports(t *testing.T) map[string]series.TimeSeries {
	nan := math.NaN()
	prices := series.NewBuilder(reportPrices, time.Time{}).
		Set(t0, "prices_price", 80).
		Set(t0.Add(time.Hour), "prices_price", 90)
	p, err := prices.Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return map[string]series.TimeSeries{
		reportGenActual: quarterHours(t, reportGenActual, map[series.Field][]float64{
			"gen_actual_fossil_gas": {100, 100, 100, 100, 100},
			"gen_actual_solar":      {100, 100, 100, 100, 100},
		}),
		reportGenForecast: quarterHours(t, reportGenForecast, map[series.Field][]float64{
			"gen_forecast_total": {1000, 1000, 1000, 1000, 1000},
		}),
		reportRenewDayAhead: quarterHours(t, reportRenewDayAhead, map[series.Field][]float64{
			"renew_day_ahead_solar":        {200, 200, 200, 200, 200},
			"renew_day_ahead_wind_onshore": {300, 300, 300, 300, 300},
		}),
		reportLoad: quarterHours(t, reportLoad, map[series.Field][]float64{
			"load_forecasted_load": {1250, 1250, nan, 1250, 1250},
		}),
		reportPrices: p,
	}
}

func testAssembler() assembler {
	return assembler{
		logger:  slog.Default(),
		table:   "entsoe_DE",
		factors: DefaultEmissionFactors(),
		model:   IdentityModel(),
	}
}

func TestAssemble(t *testing.T) {
	issue := t0.Add(7 * time.Minute)
	s, err := testAssembler().assemble(testReports(t), issue)
	if err != nil {
		t.Fatalf("assemble() unexpected error: %v", err)
	}

	if s.Len() != 5 {
		t.Fatalf("expected 5 periods, got %d", s.Len())
	}
	if !s.Time(0).Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("expected first period end %v, got %v", t0.Add(15*time.Minute), s.Time(0))
	}

	tests := []struct {
		field series.Field
		row   int
		want  float64
	}{
		{FieldCO2, 0, (100*490 + 100*45) / 200.0},
		{FieldPctGeneratedDayAhead, 0, 0.5},
		{FieldPctLoadDayAhead, 2, 0.6},
		{FieldCO2Forecast, 0, 0.5},
		{FieldPrice, 3, 80},
		{FieldPrice, 4, 90},
		{FieldForecastedLoad, 2, 1250},
	}
	for _, tt := range tests {
		if got := s.Value(tt.row, tt.field); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s[%d]: got %f, wanted %f", tt.field, tt.row, got, tt.want)
		}
	}

	if s.Has("gen_actual_solar") || s.Has("prices_price") {
		t.Errorf("expected raw columns to be dropped, got %v", s.Fields())
	}
	if len(s.Export()) != 6 {
		t.Errorf("expected 6 exported fields, got %v", s.Export())
	}
}

func TestAssembleKeepRaw(t *testing.T) {
	a := testAssembler()
	a.keepRaw = true
	s, err := a.assemble(testReports(t), t0)
	if err != nil {
		t.Fatalf("assemble() unexpected error: %v", err)
	}
	for _, f := range []series.Field{"gen_actual_solar", "prices_price", "load_forecasted_load", FieldCO2} {
		if !s.Has(f) {
			t.Errorf("expected field %s, got %v", f, s.Fields())
		}
	}
}

func TestAssembleDropsMismatchedIntraday(t *testing.T) {
	got := testReports(t)
	got[reportRenewIntraday] = quarterHours(t, reportRenewIntraday, map[series.Field][]float64{
		"renew_intraday_solar": {250, 250, 250, 250, 250},
	})
	s, err := testAssembler().assemble(got, t0)
	if err != nil {
		t.Fatalf("assemble() unexpected error: %v", err)
	}
	if s.Has(FieldPctGeneratedDayAhead) || s.Has(FieldPctGeneratedIntraday) {
		t.Errorf("expected renewable forecasts to be dropped, got %v", s.Fields())
	}
	if !s.Has(FieldCO2) {
		t.Error("expected co2 without renewable forecasts")
	}
}

func TestAssembleIntraday(t *testing.T) {
	intraday := map[series.Field][]float64{
		"renew_intraday_solar":        {300, 300, 300, 300, 300},
		"renew_intraday_wind_onshore": {300, 300, 300, 300, 300},
	}

	got := testReports(t)
	got[reportRenewIntraday] = quarterHours(t, reportRenewIntraday, intraday)
	s, err := testAssembler().assemble(got, t0)
	if err != nil {
		t.Fatalf("assemble() unexpected error: %v", err)
	}
	// 12:00 Brussels, the intraday forecast is preferred
	if got := s.Value(0, FieldCO2Forecast); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("got co2_forecast %f, wanted 0.4", got)
	}

	intraday["renew_intraday_solar"] = []float64{0, 0, 300, 0, 300}
	got = testReports(t)
	got[reportRenewIntraday] = quarterHours(t, reportRenewIntraday, intraday)
	s, err = testAssembler().assemble(got, t0)
	if err != nil {
		t.Fatalf("assemble() unexpected error: %v", err)
	}
	if s.Has(FieldPctGeneratedIntraday) {
		t.Error("expected incomplete intraday forecast to be dropped")
	}
	if !s.Has(FieldPctGeneratedDayAhead) {
		t.Error("expected day-ahead forecast to be kept")
	}
}

func TestFitModel(t *testing.T) {
	start := time.Date(2024, 5, 25, 0, 0, 0, 0, time.UTC)
	history := func(rows int) series.TimeSeries {
		b := series.NewBuilder("entsoe_DE", time.Time{})
		for i := 0; i < rows; i++ {
			pct := 0.2 + float64(i)*0.004
			b.Set(start.Add(time.Duration(i)*time.Hour), FieldPctGeneratedDayAhead, pct)
			b.Set(start.Add(time.Duration(i)*time.Hour), FieldCO2, 500*pct+50)
		}
		s, _ := b.Build()
		return s
	}
	before := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	m, ok := FitModel(history(150), before)
	if !ok {
		t.Fatal("expected a fitted model")
	}
	if math.Abs(m.Slope-500) > 1e-6 || math.Abs(m.Intercept-50) > 1e-6 {
		t.Errorf("expected slope 500 intercept 50, got %f %f", m.Slope, m.Intercept)
	}
	if math.Abs(m.R2-1) > 1e-9 {
		t.Errorf("got r2 %f, wanted 1", m.R2)
	}

	m, ok = FitModel(history(80), before)
	if ok || m != IdentityModel() {
		t.Errorf("expected identity model for short history, got %+v", m)
	}
	if m, ok := FitModel(series.Empty("entsoe_DE"), before); ok || m.Slope != 1 || m.Intercept != 0 {
		t.Errorf("expected identity model for missing history, got %+v", m)
	}
}

func TestLoadEmissionFactors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DE.yaml")
	zone := `
emissionFactors:
  lifecycle:
    gas:
      source: IPCC 2014
      value: 500
    coal:
      - datetime: '2020-01-01'
        value: 900
      - datetime: '2021-01-01'
        value: 850
`
	if err := os.WriteFile(path, []byte(zone), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadEmissionFactors(path)
	if err != nil {
		t.Fatalf("LoadEmissionFactors() unexpected error: %v", err)
	}
	tests := map[string]float64{"fossil_gas": 500, "fossil_hard_coal": 850, "solar": 45, "marine": 700}
	for name, want := range tests {
		if got := f.forType(name); got != want {
			t.Errorf("%s: got %f, wanted %f", name, got, want)
		}
	}
}

func TestZones(t *testing.T) {
	if eic, err := EIC("DE_LU"); err != nil || eic != "10Y1001A1001A82H" {
		t.Errorf("expected DE_LU code, got %s (%v)", eic, err)
	}
	if eic, _ := EIC("10YAT-APG------L"); eic != "10YAT-APG------L" {
		t.Errorf("expected EIC code to pass, got %s", eic)
	}
	if _, err := EIC("XX"); err == nil {
		t.Error("expected error for unknown zone, got nil")
	}
	for zone, want := range map[string]string{"DE": "DE_LU", "DE_TENNET": "DE_LU", "LU": "DE_LU", "AT": "AT"} {
		if got := priceZone(zone); got != want {
			t.Errorf("priceZone(%s): expected %s, got %s", zone, want, got)
		}
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("securityToken") != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch q.Get("documentType") + q.Get("processType") {
		case "A65A01":
			w.Write([]byte(docXML(tsXML("out", "", "A01", "PT15M", 1250, 1250, 1250, 1250, 1250))))
		case "A71A01":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(acknowledgement))
		case "A69A01", "A69A40":
			w.Write([]byte(docXML(tsXML("in", "B16", "A01", "PT15M", 250, 250, 250, 250, 250))))
		case "A75A16":
			w.Write([]byte(docXML(
				tsXML("in", "B04", "A01", "PT15M", 100, 100, 100, 100, 100),
				tsXML("in", "B19", "A01", "PT15M", 100, 100, 100, 100, 100))))
		default:
			w.Write([]byte(acknowledgement))
		}
	}))
	defer srv.Close()

	p, err := New(Options{ApiKey: "token", Zone: "DE", BaseURL: srv.URL}, httpclient.New("entsoe", httpclient.Config{}), nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	p.now = func() time.Time { return t0.Add(7 * time.Minute) }

	s, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if s.Name() != "entsoe_DE" {
		t.Errorf("expected table entsoe_DE, got %s", s.Name())
	}
	if !s.IssueTime().Equal(t0.Add(7 * time.Minute)) {
		t.Errorf("expected issue time %v, got %v", t0.Add(7*time.Minute), s.IssueTime())
	}
	if got := s.Value(0, FieldCO2); math.Abs(got-(490+11)/2.0) > 1e-9 {
		t.Errorf("got co2 %f, wanted %f", got, (490+11)/2.0)
	}
	if got := s.Value(0, FieldPctLoadIntraday); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("got pct_load_intraday %f, wanted 0.8", got)
	}
	if s.Has(FieldPrice) || s.Has(FieldPctGeneratedDayAhead) {
		t.Errorf("expected missing reports to be skipped, got %v", s.Fields())
	}
}

func TestFetchServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New(Options{Zone: "DE", BaseURL: srv.URL}, httpclient.New("entsoe", httpclient.Config{}), nil)
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Error("expected error when the service is unavailable, got nil")
	}
}
