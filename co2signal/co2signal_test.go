package co2signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icodeforyou/pvforecast/httpclient"
)

const latest = `{
  "_disclaimer": "This data is the exclusive property of electricityMap",
  "status": "ok",
  "countryCode": "DE",
  "data": {"datetime": "2024-06-01T10:00:00.000Z", "carbonIntensity": 312, "fossilFuelPercentage": 41.25},
  "units": {"carbonIntensity": "gCO2eq/kWh"}
}`

func TestParse(t *testing.T) {
	issue := time.Date(2024, 6, 1, 10, 7, 12, 0, time.UTC)
	s, err := Parse([]byte(latest), "co2signal_DE", issue)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", s.Len())
	}
	if !s.Time(0).Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("expected period end 10:00, got %v", s.Time(0))
	}
	if got := s.Value(0, "carbonintensity"); got != 312 {
		t.Errorf("got carbonintensity %f, wanted 312", got)
	}
	if got := s.Value(0, "fossilfuelpercentage"); got != 41.25 {
		t.Errorf("got fossilfuelpercentage %f, wanted 41.25", got)
	}
	if len(s.Export()) != 2 {
		t.Errorf("expected 2 exported fields, got %v", s.Export())
	}
	if !s.IssueTime().Equal(issue) {
		t.Errorf("expected issue time %v, got %v", issue, s.IssueTime())
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{"data": `,
		"no data":      `{"message": "Invalid authentication credentials"}`,
		"no values":    `{"data": {"datetime": "2024-06-01T10:00:00.000Z"}}`,
		"bad datetime": `{"data": {"datetime": "yesterday", "carbonIntensity": 1}}`,
	}
	for name, body := range tests {
		if _, err := Parse([]byte(body), "co2signal_DE", time.Now()); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("auth-token") != "token" || r.URL.Query().Get("countryCode") != "DE" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(latest))
	}))
	defer srv.Close()

	p := New(Options{ApiKey: "token", Zone: "DE", BaseURL: srv.URL}, httpclient.New("co2signal", httpclient.Config{}))
	p.now = func() time.Time { return time.Date(2024, 6, 1, 10, 7, 12, 400_000_000, time.UTC) }

	if p.Name() != "co2signal_DE" {
		t.Errorf("expected table co2signal_DE, got %s", p.Name())
	}
	s, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if want := time.Date(2024, 6, 1, 10, 7, 12, 0, time.UTC); !s.IssueTime().Equal(want) {
		t.Errorf("expected issue time %v, got %v", want, s.IssueTime())
	}
	if s.Name() != "co2signal_DE" {
		t.Errorf("expected series name co2signal_DE, got %s", s.Name())
	}
}
