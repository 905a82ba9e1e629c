package dwd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/convert"
	"github.com/icodeforyou/pvforecast/series"
	"golang.org/x/text/encoding/ianaindex"
)

// Elements needed by the PV model. Only these are kept when weather fields
// are dropped.
var renames = map[string]series.Field{
	"TTT":   series.TempAir,
	"Td":    series.TempDew,
	"PPPP":  series.Pressure,
	"FF":    series.WindSpeed,
	"Neff":  series.Clouds,
	"Rad1h": series.GHI,
	"RRad1": series.Kt,
}

type kmlForecast struct {
	issueTime time.Time
	steps     []time.Time
	elements  []string
	values    map[string][]float64
}

// parseKML reads a MOSMIX kml document. Namespaces are ignored, elements are
// matched by their local names.
func parseKML(r io.Reader) (*kmlForecast, error) {
	kml := &kmlForecast{values: make(map[string][]float64)}
	d := xml.NewDecoder(r)
	d.CharsetReader = charsetReader

	var element string
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding kml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "IssueTime":
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return nil, fmt.Errorf("decoding issue time: %w", err)
				}
				issue, err := series.ParseTime(strings.TrimSpace(text))
				if err != nil {
					return nil, err
				}
				kml.issueTime = issue
			case "TimeStep":
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return nil, fmt.Errorf("decoding time step: %w", err)
				}
				step, err := series.ParseTime(strings.TrimSpace(text))
				if err != nil {
					return nil, err
				}
				kml.steps = append(kml.steps, step)
			case "Forecast":
				element = ""
				for _, a := range t.Attr {
					if a.Name.Local == "elementName" {
						element = a.Value
					}
				}
			case "value":
				if element == "" {
					continue
				}
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return nil, fmt.Errorf("decoding %s: %w", element, err)
				}
				if _, dup := kml.values[element]; !dup {
					kml.elements = append(kml.elements, element)
				}
				kml.values[element] = parseValues(text)
			}
		case xml.EndElement:
			if t.Name.Local == "Forecast" {
				element = ""
			}
		}
	}

	if kml.issueTime.IsZero() {
		return nil, fmt.Errorf("kml has no issue time")
	}
	for _, e := range kml.elements {
		if len(kml.values[e]) != len(kml.steps) {
			return nil, fmt.Errorf("length mismatch for %s: %d values, %d time steps", e, len(kml.values[e]), len(kml.steps))
		}
	}
	return kml, nil
}

// MOSMIX files are declared ISO-8859-1.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported kml charset %s: %w", label, err)
	}
	if enc == nil {
		return input, nil
	}
	return enc.NewDecoder().Reader(input), nil
}

// parseValues splits a whitespace separated value list; "-" marks a missing
// value.
func parseValues(text string) []float64 {
	parts := strings.Fields(text)
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			v = math.NaN()
		}
		values[i] = v
	}
	return values
}

// toSeries converts the parsed document into normalized fields: Kelvin,
// Pa, m/s, % and W/m².
func (k *kmlForecast) toSeries(table string, dropWeather bool) (series.TimeSeries, error) {
	b := series.NewBuilder(table, k.issueTime)
	seen := make(map[series.Field]bool)

	for _, e := range k.elements {
		f, known := renames[e]
		if dropWeather && !known {
			continue
		}
		if !known {
			f = series.NormalizeField(e)
		}
		if seen[f] {
			continue
		}
		seen[f] = true

		for i, v := range k.values[e] {
			switch f {
			case series.GHI:
				v = convert.KJToWh(v)
			case series.Kt:
				v = v / 100
			}
			b.Set(k.steps[i], f, v)
		}
	}
	for _, t := range k.steps {
		b.Touch(t)
	}
	return b.Build()
}

// Parse reads an uncompressed MOSMIX kml document.
func Parse(data []byte, table string, dropWeather bool) (series.TimeSeries, error) {
	kml, err := parseKML(bytes.NewReader(data))
	if err != nil {
		return series.TimeSeries{}, err
	}
	return kml.toSeries(table, dropWeather)
}
