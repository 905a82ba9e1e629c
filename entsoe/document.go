package entsoe

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/convert"
)

// ErrNoData is reported by the API as an acknowledgement document instead
// of a market document.
var ErrNoData = errors.New("no matching data")

const timeLayout = "2006-01-02T15:04Z07:00"

type document struct {
	XMLName    xml.Name
	TimeSeries []timeSeries `xml:"TimeSeries"`
	Reason     []struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
}

type timeSeries struct {
	InDomain  string   `xml:"inBiddingZone_Domain.mRID"`
	OutDomain string   `xml:"outBiddingZone_Domain.mRID"`
	CurveType string   `xml:"curveType"`
	PSRType   string   `xml:"MktPSRType>psrType"`
	Periods   []period `xml:"Period"`
}

type period struct {
	Start      string  `xml:"timeInterval>start"`
	End        string  `xml:"timeInterval>end"`
	Resolution string  `xml:"resolution"`
	Points     []point `xml:"Point"`
}

type point struct {
	Position int      `xml:"position"`
	Quantity *float64 `xml:"quantity"`
	Price    *float64 `xml:"price.amount"`
}

func (p point) value() (float64, bool) {
	switch {
	case p.Quantity != nil:
		return *p.Quantity, true
	case p.Price != nil:
		return *p.Price, true
	}
	return 0, false
}

func parseDocument(data []byte) (*document, error) {
	var d document
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if d.XMLName.Local == "Acknowledgement_MarketDocument" {
		var reasons []string
		for _, r := range d.Reason {
			reasons = append(reasons, strings.TrimSpace(r.Text))
		}
		return nil, fmt.Errorf("%w: %s", ErrNoData, strings.Join(reasons, ", "))
	}
	return &d, nil
}

// column of a time series, an empty name skips the series.
type columnFunc func(ts timeSeries) string

// values collects the points of all time series by column and period
// start. Positions left out of an A03 curve repeat the previous value.
func (d *document) values(column columnFunc) (map[string]map[time.Time]float64, error) {
	out := make(map[string]map[time.Time]float64)
	for _, ts := range d.TimeSeries {
		name := column(ts)
		if name == "" {
			continue
		}
		col, ok := out[name]
		if !ok {
			col = make(map[time.Time]float64)
			out[name] = col
		}

		for _, p := range ts.Periods {
			start, err := time.Parse(timeLayout, p.Start)
			if err != nil {
				return nil, fmt.Errorf("period start: %w", err)
			}
			end, err := time.Parse(timeLayout, p.End)
			if err != nil {
				return nil, fmt.Errorf("period end: %w", err)
			}
			res, err := convert.ISODuration(p.Resolution)
			if err != nil {
				return nil, err
			}

			points := make(map[int]float64, len(p.Points))
			for _, pt := range p.Points {
				if v, ok := pt.value(); ok {
					points[pt.Position] = v
				}
			}
			if ts.CurveType == "A03" {
				n := int(end.Sub(start) / res)
				last, have := 0.0, false
				for pos := 1; pos <= n; pos++ {
					if v, ok := points[pos]; ok {
						last, have = v, true
					} else if have {
						points[pos] = last
					}
				}
			}

			for pos, v := range points {
				col[start.Add(time.Duration(pos-1)*res).UTC()] = v
			}
		}
	}
	return out, nil
}
