package smhi

import (
	"time"
)

const BASE_URL = "https://opendata-download-metfcst.smhi.se"

const Table = "smhi"

type smhi struct {
	ApprovedTime  time.Time   `json:"approvedTime"`
	ReferenceTime time.Time   `json:"referenceTime"`
	Geometry      geometry    `json:"geometry"`
	TimeSeries    []timeEntry `json:"timeSeries"`
}

type geometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type timeEntry struct {
	ValidTime  time.Time   `json:"validTime"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Name      string    `json:"name"`
	LevelType string    `json:"levelType"`
	Level     int       `json:"level"`
	Unit      string    `json:"unit"`
	Values    []float64 `json:"values"`
}
