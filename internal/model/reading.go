package model

import (
	"math"
	"time"
)

// SensorReading is a single validated PM2.5 observation from a fixed sensor.
type SensorReading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	PM25      float64   `json:"pm2_5"`
	Timestamp time.Time `json:"timestamp"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
}

// Valid reports whether the numeric fields are finite and PM2.5 is non-negative.
func (r SensorReading) Valid() bool {
	for _, v := range []float64{r.Latitude, r.Longitude, r.PM25} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.PM25 >= 0
}

// GroupByCity splits readings by their exact city string, preserving input order
// within each group.
func GroupByCity(readings []SensorReading) map[string][]SensorReading {
	groups := make(map[string][]SensorReading)
	for _, r := range readings {
		groups[r.City] = append(groups[r.City], r)
	}
	return groups
}
