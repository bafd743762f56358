package domain

import (
	"errors"
	"fmt"
	"time"
)

// Record is a single decoded value at one grid point.
type Record struct {
	RunTime      time.Time `json:"run_time"`
	ForecastTime time.Time `json:"forecast_time"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Field        string    `json:"field"`
	Value        float64   `json:"value"`
}

// Job is one pending (run, offset) unit of acquisition work.
type Job struct {
	RunTime time.Time
	Offset  int
}

// ForecastTime returns the valid time the job's records will carry.
func (j Job) ForecastTime() time.Time { return ForecastTime(j.RunTime, j.Offset) }

func (j Job) String() string { return fmt.Sprintf("%s/f%03d", FormatRun(j.RunTime), j.Offset) }

// Artifact is the raw GRIB2 payload fetched for a job.
type Artifact struct {
	Job    Job
	Data   []byte
	Source string // URL the payload came from
}

// Region is a latitude/longitude bounding box. Longitudes are in -180..180.
type Region struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Validate reports whether the bounds describe a usable box.
func (r Region) Validate() error {
	switch {
	case r.LatMin < -90 || r.LatMax > 90:
		return errors.New("latitude bounds must be within -90..90")
	case r.LonMin < -180 || r.LonMax > 180:
		return errors.New("longitude bounds must be within -180..180")
	case r.LatMin > r.LatMax:
		return errors.New("latitude minimum exceeds maximum")
	case r.LonMin > r.LonMax:
		return errors.New("longitude minimum exceeds maximum")
	}
	return nil
}

// Contains reports whether the point lies inside the box, inclusive.
// lon may be given in either 0..360 or -180..180.
func (r Region) Contains(lat, lon float64) bool {
	lon = NormalizeLon(lon)
	return lat >= r.LatMin && lat <= r.LatMax && lon >= r.LonMin && lon <= r.LonMax
}

// NormalizeLon maps a 0..360 longitude into -180..180.
func NormalizeLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}
