package models

import (
	"fmt"
	"math"
	"time"
)

// Param names a canonical daily measurement.
type Param string

const (
	ParamTemperature    Param = "temperature" // daily average, (max+min)/2 where derived
	ParamTemperatureMax Param = "temperature_max"
	ParamTemperatureMin Param = "temperature_min"
	ParamPrecipitation  Param = "precipitation" // mm, "rainfall" in the two-factor policy
	ParamHumidity       Param = "humidity"
	ParamSolarRadiation Param = "solar_radiation" // kWh/m²/day
)

// AllParams lists canonical params in display order.
var AllParams = []Param{
	ParamTemperature,
	ParamTemperatureMax,
	ParamTemperatureMin,
	ParamPrecipitation,
	ParamHumidity,
	ParamSolarRadiation,
}

// Location is a point on the map.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	if l.Name != "" {
		return fmt.Sprintf("%s (%.4f, %.4f)", l.Name, l.Latitude, l.Longitude)
	}
	return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
}

// DailyReading is one calendar day of measurements. A param missing from
// Values is absent.
type DailyReading struct {
	Date   time.Time
	Values map[Param]float64
}

func (r DailyReading) Get(p Param) (float64, bool) {
	v, ok := r.Values[p]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (r DailyReading) Has(p Param) bool {
	_, ok := r.Get(p)
	return ok
}

// With returns a copy of r with p set to v.
func (r DailyReading) With(p Param, v float64) DailyReading {
	values := make(map[Param]float64, len(r.Values)+1)
	for k, val := range r.Values {
		values[k] = val
	}
	values[p] = v
	return DailyReading{Date: r.Date, Values: values}
}

// CanonicalSeries is a date-ordered run of readings with unique dates. Every
// reading carries all Required params.
type CanonicalSeries struct {
	Readings []DailyReading
	Required []Param
}

func (s CanonicalSeries) Len() int {
	return len(s.Readings)
}

func (s CanonicalSeries) First() (DailyReading, bool) {
	if len(s.Readings) == 0 {
		return DailyReading{}, false
	}
	return s.Readings[0], true
}

func (s CanonicalSeries) Last() (DailyReading, bool) {
	if len(s.Readings) == 0 {
		return DailyReading{}, false
	}
	return s.Readings[len(s.Readings)-1], true
}

// Between returns the readings dated within [from, to], inclusive. A zero
// bound is open.
func (s CanonicalSeries) Between(from, to time.Time) CanonicalSeries {
	from, to = Day(from), Day(to)
	out := CanonicalSeries{Required: s.Required}
	for _, r := range s.Readings {
		if !from.IsZero() && r.Date.Before(from) {
			continue
		}
		if !to.IsZero() && r.Date.After(to) {
			continue
		}
		out.Readings = append(out.Readings, r)
	}
	return out
}

// Values returns the present values of p in series order.
func (s CanonicalSeries) Values(p Param) []float64 {
	var vals []float64
	for _, r := range s.Readings {
		if v, ok := r.Get(p); ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// Mean returns the mean of the present values of p.
func (s CanonicalSeries) Mean(p Param) (float64, bool) {
	vals := s.Values(p)
	if len(vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), true
}

// Sum returns the total of the present values of p.
func (s CanonicalSeries) Sum(p Param) (float64, bool) {
	vals := s.Values(p)
	if len(vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum, true
}

// ProjectedPoint is one day of a linear temperature projection.
type ProjectedPoint struct {
	Date                    time.Time
	PredictedAvgTemperature float64
}

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}
