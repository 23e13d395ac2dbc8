// Package trend fits a straight line to daily average temperature and
// extrapolates it forward. It is a short-horizon extrapolation only: there is
// no seasonality and no uncertainty estimate.
package trend

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// DefaultHorizon is the number of days projected when no horizon is given.
const DefaultHorizon = 30

// ErrDegenerateFit means there were too few points for a least-squares line.
var ErrDegenerateFit = errors.New("degenerate trend fit")

// Model is a fitted line over (days since Start, average temperature).
type Model struct {
	Slope        float64
	Intercept    float64
	Start        time.Time
	LastObserved time.Time
	LastOffset   int
	Points       int
	Horizon      int
}

// Predict returns the fitted temperature at offset days after Start.
func (m Model) Predict(offset float64) float64 {
	return m.Slope*offset + m.Intercept
}

// Fit runs ordinary least squares over the readings that carry a temperature.
//
// With a single point the line is flat through that value: the model is
// returned usable alongside an error wrapping ErrDegenerateFit. With no points
// only the error is returned.
func Fit(series models.CanonicalSeries) (Model, error) {
	var xs, ys []float64
	var start, last time.Time
	for _, r := range series.Readings {
		temp, ok := r.Get(models.ParamTemperature)
		if !ok {
			continue
		}
		if start.IsZero() {
			start = r.Date
		}
		last = r.Date
		xs = append(xs, float64(models.DaysBetween(start, r.Date)))
		ys = append(ys, temp)
	}

	switch len(xs) {
	case 0:
		return Model{}, fmt.Errorf("%w: no temperature readings", ErrDegenerateFit)
	case 1:
		m := Model{
			Intercept:    ys[0],
			Start:        start,
			LastObserved: last,
			Points:       1,
			Horizon:      DefaultHorizon,
		}
		return m, fmt.Errorf("%w: single reading on %s, using flat line", ErrDegenerateFit, start.Format("2006-01-02"))
	}

	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		// Unreachable with unique dates, kept so a bad series can't divide by zero.
		return Model{Intercept: meanY, Start: start, LastObserved: last, Points: len(xs), Horizon: DefaultHorizon},
			fmt.Errorf("%w: no spread in day offsets", ErrDegenerateFit)
	}

	slope := sxy / sxx
	return Model{
		Slope:        slope,
		Intercept:    meanY - slope*meanX,
		Start:        start,
		LastObserved: last,
		LastOffset:   models.DaysBetween(start, last),
		Points:       len(xs),
		Horizon:      DefaultHorizon,
	}, nil
}

// Project extrapolates m for horizonDays days after the last observation.
// A non-positive horizon uses the model's own.
func Project(m Model, horizonDays int) []models.ProjectedPoint {
	if horizonDays <= 0 {
		horizonDays = m.Horizon
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizon
	}

	last := models.Day(m.LastObserved)
	points := make([]models.ProjectedPoint, horizonDays)
	for d := 1; d <= horizonDays; d++ {
		points[d-1] = models.ProjectedPoint{
			Date:                    last.AddDate(0, 0, d),
			PredictedAvgTemperature: m.Predict(float64(m.LastOffset + d)),
		}
	}
	return points
}
