package trend

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func linearSeries(n int, f func(i int) float64) models.CanonicalSeries {
	var s models.CanonicalSeries
	for i := 0; i < n; i++ {
		s.Readings = append(s.Readings, models.DailyReading{
			Date:   start.AddDate(0, 0, i),
			Values: map[models.Param]float64{models.ParamTemperature: f(i)},
		})
	}
	return s
}

func TestFit_PerfectLine(t *testing.T) {
	s := linearSeries(20, func(i int) float64 { return 2*float64(i) + 10 })

	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(m.Slope-2) > 1e-9 {
		t.Errorf("Slope = %v, want 2", m.Slope)
	}
	if math.Abs(m.Intercept-10) > 1e-9 {
		t.Errorf("Intercept = %v, want 10", m.Intercept)
	}
	if m.LastOffset != 19 {
		t.Errorf("LastOffset = %d, want 19", m.LastOffset)
	}

	for _, p := range Project(m, 30) {
		offset := float64(models.DaysBetween(start, p.Date))
		if want := 2*offset + 10; math.Abs(p.PredictedAvgTemperature-want) > 1e-9 {
			t.Errorf("%s: predicted %v, want %v", p.Date.Format("2006-01-02"), p.PredictedAvgTemperature, want)
		}
	}
}

func TestFit_UsesCalendarOffsets(t *testing.T) {
	// Gap between day 0 and day 10; offsets must be calendar days, not indexes.
	s := models.CanonicalSeries{Readings: []models.DailyReading{
		{Date: start, Values: map[models.Param]float64{models.ParamTemperature: 10}},
		{Date: start.AddDate(0, 0, 10), Values: map[models.Param]float64{models.ParamTemperature: 30}},
	}}

	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(m.Slope-2) > 1e-9 || math.Abs(m.Intercept-10) > 1e-9 {
		t.Errorf("Fit = (%v, %v), want (2, 10)", m.Slope, m.Intercept)
	}
}

func TestProject_LengthAndContiguity(t *testing.T) {
	for _, n := range []int{1, 2, 7, 365} {
		s := linearSeries(n, func(i int) float64 { return 25 + math.Sin(float64(i)) })
		m, err := Fit(s)
		if err != nil && !errors.Is(err, ErrDegenerateFit) {
			t.Fatalf("Fit(%d points): %v", n, err)
		}

		points := Project(m, 30)
		if len(points) != 30 {
			t.Fatalf("%d points: len(Project) = %d, want 30", n, len(points))
		}
		lastObserved := s.Readings[n-1].Date
		if want := lastObserved.AddDate(0, 0, 1); !points[0].Date.Equal(want) {
			t.Errorf("%d points: first date %s, want %s", n, points[0].Date.Format("2006-01-02"), want.Format("2006-01-02"))
		}
		for i := 1; i < len(points); i++ {
			if want := points[i-1].Date.AddDate(0, 0, 1); !points[i].Date.Equal(want) {
				t.Errorf("%d points: points[%d].Date = %s, want %s", n, i, points[i].Date, want)
			}
		}
	}
}

func TestProject_DefaultHorizon(t *testing.T) {
	m, err := Fit(linearSeries(3, func(i int) float64 { return float64(i) }))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := len(Project(m, 0)); got != DefaultHorizon {
		t.Errorf("len(Project(m, 0)) = %d, want %d", got, DefaultHorizon)
	}
	if got := len(Project(Model{}, -1)); got != DefaultHorizon {
		t.Errorf("len(Project(zero model)) = %d, want %d", got, DefaultHorizon)
	}
	if got := len(Project(m, 7)); got != 7 {
		t.Errorf("len(Project(m, 7)) = %d, want 7", got)
	}
}

func TestFit_SinglePointIsFlat(t *testing.T) {
	m, err := Fit(linearSeries(1, func(int) float64 { return 27.5 }))
	if !errors.Is(err, ErrDegenerateFit) {
		t.Fatalf("Fit error = %v, want ErrDegenerateFit", err)
	}
	if m.Slope != 0 || m.Intercept != 27.5 {
		t.Errorf("Fit = (%v, %v), want (0, 27.5)", m.Slope, m.Intercept)
	}
	for _, p := range Project(m, 5) {
		if p.PredictedAvgTemperature != 27.5 {
			t.Errorf("flat projection = %v, want 27.5", p.PredictedAvgTemperature)
		}
	}
}

func TestFit_NoTemperature(t *testing.T) {
	s := models.CanonicalSeries{Readings: []models.DailyReading{
		{Date: start, Values: map[models.Param]float64{models.ParamPrecipitation: 3}},
	}}
	if _, err := Fit(s); !errors.Is(err, ErrDegenerateFit) {
		t.Errorf("Fit error = %v, want ErrDegenerateFit", err)
	}
	if _, err := Fit(models.CanonicalSeries{}); !errors.Is(err, ErrDegenerateFit) {
		t.Errorf("Fit(empty) error = %v, want ErrDegenerateFit", err)
	}
}

func TestFit_SkipsReadingsWithoutTemperature(t *testing.T) {
	s := linearSeries(5, func(i int) float64 { return 3*float64(i) - 1 })
	s.Readings = append([]models.DailyReading{{
		Date:   start.AddDate(0, 0, -3),
		Values: map[models.Param]float64{models.ParamHumidity: 80},
	}}, s.Readings...)

	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !m.Start.Equal(start) {
		t.Errorf("Start = %s, want %s", m.Start, start)
	}
	if math.Abs(m.Slope-3) > 1e-9 || math.Abs(m.Intercept+1) > 1e-9 {
		t.Errorf("Fit = (%v, %v), want (3, -1)", m.Slope, m.Intercept)
	}
}
