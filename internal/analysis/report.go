package analysis

import (
	"time"

	"github.com/lox/cropwatch/internal/cropscore"
	"github.com/lox/cropwatch/internal/ingest"
	"github.com/lox/cropwatch/internal/models"
)

const dateLayout = "2006-01-02"

// Report is the result of one analysis. Derived values are never cached; a
// report is recomputed in full for every request.
type Report struct {
	ID                string          `json:"id"`
	GeneratedAt       time.Time       `json:"generated_at"`
	Provider          string          `json:"provider"`
	Location          models.Location `json:"location"`
	Policy            string          `json:"policy"`
	PolicyDescription string          `json:"policy_description"`

	RequestedStart string `json:"requested_start,omitempty"`
	RequestedEnd   string `json:"requested_end,omitempty"`
	ObservedStart  string `json:"observed_start"`
	ObservedEnd    string `json:"observed_end"`

	Summary     Summary           `json:"summary"`
	PeriodScore float64           `json:"period_score"`
	Daily       []DailyRow        `json:"daily"`
	Impact      *cropscore.Impact `json:"impact,omitempty"`

	Trend      TrendSummary          `json:"trend"`
	Projection []ProjectedRow        `json:"projection"`
	Quality    []ingest.QualityIssue `json:"quality_issues,omitempty"`
}

// Summary aggregates the filtered period. Nil fields had no data.
type Summary struct {
	Days               int      `json:"days"`
	AvgTemperature     *float64 `json:"avg_temperature,omitempty"`
	MaxTemperature     *float64 `json:"max_temperature,omitempty"`
	MinTemperature     *float64 `json:"min_temperature,omitempty"`
	TotalPrecipitation *float64 `json:"total_precipitation,omitempty"`
	AvgHumidity        *float64 `json:"avg_humidity,omitempty"`
	AvgSolarRadiation  *float64 `json:"avg_solar_radiation,omitempty"`
}

// DailyRow is one reading with its score.
type DailyRow struct {
	Date   string                   `json:"date"`
	Values map[models.Param]float64 `json:"values"`
	Score  float64                  `json:"score"`
}

// TrendSummary describes the fitted temperature line. Degenerate is set when
// fewer than two points were available; the projection is then flat.
type TrendSummary struct {
	Slope      float64 `json:"slope_per_day"`
	Intercept  float64 `json:"intercept"`
	Points     int     `json:"points"`
	Degenerate bool    `json:"degenerate"`
}

type ProjectedRow struct {
	Date                    string  `json:"date"`
	PredictedAvgTemperature float64 `json:"predicted_avg_temperature"`
}

func summarize(s models.CanonicalSeries) Summary {
	sum := Summary{Days: s.Len()}
	if v, ok := s.Mean(models.ParamTemperature); ok {
		sum.AvgTemperature = &v
	}
	if vals := s.Values(models.ParamTemperatureMax); len(vals) > 0 {
		hi := vals[0]
		for _, v := range vals[1:] {
			if v > hi {
				hi = v
			}
		}
		sum.MaxTemperature = &hi
	}
	if vals := s.Values(models.ParamTemperatureMin); len(vals) > 0 {
		lo := vals[0]
		for _, v := range vals[1:] {
			if v < lo {
				lo = v
			}
		}
		sum.MinTemperature = &lo
	}
	if v, ok := s.Sum(models.ParamPrecipitation); ok {
		sum.TotalPrecipitation = &v
	}
	if v, ok := s.Mean(models.ParamHumidity); ok {
		sum.AvgHumidity = &v
	}
	if v, ok := s.Mean(models.ParamSolarRadiation); ok {
		sum.AvgSolarRadiation = &v
	}
	return sum
}

func dailyRows(s models.CanonicalSeries, scores []cropscore.DailyScore) []DailyRow {
	byDate := make(map[time.Time]float64, len(scores))
	for _, d := range scores {
		byDate[d.Date] = d.Score
	}
	rows := make([]DailyRow, 0, s.Len())
	for _, r := range s.Readings {
		rows = append(rows, DailyRow{
			Date:   r.Date.Format(dateLayout),
			Values: r.Values,
			Score:  byDate[r.Date],
		})
	}
	return rows
}

func projectedRows(points []models.ProjectedPoint) []ProjectedRow {
	rows := make([]ProjectedRow, len(points))
	for i, p := range points {
		rows[i] = ProjectedRow{Date: p.Date.Format(dateLayout), PredictedAvgTemperature: p.PredictedAvgTemperature}
	}
	return rows
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
