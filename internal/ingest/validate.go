package ingest

import (
	"github.com/lox/cropwatch/internal/models"
)

const (
	FlagTempOutOfRange  = "temp_out_of_range"
	FlagTempMinAboveMax = "temp_min_above_max"
	FlagHumidityInvalid = "humidity_invalid"
	FlagPrecipNegative  = "precip_negative"
	FlagPrecipUnlikely  = "precip_unlikely"
	FlagSolarOutOfRange = "solar_out_of_range"
)

// QualityIssue lists the plausibility flags raised for one day.
type QualityIssue struct {
	Date  string   `json:"date"`
	Flags []string `json:"flags"`
}

// ValidateReading flags physically implausible values. Flagged readings are
// still scored; the flags are reported alongside.
func ValidateReading(r models.DailyReading) []string {
	var flags []string

	for _, p := range []models.Param{models.ParamTemperature, models.ParamTemperatureMax, models.ParamTemperatureMin} {
		if v, ok := r.Get(p); ok && (v < -60 || v > 60) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	maxT, okMax := r.Get(models.ParamTemperatureMax)
	minT, okMin := r.Get(models.ParamTemperatureMin)
	if okMax && okMin && minT > maxT {
		flags = append(flags, FlagTempMinAboveMax)
	}

	if v, ok := r.Get(models.ParamHumidity); ok && (v < 0 || v > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}

	if v, ok := r.Get(models.ParamPrecipitation); ok {
		if v < 0 {
			flags = append(flags, FlagPrecipNegative)
		} else if v > 1000 {
			flags = append(flags, FlagPrecipUnlikely)
		}
	}

	// Top-of-atmosphere daily insolation never exceeds ~12 kWh/m².
	if v, ok := r.Get(models.ParamSolarRadiation); ok && (v < 0 || v > 12) {
		flags = append(flags, FlagSolarOutOfRange)
	}

	return flags
}

// ValidateSeries returns the issues for every flagged day, in date order.
func ValidateSeries(s models.CanonicalSeries) []QualityIssue {
	var issues []QualityIssue
	for _, r := range s.Readings {
		if flags := ValidateReading(r); len(flags) > 0 {
			issues = append(issues, QualityIssue{Date: r.Date.Format(queryDateLayout), Flags: flags})
		}
	}
	return issues
}
