package cropscore

import "fmt"

// Level grades a condition against what most crops tolerate.
type Level string

const (
	LevelLow     Level = "low"
	LevelOptimal Level = "optimal"
	LevelHigh    Level = "high"
)

// Impact is a qualitative reading of a period's weather for crops.
type Impact struct {
	RainfallLevel     Level  `json:"rainfall_level"`
	RainfallEffect    string `json:"rainfall_effect"`
	TemperatureLevel  Level  `json:"temperature_level"`
	TemperatureEffect string `json:"temperature_effect"`
}

// AssessImpact grades a period's mean temperature (°C) and total rainfall
// (mm). Band edges are inclusive of the optimal range.
func AssessImpact(avgTemp, totalRainfall float64) Impact {
	var im Impact

	switch {
	case totalRainfall < 50:
		im.RainfallLevel = LevelLow
		im.RainfallEffect = "Low rainfall, irrigation needed."
	case totalRainfall <= 150:
		im.RainfallLevel = LevelOptimal
		im.RainfallEffect = "Optimal rainfall for most crops."
	default:
		im.RainfallLevel = LevelHigh
		im.RainfallEffect = "Excess rainfall, risk of waterlogging."
	}

	switch {
	case avgTemp < 20:
		im.TemperatureLevel = LevelLow
		im.TemperatureEffect = "Low temperature, slow growth likely."
	case avgTemp <= 30:
		im.TemperatureLevel = LevelOptimal
		im.TemperatureEffect = "Optimal temperature for growth."
	default:
		im.TemperatureLevel = LevelHigh
		im.TemperatureEffect = "High temperature, risk of heat stress."
	}

	return im
}

func (im Impact) String() string {
	return fmt.Sprintf("Rainfall impact: %s\nTemperature impact: %s", im.RainfallEffect, im.TemperatureEffect)
}
