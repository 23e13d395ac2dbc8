package cropscore

import (
	"math"

	"github.com/lox/cropwatch/internal/models"
)

// LinearFactor scores a param by its distance from an ideal value.
type LinearFactor struct {
	Label       string
	Param       models.Param
	Ideal       float64
	PenaltyRate float64
	Weight      float64
}

// Score returns max(0, 100 - |v-ideal|*rate), or 0 when v is absent.
func (f LinearFactor) Score(v float64, ok bool) float64 {
	if !ok {
		return 0
	}
	return clamp(100 - math.Abs(v-f.Ideal)*f.PenaltyRate)
}

// LinearPolicy combines linear-penalty factors with a weighted sum.
//
// Its period score follows the rice dashboard: the period's mean temperature
// paired with its total rainfall. The daily curve pairs each day's temperature
// with that same period total.
type LinearPolicy struct {
	PolicyName string
	Summary    string
	Factors    []LinearFactor
}

// TwoFactor is the temperature/rainfall rice policy.
var TwoFactor = LinearPolicy{
	PolicyName: "two-factor",
	Summary:    "rice: temperature (ideal 25°C) and rainfall (ideal 125mm), linear penalty",
	Factors: []LinearFactor{
		{Label: "temperature", Param: models.ParamTemperature, Ideal: 25, PenaltyRate: 3, Weight: 0.6},
		{Label: "rainfall", Param: models.ParamPrecipitation, Ideal: 125, PenaltyRate: 0.8, Weight: 0.4},
	},
}

func (p LinearPolicy) Name() string        { return p.PolicyName }
func (p LinearPolicy) Description() string { return p.Summary }

func (p LinearPolicy) Required() []models.Param {
	params := make([]models.Param, 0, len(p.Factors))
	for _, f := range p.Factors {
		params = append(params, f.Param)
	}
	return params
}

func (p LinearPolicy) Validate() error {
	weights := make([]float64, 0, len(p.Factors))
	for _, f := range p.Factors {
		weights = append(weights, f.Weight)
	}
	return checkWeights(p.PolicyName, weights)
}

func (p LinearPolicy) Score(r models.DailyReading) float64 {
	var total float64
	for _, f := range p.Factors {
		v, ok := r.Get(f.Param)
		total += f.Weight * f.Score(v, ok)
	}
	return clamp(total)
}

// FactorScores returns each factor's score keyed by label.
func (p LinearPolicy) FactorScores(r models.DailyReading) map[string]float64 {
	scores := make(map[string]float64, len(p.Factors))
	for _, f := range p.Factors {
		v, ok := r.Get(f.Param)
		scores[f.Label] = f.Score(v, ok)
	}
	return scores
}

func (p LinearPolicy) ScoreSeries(s models.CanonicalSeries) SeriesScore {
	var out SeriesScore
	if s.Len() == 0 {
		return out
	}

	// Temperature-like factors roll up as a mean, rainfall as a total.
	period := models.DailyReading{Values: make(map[models.Param]float64, len(p.Factors))}
	for _, f := range p.Factors {
		var v float64
		var ok bool
		if f.Param == models.ParamPrecipitation {
			v, ok = s.Sum(f.Param)
		} else {
			v, ok = s.Mean(f.Param)
		}
		if ok {
			period.Values[f.Param] = v
		}
	}
	out.Period = p.Score(period)

	total, hasTotal := period.Get(models.ParamPrecipitation)
	out.Daily = make([]DailyScore, 0, s.Len())
	for _, r := range s.Readings {
		day := r
		if hasTotal {
			day = r.With(models.ParamPrecipitation, total)
		}
		out.Daily = append(out.Daily, DailyScore{Date: r.Date, Score: p.Score(day)})
	}
	return out
}
