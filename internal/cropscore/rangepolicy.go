package cropscore

import (
	"math"

	"github.com/lox/cropwatch/internal/models"
)

// Band is a tolerated range around an ideal value.
type Band struct {
	Min   float64
	Max   float64
	Ideal float64
}

// RangeFactor scores a param against a Band.
type RangeFactor struct {
	Param  models.Param
	Band   Band
	Weight float64
}

// RangePolicy scores each factor with a quadratic falloff inside its band and
// a steep linear penalty outside it.
type RangePolicy struct {
	PolicyName     string
	Summary        string
	Factors        []RangeFactor
	OutsidePenalty float64
	RequiredParams []models.Param
}

// FourFactor is the NASA POWER rice policy.
var FourFactor = RangePolicy{
	PolicyName: "four-factor",
	Summary:    "rice: temperature, humidity, precipitation and solar radiation against ideal bands, quadratic falloff",
	Factors: []RangeFactor{
		{Param: models.ParamTemperature, Band: Band{Min: 20, Max: 35, Ideal: 25}, Weight: 0.35},
		{Param: models.ParamHumidity, Band: Band{Min: 60, Max: 80, Ideal: 70}, Weight: 0.20},
		{Param: models.ParamPrecipitation, Band: Band{Min: 100, Max: 200, Ideal: 150}, Weight: 0.30},
		{Param: models.ParamSolarRadiation, Band: Band{Min: 4, Max: 6, Ideal: 5}, Weight: 0.15},
	},
	OutsidePenalty: 5,
	RequiredParams: []models.Param{models.ParamTemperature},
}

func (p RangePolicy) Name() string        { return p.PolicyName }
func (p RangePolicy) Description() string { return p.Summary }

func (p RangePolicy) Required() []models.Param {
	out := make([]models.Param, len(p.RequiredParams))
	copy(out, p.RequiredParams)
	return out
}

func (p RangePolicy) Validate() error {
	weights := make([]float64, 0, len(p.Factors))
	for _, f := range p.Factors {
		weights = append(weights, f.Weight)
	}
	return checkWeights(p.PolicyName, weights)
}

// ParamScore scores a single value against band.
func ParamScore(v float64, ok bool, band Band, outsidePenalty float64) float64 {
	if !ok || math.IsNaN(v) {
		return 0
	}
	distance := math.Abs(v - band.Ideal)
	if v < band.Min || v > band.Max {
		return clamp(100 - distance*outsidePenalty)
	}
	maxDistance := math.Max(math.Abs(band.Min-band.Ideal), math.Abs(band.Max-band.Ideal))
	if maxDistance == 0 {
		return 100
	}
	ratio := distance / maxDistance
	return clamp(100 * (1 - ratio*ratio))
}

func (p RangePolicy) Score(r models.DailyReading) float64 {
	var total float64
	for _, f := range p.Factors {
		v, ok := r.Get(f.Param)
		total += f.Weight * ParamScore(v, ok, f.Band, p.OutsidePenalty)
	}
	return clamp(total)
}

// FactorScores returns each factor's score keyed by param.
func (p RangePolicy) FactorScores(r models.DailyReading) map[string]float64 {
	scores := make(map[string]float64, len(p.Factors))
	for _, f := range p.Factors {
		v, ok := r.Get(f.Param)
		scores[string(f.Param)] = ParamScore(v, ok, f.Band, p.OutsidePenalty)
	}
	return scores
}

// ScoreSeries scores every day and reports their mean as the period score.
func (p RangePolicy) ScoreSeries(s models.CanonicalSeries) SeriesScore {
	var out SeriesScore
	if s.Len() == 0 {
		return out
	}
	out.Daily = make([]DailyScore, 0, s.Len())
	var sum float64
	for _, r := range s.Readings {
		score := p.Score(r)
		sum += score
		out.Daily = append(out.Daily, DailyScore{Date: r.Date, Score: score})
	}
	out.Period = clamp(sum / float64(len(out.Daily)))
	return out
}
