// Package cropscore computes heuristic 0–100 crop health scores from daily
// weather readings.
package cropscore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

var ErrUnknownPolicy = errors.New("unknown scoring policy")

const weightTolerance = 1e-9

// Strategy is a named scoring policy.
type Strategy interface {
	Name() string
	Description() string
	// Required lists params whose absence makes a reading unscorable. The
	// normalizer drops such readings before they get here.
	Required() []models.Param
	Score(r models.DailyReading) float64
	ScoreSeries(s models.CanonicalSeries) SeriesScore
	Validate() error
}

// DailyScore is one day's score.
type DailyScore struct {
	Date  time.Time
	Score float64
}

// SeriesScore is a whole-period score plus the per-day curve.
type SeriesScore struct {
	Period float64
	Daily  []DailyScore
}

var registry = map[string]Strategy{}
var aliases = map[string]string{}

func register(s Strategy, names ...string) {
	registry[s.Name()] = s
	for _, n := range names {
		aliases[n] = s.Name()
	}
}

func init() {
	register(TwoFactor, "a", "linear", "rice-linear")
	register(FourFactor, "b", "range", "rice-range")
}

// Lookup returns the policy registered under name or one of its aliases.
func Lookup(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	s, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return s, nil
}

// Policies returns all registered policies sorted by name.
func Policies() []Strategy {
	out := make([]Strategy, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}

func checkWeights(name string, weights []float64) error {
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("policy %s: negative weight %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("policy %s: weights sum to %v, want 1", name, sum)
	}
	return nil
}
