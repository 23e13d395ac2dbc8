// Package analysis runs the fetch, normalize, score and project pipeline for
// one location and date range.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lox/cropwatch/internal/cropscore"
	"github.com/lox/cropwatch/internal/ingest"
	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/normalize"
	"github.com/lox/cropwatch/internal/trend"
)

var validate = validator.New()

// Request selects what to analyse. Zero Start/End leave the window open.
type Request struct {
	Provider  string    `validate:"required,oneof=open-meteo nasa-power"`
	Latitude  float64   `validate:"gte=-90,lte=90"`
	Longitude float64   `validate:"gte=-180,lte=180"`
	Name      string    `validate:"max=100"`
	Start     time.Time
	End       time.Time `validate:"omitempty,gtefield=Start"`
	Policy    string    `validate:"required"`
	Horizon   int       `validate:"gte=0,lte=365"`
}

// ValidationError is a request the service refuses to run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FetchError wraps a failure to obtain a provider payload.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Provider, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// PayloadFetcher returns a provider's raw payload for a query.
type PayloadFetcher interface {
	Fetch(ctx context.Context, p ingest.Provider, q ingest.Query) ([]byte, error)
}

type Service struct {
	providers ingest.Registry
	fetcher   PayloadFetcher
	now       func() time.Time
}

func NewService(providers ingest.Registry, fetcher PayloadFetcher) *Service {
	return &Service{providers: providers, fetcher: fetcher, now: time.Now}
}

// Providers lists the configured provider names.
func (s *Service) Providers() []string {
	return s.providers.Names()
}

// Analyze fetches the payload, normalizes it with the policy's required
// fields, scores the requested range and projects the temperature trend.
// The trend is fitted on the whole normalized series, not just the range.
func (s *Service) Analyze(ctx context.Context, req Request) (report *Report, err error) {
	policyLabel := "unknown"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = ErrorKind(err)
		}
		metrics.AnalysesTotal.WithLabelValues(policyLabel, outcome).Inc()
	}()

	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Start = models.Day(req.Start)
	req.End = models.Day(req.End)
	if err := checkRequest(req); err != nil {
		return nil, err
	}

	policy, err := cropscore.Lookup(req.Policy)
	if err != nil {
		return nil, err
	}
	policyLabel = policy.Name()

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, &ValidationError{Field: "Provider", Message: err.Error()}
	}

	mapping := provider.Mapping().WithRequired(policy.Required()...)
	for _, p := range policy.Required() {
		if !mapping.Provides(p) {
			return nil, &ValidationError{Field: "Policy", Message: fmt.Sprintf("%s does not supply %s needed by %s", provider.Name(), p, policy.Name())}
		}
	}

	loc := models.Location{Name: req.Name, Latitude: req.Latitude, Longitude: req.Longitude}
	payload, err := s.fetcher.Fetch(ctx, provider, ingest.Query{Location: loc, Start: req.Start, End: req.End})
	if err != nil {
		return nil, &FetchError{Provider: provider.Name(), Err: err}
	}

	full, err := normalize.Normalize(payload, mapping)
	if err != nil {
		return nil, fmt.Errorf("normalize %s payload: %w", provider.Name(), err)
	}

	filtered := full.Between(req.Start, req.End)
	if filtered.Len() == 0 {
		return nil, fmt.Errorf("%w: no data for selected range", normalize.ErrEmptySeries)
	}

	scores := policy.ScoreSeries(filtered)
	first, _ := filtered.First()
	last, _ := filtered.Last()

	report = &Report{
		ID:                uuid.NewString(),
		GeneratedAt:       s.now().UTC(),
		Provider:          provider.Name(),
		Location:          loc,
		Policy:            policy.Name(),
		PolicyDescription: policy.Description(),
		RequestedStart:    formatDay(req.Start),
		RequestedEnd:      formatDay(req.End),
		ObservedStart:     first.Date.Format(dateLayout),
		ObservedEnd:       last.Date.Format(dateLayout),
		Summary:           summarize(filtered),
		PeriodScore:       scores.Period,
		Daily:             dailyRows(filtered, scores.Daily),
		Quality:           ingest.ValidateSeries(filtered),
	}

	if report.Summary.AvgTemperature != nil && report.Summary.TotalPrecipitation != nil {
		im := cropscore.AssessImpact(*report.Summary.AvgTemperature, *report.Summary.TotalPrecipitation)
		report.Impact = &im
	}

	model, fitErr := trend.Fit(full)
	switch {
	case fitErr == nil:
	case errors.Is(fitErr, trend.ErrDegenerateFit):
		report.Trend.Degenerate = true
		if model.Points == 0 {
			log.Printf("analysis: %s: no trend: %v", report.ID, fitErr)
		}
	default:
		return nil, fmt.Errorf("fit trend: %w", fitErr)
	}
	report.Trend.Slope = model.Slope
	report.Trend.Intercept = model.Intercept
	report.Trend.Points = model.Points
	if model.Points > 0 {
		report.Projection = projectedRows(trend.Project(model, req.Horizon))
	}

	log.Printf("analysis: %s %s %s %s..%s days=%d score=%.1f", report.ID, provider.Name(), policy.Name(),
		report.ObservedStart, report.ObservedEnd, filtered.Len(), scores.Period)
	return report, nil
}

func checkRequest(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: describe(fe)}
	}
	return &ValidationError{Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must not be before %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

// ErrorKind classifies an Analyze error as validation, not_found, upstream
// or internal.
func ErrorKind(err error) string {
	var verr *ValidationError
	var ferr *FetchError
	switch {
	case errors.As(err, &verr), errors.Is(err, cropscore.ErrUnknownPolicy), errors.Is(err, ingest.ErrUnknownProvider):
		return "validation"
	case errors.Is(err, normalize.ErrEmptySeries):
		return "not_found"
	case errors.As(err, &ferr), errors.Is(err, normalize.ErrMalformedPayload):
		return "upstream"
	default:
		return "internal"
	}
}
