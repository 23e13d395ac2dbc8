package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/normalize"
)

const queryDateLayout = "2006-01-02"

// Query asks a provider for daily data at a location. Zero Start/End leave
// the window to the provider's default.
type Query struct {
	Location models.Location
	Start    time.Time
	End      time.Time
}

// CacheKey identifies the payload a query produces for provider. Coordinates
// are rounded to 4dp (~11m) so near-identical requests share an entry.
func (q Query) CacheKey(provider string) string {
	return fmt.Sprintf("%s:%.4f,%.4f:%s:%s", provider, q.Location.Latitude, q.Location.Longitude,
		formatDate(q.Start), formatDate(q.End))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(queryDateLayout)
}

// FetchResult holds a provider response and the metadata needed for auditing.
type FetchResult struct {
	Body         []byte
	HTTPStatus   int
	ResponseSize int
	Attempts     int
}

// Provider is a daily weather data source whose payload shape is described
// by Mapping.
type Provider interface {
	Name() string
	Mapping() normalize.FieldMapping
	Fetch(ctx context.Context, q Query) (*FetchResult, error)
}

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the configured providers by name.
type Registry map[string]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

// Get looks up a provider, ignoring case and surrounding whitespace.
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, body)
}
