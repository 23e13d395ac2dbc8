package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/cropwatch/internal/models"
	"github.com/lox/cropwatch/internal/normalize"
)

const (
	OpenMeteoName    = "open-meteo"
	OpenMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"

	// DefaultOpenMeteoWindow fills the start of a range given only an end.
	DefaultOpenMeteoWindow = 7 * 24 * time.Hour
)

var openMeteoDaily = "temperature_2m_max,temperature_2m_min,precipitation_sum,relative_humidity_2m_mean,shortwave_radiation_sum"

// OpenMeteo fetches daily aggregates from the Open-Meteo forecast API.
type OpenMeteo struct {
	baseURL  string
	timezone string
	req      *requester
	now      func() time.Time
}

func NewOpenMeteo(client *http.Client, timezone string) *OpenMeteo {
	if timezone == "" {
		timezone = "Asia/Kolkata"
	}
	return &OpenMeteo{
		baseURL:  OpenMeteoBaseURL,
		timezone: timezone,
		req:      newRequester(OpenMeteoName, client),
		now:      time.Now,
	}
}

// SetBaseURL points the client at another host, mostly for tests.
func (o *OpenMeteo) SetBaseURL(u string) { o.baseURL = u }

func (o *OpenMeteo) Name() string { return OpenMeteoName }

// Mapping describes the daily parallel arrays. Average temperature is the
// mean of the daily max and min; shortwave radiation arrives in MJ/m² and is
// converted to kWh/m².
func (o *OpenMeteo) Mapping() normalize.FieldMapping {
	return normalize.FieldMapping{
		Layout:     normalize.LayoutParallelArrays,
		Container:  "daily",
		DateKey:    "time",
		DateLayout: "2006-01-02",
		Fields: []normalize.Field{
			{Param: models.ParamTemperature, Keys: []string{"temperature_2m_max", "temperature_2m_min"}},
			{Param: models.ParamTemperatureMax, Keys: []string{"temperature_2m_max"}},
			{Param: models.ParamTemperatureMin, Keys: []string{"temperature_2m_min"}},
			{Param: models.ParamPrecipitation, Keys: []string{"precipitation_sum"}},
			{Param: models.ParamHumidity, Keys: []string{"relative_humidity_2m_mean"}},
			{Param: models.ParamSolarRadiation, Keys: []string{"shortwave_radiation_sum"}, Scale: 1 / 3.6},
		},
	}
}

// window completes a half-open range, since the API wants start_date and
// end_date together. A start alone runs to today (or the start itself when it
// lies ahead); an end alone looks back DefaultOpenMeteoWindow.
func (o *OpenMeteo) window(q Query) (time.Time, time.Time) {
	start, end := q.Start, q.End
	switch {
	case start.IsZero() && end.IsZero():
	case end.IsZero():
		end = models.Day(o.now())
		if end.Before(start) {
			end = start
		}
	case start.IsZero():
		start = end.Add(-DefaultOpenMeteoWindow)
	}
	return start, end
}

func (o *OpenMeteo) buildURL(q Query) string {
	start, end := o.window(q)
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(q.Location.Latitude, 'f', 4, 64))
	v.Set("longitude", strconv.FormatFloat(q.Location.Longitude, 'f', 4, 64))
	v.Set("daily", openMeteoDaily)
	v.Set("timezone", o.timezone)
	if !start.IsZero() {
		v.Set("start_date", start.Format(queryDateLayout))
		v.Set("end_date", end.Format(queryDateLayout))
	}
	return o.baseURL + "?" + v.Encode()
}

// Fetch returns the raw daily payload. Without a date range Open-Meteo
// serves its default forecast window.
func (o *OpenMeteo) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	return o.req.get(ctx, o.buildURL(q))
}
