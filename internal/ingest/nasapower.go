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
	NASAPowerName    = "nasa-power"
	NASAPowerBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

	nasaDateLayout = "20060102"
	nasaFillValue  = -999.0

	// DefaultNASAWindow is the lookback used when a query has no range.
	DefaultNASAWindow = 365 * 24 * time.Hour
)

// NASAPower fetches daily agroclimatology data from the NASA POWER API.
type NASAPower struct {
	baseURL string
	req     *requester
	now     func() time.Time
}

func NewNASAPower(client *http.Client) *NASAPower {
	return &NASAPower{
		baseURL: NASAPowerBaseURL,
		req:     newRequester(NASAPowerName, client),
		now:     time.Now,
	}
}

func (n *NASAPower) SetBaseURL(u string) { n.baseURL = u }

func (n *NASAPower) Name() string { return NASAPowerName }

// Mapping describes properties.parameter, which POWER keys by parameter
// and then by YYYYMMDD date. -999 marks missing days.
func (n *NASAPower) Mapping() normalize.FieldMapping {
	fill := nasaFillValue
	return normalize.FieldMapping{
		Layout:     normalize.LayoutParameterKeyed,
		Container:  "properties.parameter",
		DateLayout: nasaDateLayout,
		FillValue:  &fill,
		Fields: []normalize.Field{
			{Param: models.ParamTemperature, Keys: []string{"T2M"}},
			{Param: models.ParamHumidity, Keys: []string{"RH2M"}},
			{Param: models.ParamPrecipitation, Keys: []string{"PRECTOTCORR"}},
			{Param: models.ParamSolarRadiation, Keys: []string{"ALLSKY_SFC_SW_DWN"}},
		},
	}
}

// window fills a missing range with the last DefaultNASAWindow ending today.
func (n *NASAPower) window(q Query) (time.Time, time.Time) {
	end := q.End
	if end.IsZero() {
		end = models.Day(n.now())
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-DefaultNASAWindow)
	}
	return start, end
}

func (n *NASAPower) buildURL(q Query) string {
	start, end := n.window(q)
	v := url.Values{}
	v.Set("parameters", "T2M,RH2M,PRECTOTCORR,ALLSKY_SFC_SW_DWN")
	v.Set("community", "AG")
	v.Set("latitude", strconv.FormatFloat(q.Location.Latitude, 'f', 4, 64))
	v.Set("longitude", strconv.FormatFloat(q.Location.Longitude, 'f', 4, 64))
	v.Set("start", start.Format(nasaDateLayout))
	v.Set("end", end.Format(nasaDateLayout))
	v.Set("format", "JSON")
	return n.baseURL + "?" + v.Encode()
}

func (n *NASAPower) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	return n.req.get(ctx, n.buildURL(q))
}
