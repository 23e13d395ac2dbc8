// Package normalize turns provider payloads into a canonical daily series.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/cropwatch/internal/models"
)

var (
	// ErrMalformedPayload means the payload is structurally unusable.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptySeries means no readings survived filtering.
	ErrEmptySeries = errors.New("empty series")
)

type rawRow struct {
	date   time.Time
	values map[string]gjson.Result
}

// Normalize reads payload according to mapping. Readings missing a required
// field are dropped whole. The result is ordered by date.
func Normalize(payload []byte, mapping FieldMapping) (models.CanonicalSeries, error) {
	if err := mapping.validate(); err != nil {
		return models.CanonicalSeries{}, fmt.Errorf("normalize: %w", err)
	}
	if !gjson.ValidBytes(payload) {
		return models.CanonicalSeries{}, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}

	container := gjson.ParseBytes(payload)
	if mapping.Container != "" {
		container = container.Get(mapping.Container)
	}
	if !container.Exists() {
		return models.CanonicalSeries{}, fmt.Errorf("%w: missing container %q", ErrMalformedPayload, mapping.Container)
	}

	var (
		rows []rawRow
		err  error
	)
	switch mapping.Layout {
	case LayoutDateKeyed:
		rows, err = dateKeyedRows(container, mapping)
	case LayoutParameterKeyed:
		rows, err = parameterKeyedRows(container, mapping)
	case LayoutParallelArrays:
		rows, err = parallelArrayRows(container, mapping)
	default:
		err = fmt.Errorf("normalize: unsupported layout %s", mapping.Layout)
	}
	if err != nil {
		return models.CanonicalSeries{}, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })
	for i := 1; i < len(rows); i++ {
		if rows[i].date.Equal(rows[i-1].date) {
			return models.CanonicalSeries{}, fmt.Errorf("%w: duplicate date %s", ErrMalformedPayload, rows[i].date.Format("2006-01-02"))
		}
	}

	series := models.CanonicalSeries{Required: mapping.Required()}
	for _, row := range rows {
		reading, ok := buildReading(row, mapping)
		if !ok {
			continue
		}
		series.Readings = append(series.Readings, reading)
	}

	if len(series.Readings) == 0 {
		return models.CanonicalSeries{}, fmt.Errorf("%w: %d records, none usable", ErrEmptySeries, len(rows))
	}
	return series, nil
}

func buildReading(row rawRow, mapping FieldMapping) (models.DailyReading, bool) {
	reading := models.DailyReading{Date: row.date, Values: make(map[models.Param]float64, len(mapping.Fields))}
	for _, f := range mapping.Fields {
		v, ok := fieldValue(row, f, mapping.FillValue)
		if !ok {
			if f.Required {
				return models.DailyReading{}, false
			}
			continue
		}
		reading.Values[f.Param] = v
	}
	return reading, true
}

func fieldValue(row rawRow, f Field, fill *float64) (float64, bool) {
	var sum float64
	for _, key := range f.Keys {
		v, ok := number(row.values[key], fill)
		if !ok {
			return 0, false
		}
		sum += v
	}
	v := sum / float64(len(f.Keys))
	if f.Scale != 0 {
		v *= f.Scale
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func number(r gjson.Result, fill *float64) (float64, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	v := r.Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if fill != nil && v == *fill {
		return 0, false
	}
	return v, true
}

func parseDate(s, layout string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrMalformedPayload, s, err)
	}
	return models.Day(t), nil
}

func dateKeyedRows(container gjson.Result, mapping FieldMapping) ([]rawRow, error) {
	if !container.IsObject() {
		return nil, fmt.Errorf("%w: container is not an object", ErrMalformedPayload)
	}

	var rows []rawRow
	var err error
	container.ForEach(func(key, value gjson.Result) bool {
		var date time.Time
		date, err = parseDate(key.String(), mapping.DateLayout)
		if err != nil {
			return false
		}
		if !value.IsObject() {
			err = fmt.Errorf("%w: record %q is not an object", ErrMalformedPayload, key.String())
			return false
		}
		rows = append(rows, rawRow{date: date, values: objectFields(value)})
		return true
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func parameterKeyedRows(container gjson.Result, mapping FieldMapping) ([]rawRow, error) {
	if !container.IsObject() {
		return nil, fmt.Errorf("%w: container is not an object", ErrMalformedPayload)
	}

	byDate := make(map[string]*rawRow)
	var order []string
	var err error
	container.ForEach(func(param, series gjson.Result) bool {
		if !series.IsObject() {
			err = fmt.Errorf("%w: parameter %q is not an object", ErrMalformedPayload, param.String())
			return false
		}
		series.ForEach(func(dateKey, value gjson.Result) bool {
			row, ok := byDate[dateKey.String()]
			if !ok {
				var date time.Time
				date, err = parseDate(dateKey.String(), mapping.DateLayout)
				if err != nil {
					return false
				}
				row = &rawRow{date: date, values: make(map[string]gjson.Result)}
				byDate[dateKey.String()] = row
				order = append(order, dateKey.String())
			}
			row.values[param.String()] = value
			return true
		})
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]rawRow, 0, len(order))
	for _, key := range order {
		rows = append(rows, *byDate[key])
	}
	return rows, nil
}

func parallelArrayRows(container gjson.Result, mapping FieldMapping) ([]rawRow, error) {
	if !container.IsObject() {
		return nil, fmt.Errorf("%w: container is not an object", ErrMalformedPayload)
	}
	fields := objectFields(container)

	dates, ok := fields[mapping.dateKey()]
	if !ok || !dates.IsArray() {
		return nil, fmt.Errorf("%w: missing %q array", ErrMalformedPayload, mapping.dateKey())
	}
	dateValues := dates.Array()

	columns := make(map[string][]gjson.Result)
	for _, f := range mapping.Fields {
		for _, key := range f.Keys {
			if _, done := columns[key]; done {
				continue
			}
			col, ok := fields[key]
			if !ok {
				if f.Required {
					return nil, fmt.Errorf("%w: missing required array %q", ErrMalformedPayload, key)
				}
				continue
			}
			if !col.IsArray() {
				return nil, fmt.Errorf("%w: %q is not an array", ErrMalformedPayload, key)
			}
			values := col.Array()
			if len(values) != len(dateValues) {
				return nil, fmt.Errorf("%w: %q has %d values for %d dates", ErrMalformedPayload, key, len(values), len(dateValues))
			}
			columns[key] = values
		}
	}

	rows := make([]rawRow, 0, len(dateValues))
	for i, d := range dateValues {
		date, err := parseDate(d.String(), mapping.DateLayout)
		if err != nil {
			return nil, err
		}
		row := rawRow{date: date, values: make(map[string]gjson.Result, len(columns))}
		for key, values := range columns {
			row.values[key] = values[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// objectFields indexes an object's members by key. Keys are matched
// literally, so provider names containing gjson path syntax are safe.
func objectFields(obj gjson.Result) map[string]gjson.Result {
	fields := make(map[string]gjson.Result)
	obj.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = value
		return true
	})
	return fields
}
