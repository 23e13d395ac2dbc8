package normalize

import (
	"fmt"

	"github.com/lox/cropwatch/internal/models"
)

// Layout describes how a provider arranges its daily values.
type Layout int

const (
	// LayoutDateKeyed is {"20240101": {"T2M": 25.1, ...}, ...}.
	LayoutDateKeyed Layout = iota
	// LayoutParameterKeyed is {"T2M": {"20240101": 25.1, ...}, ...}, the
	// orientation NASA POWER actually serves. It is pivoted to date-keyed.
	LayoutParameterKeyed
	// LayoutParallelArrays is {"time": ["2024-01-01", ...], "temperature_2m_max": [...]}.
	LayoutParallelArrays
)

func (l Layout) String() string {
	switch l {
	case LayoutDateKeyed:
		return "date-keyed"
	case LayoutParameterKeyed:
		return "parameter-keyed"
	case LayoutParallelArrays:
		return "parallel-arrays"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// Field maps one canonical param onto source keys. With several keys the
// value is their arithmetic mean and every key must be present.
type Field struct {
	Param    models.Param
	Keys     []string
	Scale    float64 // 0 means 1
	Required bool
}

// FieldMapping tells Normalize where to find each param in a payload.
type FieldMapping struct {
	Layout     Layout
	Container  string // gjson path; empty means the payload root
	DateKey    string // parallel arrays only, defaults to "time"
	DateLayout string // Go time layout of the date strings
	Fields     []Field
	FillValue  *float64 // provider sentinel for missing data
}

// WithRequired returns a copy of m with the given params marked required.
// Params the mapping has no field for are ignored.
func (m FieldMapping) WithRequired(params ...models.Param) FieldMapping {
	out := m
	out.Fields = make([]Field, len(m.Fields))
	copy(out.Fields, m.Fields)
	for i := range out.Fields {
		for _, p := range params {
			if out.Fields[i].Param == p {
				out.Fields[i].Required = true
			}
		}
	}
	return out
}

// Provides reports whether the mapping has a field for p.
func (m FieldMapping) Provides(p models.Param) bool {
	for _, f := range m.Fields {
		if f.Param == p {
			return true
		}
	}
	return false
}

// Required lists the params marked required.
func (m FieldMapping) Required() []models.Param {
	var req []models.Param
	for _, f := range m.Fields {
		if f.Required {
			req = append(req, f.Param)
		}
	}
	return req
}

func (m FieldMapping) validate() error {
	if m.DateLayout == "" {
		return fmt.Errorf("mapping has no date layout")
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("mapping has no fields")
	}
	seen := make(map[models.Param]bool)
	for _, f := range m.Fields {
		if len(f.Keys) == 0 {
			return fmt.Errorf("field %s has no source keys", f.Param)
		}
		if seen[f.Param] {
			return fmt.Errorf("field %s mapped twice", f.Param)
		}
		seen[f.Param] = true
	}
	return nil
}

func (m FieldMapping) dateKey() string {
	if m.DateKey == "" {
		return "time"
	}
	return m.DateKey
}
