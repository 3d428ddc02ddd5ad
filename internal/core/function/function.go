package function

import (
	"fmt"
	"strings"
)

// DataType classifies how a parameter value is canonicalized and rendered.
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeNumber DataType = "number"
	DataTypeDate   DataType = "date"
)

// FilterKind describes how a parameter constrains the measure.
type FilterKind string

const (
	// FilterList matches the field against one or more discrete values.
	FilterList FilterKind = "list"
	// FilterRangeStart constrains the field to values >= the parameter.
	FilterRangeStart FilterKind = "range_start"
	// FilterRangeEnd constrains the field to values <= the parameter.
	FilterRangeEnd FilterKind = "range_end"
)

// ParameterDescriptor describes one positional parameter of a registered function.
type ParameterDescriptor struct {
	Name       string     `yaml:"name"`
	Position   int        `yaml:"position"`
	Table      string     `yaml:"table"`
	Field      string     `yaml:"field"`
	DataType   DataType   `yaml:"data_type"`
	FilterKind FilterKind `yaml:"filter_kind"`
	Optional   bool       `yaml:"optional"`
}

// FieldRef returns the qualified column reference for filter predicates.
func (p ParameterDescriptor) FieldRef() string {
	if p.Table == "" {
		return p.Field
	}
	return p.Table + "." + p.Field
}

// FunctionDescriptor describes one spreadsheet function backed by an aggregate query.
// Descriptors are immutable after load and are referenced, never copied, by every
// pending evaluation created for that function.
type FunctionDescriptor struct {
	// Name is the function name as it appears in formulas. Unique, case-insensitive.
	Name string `yaml:"name"`

	// Source is the fact table the measure is computed over.
	Source string `yaml:"source"`

	// MeasureExpr is the aggregate expression to compute, e.g. "SUM(sales.amount)".
	// Opaque to the engine; forwarded verbatim into rendered queries.
	MeasureExpr string `yaml:"measure"`

	Parameters []ParameterDescriptor `yaml:"parameters"`
}

// Validate checks structural invariants: non-empty identity fields, dense
// 0..n-1 parameter positions and known type/kind enums.
func (d *FunctionDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("function name must not be empty")
	}
	if strings.TrimSpace(d.Source) == "" {
		return fmt.Errorf("function %q: source table must not be empty", d.Name)
	}
	if strings.TrimSpace(d.MeasureExpr) == "" {
		return fmt.Errorf("function %q: measure must not be empty", d.Name)
	}

	seen := make(map[int]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("function %q: parameter at position %d has no name", d.Name, p.Position)
		}
		if strings.TrimSpace(p.Field) == "" {
			return fmt.Errorf("function %q: parameter %q has no field", d.Name, p.Name)
		}
		if p.Position < 0 || p.Position >= len(d.Parameters) {
			return fmt.Errorf("function %q: parameter %q position %d out of range", d.Name, p.Name, p.Position)
		}
		if seen[p.Position] {
			return fmt.Errorf("function %q: duplicate parameter position %d", d.Name, p.Position)
		}
		seen[p.Position] = true

		switch p.DataType {
		case DataTypeText, DataTypeNumber, DataTypeDate:
		default:
			return fmt.Errorf("function %q: parameter %q has unsupported data_type %q", d.Name, p.Name, p.DataType)
		}
		switch p.FilterKind {
		case FilterList, FilterRangeStart, FilterRangeEnd:
		default:
			return fmt.Errorf("function %q: parameter %q has unsupported filter_kind %q", d.Name, p.Name, p.FilterKind)
		}
	}
	return nil
}

// ParamAt returns the descriptor for a 0-based position, or nil when the
// position is beyond the declared parameter list.
func (d *FunctionDescriptor) ParamAt(position int) *ParameterDescriptor {
	for i := range d.Parameters {
		if d.Parameters[i].Position == position {
			return &d.Parameters[i]
		}
	}
	return nil
}

// sortedParameters returns parameters ordered by position. Load normalizes the
// slice once so callers can index it directly.
func (d *FunctionDescriptor) sortParameters() {
	ordered := make([]ParameterDescriptor, len(d.Parameters))
	for _, p := range d.Parameters {
		ordered[p.Position] = p
	}
	d.Parameters = ordered
}
