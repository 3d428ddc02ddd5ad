// Package workbook adapts an xlsx file into the collect.FormulaSource
// collaborator. Read-only: the engine never mutates the workbook.
package workbook

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	"github.com/pivotcache-lab/pivotcache/internal/collect"
)

// Source reads formula cells and reference values from an open workbook.
type Source struct {
	f *excelize.File
}

// Open loads a workbook from disk.
func Open(path string) (*Source, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Source{f: f}, nil
}

// NewSource wraps an already-open excelize file.
func NewSource(f *excelize.File) *Source {
	return &Source{f: f}
}

// Close releases the underlying file.
func (s *Source) Close() error {
	return s.f.Close()
}

// ListFormulaCells returns every cell in scope that carries a formula, with
// its cached display value. Handles are sheet-qualified cell names.
func (s *Source) ListFormulaCells(ctx context.Context, scope string) ([]collect.FormulaCell, error) {
	sheets, bounds, err := s.resolveScope(scope)
	if err != nil {
		return nil, err
	}

	var cells []collect.FormulaCell
	for _, sheet := range sheets {
		rows, err := s.f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		for r, row := range rows {
			for c, display := range row {
				if bounds != nil && !bounds.contains(c+1, r+1) {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, fmt.Errorf("cell name for (%d,%d): %w", c+1, r+1, err)
				}
				formula, err := s.f.GetCellFormula(sheet, cell)
				if err != nil || formula == "" {
					continue
				}
				cells = append(cells, collect.FormulaCell{
					Handle:  sheet + "!" + cell,
					Formula: formula,
					Display: display,
				})
			}
		}
	}
	return cells, nil
}

// ResolveReference expands a cell or rectangular range reference to its
// literal values, row-major. Unqualified references resolve against the
// workbook's active sheet.
func (s *Source) ResolveReference(ref string) ([]string, error) {
	sheet := s.f.GetSheetName(s.f.GetActiveSheetIndex())

	ref = strings.ReplaceAll(ref, "$", "")
	if idx := strings.LastIndex(ref, "!"); idx >= 0 {
		sheet = strings.Trim(ref[:idx], "'")
		ref = ref[idx+1:]
	}

	if !strings.Contains(ref, ":") {
		value, err := s.f.GetCellValue(sheet, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s!%s: %w", sheet, ref, err)
		}
		return []string{value}, nil
	}

	corners := strings.SplitN(ref, ":", 2)
	c1, r1, err := excelize.CellNameToCoordinates(corners[0])
	if err != nil {
		return nil, fmt.Errorf("resolve %s!%s: %w", sheet, ref, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(corners[1])
	if err != nil {
		return nil, fmt.Errorf("resolve %s!%s: %w", sheet, ref, err)
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}

	var values []string
	for r := r1; r <= r2; r++ {
		for c := c1; c <= c2; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, fmt.Errorf("cell name for (%d,%d): %w", c, r, err)
			}
			value, err := s.f.GetCellValue(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("resolve %s!%s: %w", sheet, cell, err)
			}
			values = append(values, value)
		}
	}
	return values, nil
}

// rangeBounds is an inclusive rectangle in 1-based coordinates.
type rangeBounds struct {
	colMin, rowMin, colMax, rowMax int
}

func (b *rangeBounds) contains(col, row int) bool {
	return col >= b.colMin && col <= b.colMax && row >= b.rowMin && row <= b.rowMax
}

// resolveScope maps a scope string to the sheets (and optional rectangle) to
// walk. Supported scopes: "", "workbook", "sheet:<name>", "range:<sheet>!<ref>".
func (s *Source) resolveScope(scope string) ([]string, *rangeBounds, error) {
	switch {
	case scope == "" || scope == v1.ScopeWorkbook:
		return s.f.GetSheetList(), nil, nil

	case strings.HasPrefix(scope, v1.ScopeSheetPrefix):
		sheet := strings.TrimPrefix(scope, v1.ScopeSheetPrefix)
		if idx, err := s.f.GetSheetIndex(sheet); err != nil || idx < 0 {
			return nil, nil, fmt.Errorf("unknown sheet %q", sheet)
		}
		return []string{sheet}, nil, nil

	case strings.HasPrefix(scope, v1.ScopeRangePrefix):
		ref := strings.TrimPrefix(scope, v1.ScopeRangePrefix)
		idx := strings.LastIndex(ref, "!")
		if idx < 0 {
			return nil, nil, fmt.Errorf("range scope %q must be sheet-qualified", scope)
		}
		sheet := strings.Trim(ref[:idx], "'")
		corners := strings.SplitN(strings.ReplaceAll(ref[idx+1:], "$", ""), ":", 2)
		if len(corners) != 2 {
			return nil, nil, fmt.Errorf("range scope %q must name a rectangle", scope)
		}
		c1, r1, err := excelize.CellNameToCoordinates(corners[0])
		if err != nil {
			return nil, nil, fmt.Errorf("range scope %q: %w", scope, err)
		}
		c2, r2, err := excelize.CellNameToCoordinates(corners[1])
		if err != nil {
			return nil, nil, fmt.Errorf("range scope %q: %w", scope, err)
		}
		if c2 < c1 {
			c1, c2 = c2, c1
		}
		if r2 < r1 {
			r1, r2 = r2, r1
		}
		return []string{sheet}, &rangeBounds{colMin: c1, rowMin: r1, colMax: c2, rowMax: r2}, nil

	default:
		return nil, nil, fmt.Errorf("invalid scope %q", scope)
	}
}
