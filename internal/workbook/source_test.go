package workbook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pivotcache-lab/pivotcache/internal/collect"
)

func newTestSource(t *testing.T) *Source {
	t.Helper()

	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })

	require.NoError(t, f.SetCellValue("Sheet1", "A1", "west"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "east"))
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "north"))
	require.NoError(t, f.SetCellFormula("Sheet1", "B1", `SALESTOTAL("west",2024)`))
	require.NoError(t, f.SetCellFormula("Sheet1", "B2", `SALESTOTAL("east",2024)`))

	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Data", "A1", "42"))
	require.NoError(t, f.SetCellFormula("Data", "C3", `SALESTOTAL("north",2023)`))

	return NewSource(f)
}

func handles(cells []collect.FormulaCell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Handle
	}
	return out
}

func TestListFormulaCells_WorkbookScope(t *testing.T) {
	s := newTestSource(t)

	cells, err := s.ListFormulaCells(context.Background(), "workbook")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Sheet1!B1", "Sheet1!B2", "Data!C3"}, handles(cells))

	for _, c := range cells {
		require.NotEmpty(t, c.Formula)
	}
}

func TestListFormulaCells_EmptyScopeMeansWorkbook(t *testing.T) {
	s := newTestSource(t)

	cells, err := s.ListFormulaCells(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, cells, 3)
}

func TestListFormulaCells_SheetScope(t *testing.T) {
	s := newTestSource(t)

	cells, err := s.ListFormulaCells(context.Background(), "sheet:Data")
	require.NoError(t, err)
	require.Equal(t, []string{"Data!C3"}, handles(cells))
}

func TestListFormulaCells_UnknownSheet(t *testing.T) {
	s := newTestSource(t)

	_, err := s.ListFormulaCells(context.Background(), "sheet:Nope")
	require.Error(t, err)
}

func TestListFormulaCells_RangeScope(t *testing.T) {
	s := newTestSource(t)

	cells, err := s.ListFormulaCells(context.Background(), "range:Sheet1!B1:B1")
	require.NoError(t, err)
	require.Equal(t, []string{"Sheet1!B1"}, handles(cells))

	// Inverted corners normalize.
	cells, err = s.ListFormulaCells(context.Background(), "range:Sheet1!B2:A1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Sheet1!B1", "Sheet1!B2"}, handles(cells))
}

func TestListFormulaCells_InvalidScope(t *testing.T) {
	s := newTestSource(t)

	_, err := s.ListFormulaCells(context.Background(), "galaxy:andromeda")
	require.Error(t, err)

	_, err = s.ListFormulaCells(context.Background(), "range:A1:B2")
	require.Error(t, err)
}

func TestResolveReference_SingleCell(t *testing.T) {
	s := newTestSource(t)

	values, err := s.ResolveReference("A1")
	require.NoError(t, err)
	require.Equal(t, []string{"west"}, values)
}

func TestResolveReference_Range(t *testing.T) {
	s := newTestSource(t)

	values, err := s.ResolveReference("A1:A3")
	require.NoError(t, err)
	require.Equal(t, []string{"west", "east", "north"}, values)
}

func TestResolveReference_AbsoluteAndQualified(t *testing.T) {
	s := newTestSource(t)

	values, err := s.ResolveReference("$A$1:$A$2")
	require.NoError(t, err)
	require.Equal(t, []string{"west", "east"}, values)

	values, err = s.ResolveReference("Data!A1")
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, values)

	values, err = s.ResolveReference("'Data'!A1")
	require.NoError(t, err)
	require.Equal(t, []string{"42"}, values)
}

func TestResolveReference_Malformed(t *testing.T) {
	s := newTestSource(t)

	_, err := s.ResolveReference("A1:B2:C3")
	require.Error(t, err)
}
