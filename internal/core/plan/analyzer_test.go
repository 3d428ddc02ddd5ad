package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pivotcache-lab/pivotcache/internal/core/function"
)

func salesDescriptor() *function.FunctionDescriptor {
	return &function.FunctionDescriptor{
		Name:        "SALESTOTAL",
		Source:      "sales",
		MeasureExpr: "SUM(sales.amount)",
		Parameters: []function.ParameterDescriptor{
			{Name: "region", Position: 0, Table: "sales", Field: "region", DataType: function.DataTypeText, FilterKind: function.FilterList},
			{Name: "product", Position: 1, Table: "sales", Field: "product", DataType: function.DataTypeText, FilterKind: function.FilterList},
			{Name: "year", Position: 2, Table: "sales", Field: "sold_at", DataType: function.DataTypeDate, FilterKind: function.FilterRangeStart},
		},
	}
}

func pending(desc *function.FunctionDescriptor, values ...string) PendingEvaluation {
	return PendingEvaluation{Descriptor: desc, RawValues: values}
}

func TestAnalyze_PoolsSingleVaryingParameter(t *testing.T) {
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget", "2024"),
		pending(desc, "east", "widget", "2024"),
		pending(desc, "north", "widget", "2024"),
	}

	pools, orphans := Analyze(items, 3)
	require.Len(t, pools, 1)
	require.Empty(t, orphans)

	pool := pools[0]
	require.Equal(t, 0, pool.VaryingParamIndex)
	require.Equal(t, []string{"east", "north", "west"}, pool.VaryingValues)
	require.Equal(t, map[int]string{1: "widget", 2: "2024"}, pool.FixedValues)
	require.Len(t, pool.Members, 3)
}

func TestAnalyze_BelowMinPoolSizeStaysOrphan(t *testing.T) {
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget", "2024"),
		pending(desc, "east", "widget", "2024"),
	}

	pools, orphans := Analyze(items, 3)
	require.Empty(t, pools)
	require.Len(t, orphans, 2)
	// Orphans come back in input order.
	require.Equal(t, "west", orphans[0].RawValues[0])
	require.Equal(t, "east", orphans[1].RawValues[0])
}

func TestAnalyze_ItemJoinsAtMostOnePool(t *testing.T) {
	// These three could pool on position 0 or position 1; the earliest
	// position wins and position 1 never sees them again.
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget", "2024"),
		pending(desc, "east", "widget", "2024"),
		pending(desc, "north", "widget", "2024"),
		pending(desc, "west", "gadget", "2024"),
		pending(desc, "west", "gizmo", "2024"),
	}

	pools, orphans := Analyze(items, 3)
	require.Len(t, pools, 1)
	require.Equal(t, 0, pools[0].VaryingParamIndex)
	require.Len(t, orphans, 2)
}

func TestAnalyze_LaterPositionPoolsWhenEarlierCannot(t *testing.T) {
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget", "2024"),
		pending(desc, "west", "gadget", "2024"),
		pending(desc, "west", "gizmo", "2024"),
	}

	pools, orphans := Analyze(items, 3)
	require.Len(t, pools, 1)
	require.Equal(t, 1, pools[0].VaryingParamIndex)
	require.Empty(t, orphans)
}

func TestAnalyze_ShortArgumentListsPadToEmpty(t *testing.T) {
	// An item passing two arguments groups with items passing an explicit
	// empty third argument.
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget"),
		pending(desc, "east", "widget", ""),
		pending(desc, "north", "widget", ""),
	}

	pools, orphans := Analyze(items, 3)
	require.Len(t, pools, 1)
	require.Empty(t, orphans)
}

func TestAnalyze_FunctionsNeverMix(t *testing.T) {
	descA := salesDescriptor()
	descB := salesDescriptor()
	descB.Name = "RETURNSTOTAL"

	items := []PendingEvaluation{
		pending(descA, "west", "widget", "2024"),
		pending(descA, "east", "widget", "2024"),
		pending(descB, "north", "widget", "2024"),
	}

	pools, orphans := Analyze(items, 2)
	require.Len(t, pools, 1)
	require.Equal(t, "SALESTOTAL", pools[0].Descriptor.Name)
	require.Len(t, orphans, 1)
	require.Equal(t, "RETURNSTOTAL", orphans[0].Descriptor.Name)
}

func TestAnalyze_ZeroParameterFunctionsNeverPool(t *testing.T) {
	desc := &function.FunctionDescriptor{
		Name:        "TOTALROWS",
		Source:      "sales",
		MeasureExpr: "COUNT(*)",
	}
	items := []PendingEvaluation{
		pending(desc),
		pending(desc),
		pending(desc),
	}

	pools, orphans := Analyze(items, 2)
	require.Empty(t, pools)
	require.Len(t, orphans, 3)
}

func TestAnalyze_Deterministic(t *testing.T) {
	desc := salesDescriptor()
	items := []PendingEvaluation{
		pending(desc, "west", "widget", "2024"),
		pending(desc, "east", "widget", "2024"),
		pending(desc, "north", "widget", "2024"),
		pending(desc, "west", "widget", "2023"),
		pending(desc, "east", "widget", "2023"),
		pending(desc, "north", "widget", "2023"),
	}

	first, _ := Analyze(items, 3)
	for i := 0; i < 20; i++ {
		again, _ := Analyze(items, 3)
		require.Equal(t, first, again)
	}
}
