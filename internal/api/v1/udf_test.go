package v1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateRequestValidate(t *testing.T) {
	require.NoError(t, (&EvaluateRequest{Function: "SALESTOTAL"}).Validate())
	require.NoError(t, (&EvaluateRequest{Function: "SALESTOTAL", Values: []string{"west"}}).Validate())
	require.Error(t, (&EvaluateRequest{Function: "  "}).Validate())
	require.Error(t, (&EvaluateRequest{}).Validate())
}

func TestRefreshRequestValidate(t *testing.T) {
	valid := []string{
		"",
		"workbook",
		"sheet:Sheet1",
		"sheet:My Data",
		"range:Sheet1!A1:B9",
		"range:'My Data'!C2:C40",
	}
	for _, scope := range valid {
		require.NoError(t, (&RefreshRequest{Scope: scope}).Validate(), "scope %q", scope)
	}

	invalid := []string{
		"sheet:",
		"range:A1:B9",
		"book",
		"galaxy:andromeda",
	}
	for _, scope := range invalid {
		require.Error(t, (&RefreshRequest{Scope: scope}).Validate(), "scope %q", scope)
	}
}
