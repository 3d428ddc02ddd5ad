package v1

import (
	"fmt"
	"strings"
	"time"
)

// Display markers returned to the host in place of a real value. The
// needs-refresh marker is what a cell shows before its key has ever been
// fetched; the null marker is a successful fetch whose aggregate was empty.
// They are distinct from each other and from any ordinary value.
const (
	NeedsRefreshMarker = "#NEEDS_REFRESH"
	NullResultMarker   = "#NULL"
)

// Evaluation statuses.
const (
	StatusHit     = "hit"
	StatusNull    = "null"
	StatusMiss    = "miss"
	StatusFetched = "fetched"
)

// Refresh scope prefixes. A scope is either the whole workbook, one sheet, or
// one rectangular range, addressed the way the host addresses cells.
const (
	ScopeWorkbook    = "workbook"
	ScopeSheetPrefix = "sheet:"
	ScopeRangePrefix = "range:"
)

// EvaluateRequest is one synchronous function-call lookup. Values is the
// single variadic entry point for every arity; the function's declared
// parameter count is a validation ceiling, not a dispatch concern.
type EvaluateRequest struct {
	Function string   `json:"function"`
	Values   []string `json:"values"`
}

// Validate ensures the request has the required shape.
func (r *EvaluateRequest) Validate() error {
	if strings.TrimSpace(r.Function) == "" {
		return fmt.Errorf("function is required")
	}
	return nil
}

// EvaluateResponse reports one lookup outcome. Value is nil for misses and
// null results; the host renders the matching marker in the cell.
type EvaluateResponse struct {
	Function  string     `json:"function"`
	CacheKey  string     `json:"cache_key"`
	Status    string     `json:"status"`
	Value     *string    `json:"value,omitempty"`
	Display   string     `json:"display"`
	Signature string     `json:"signature,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// RefreshRequest triggers one refresh cycle over a scope. The engine never
// decides when to refresh; this request is the host's scheduling decision.
type RefreshRequest struct {
	Scope string `json:"scope"`

	// Force re-collects every known-function cell, not just those currently
	// showing a miss/error marker.
	Force bool `json:"force"`
}

// Validate checks the scope shape.
func (r *RefreshRequest) Validate() error {
	if r.Scope == "" || r.Scope == ScopeWorkbook {
		return nil
	}
	if strings.HasPrefix(r.Scope, ScopeSheetPrefix) {
		if strings.TrimPrefix(r.Scope, ScopeSheetPrefix) == "" {
			return fmt.Errorf("sheet scope requires a sheet name")
		}
		return nil
	}
	if strings.HasPrefix(r.Scope, ScopeRangePrefix) {
		ref := strings.TrimPrefix(r.Scope, ScopeRangePrefix)
		if !strings.Contains(ref, "!") {
			return fmt.Errorf("range scope requires a sheet-qualified reference, e.g. range:Sheet1!A1:B9")
		}
		return nil
	}
	return fmt.Errorf("invalid scope %q (must be workbook, sheet:<name> or range:<sheet>!<ref>)", r.Scope)
}

// RefreshResponse wraps the orchestrator's cycle report.
type RefreshResponse struct {
	CycleID       string   `json:"cycle_id"`
	Scope         string   `json:"scope"`
	Collected     int      `json:"collected"`
	SkippedCells  int      `json:"skipped_cells"`
	Pools         int      `json:"pools"`
	Orphans       int      `json:"orphans"`
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failed_batches"`
	RowsStored    int      `json:"rows_stored"`
	Errors        []string `json:"errors,omitempty"`
}
