// Package collect walks the formula source and turns every cell invoking a
// registered function into a pending evaluation for the refresh cycle.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/efp"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	"github.com/pivotcache-lab/pivotcache/internal/core/cachekey"
	"github.com/pivotcache-lab/pivotcache/internal/core/function"
	"github.com/pivotcache-lab/pivotcache/internal/core/plan"
)

// FormulaCell is one cell carrying a formula, as reported by the host.
type FormulaCell struct {
	// Handle is an opaque host reference; the engine only passes it through.
	Handle string

	// Formula is the raw formula text, without a leading '='.
	Formula string

	// Display is the cell's currently displayed value.
	Display string
}

// FormulaSource is the host collaborator that exposes formula cells and
// resolves cell/range references to literal values.
type FormulaSource interface {
	ListFormulaCells(ctx context.Context, scope string) ([]FormulaCell, error)
	ResolveReference(ref string) ([]string, error)
}

// Collector builds pending evaluations from the formula source. Malformed or
// unrecognized formulas are skipped, never reported as errors: one bad cell
// must not block the refresh of the rest.
type Collector struct {
	registry *function.Registry
	keys     cachekey.Builder
	source   FormulaSource
}

// New creates a collector over a formula source.
func New(registry *function.Registry, keys cachekey.Builder, source FormulaSource) *Collector {
	if registry == nil {
		panic("collect: registry must not be nil")
	}
	if source == nil {
		panic("collect: source must not be nil")
	}
	return &Collector{registry: registry, keys: keys, source: source}
}

// Collect lists the scope's formula cells and returns one pending evaluation
// per cell that invokes a known function and currently shows a miss/error
// marker (or every such cell when force is set). The second return value
// counts skipped cells.
func (c *Collector) Collect(ctx context.Context, scope string, force bool) ([]plan.PendingEvaluation, int, error) {
	cells, err := c.source.ListFormulaCells(ctx, scope)
	if err != nil {
		return nil, 0, fmt.Errorf("list formula cells: %w", err)
	}

	var (
		items   []plan.PendingEvaluation
		skipped int
	)
	for _, cell := range cells {
		if !force && !needsRefresh(cell.Display) {
			continue
		}

		name, rawValues, err := c.parseInvocation(cell.Formula)
		if err != nil {
			slog.Warn("[Collector] Skipping unparsable formula",
				"cell", cell.Handle, "formula", cell.Formula, "error", err)
			skipped++
			continue
		}
		if name == "" {
			// No registered function in this formula; not our cell.
			continue
		}

		desc, _ := c.registry.Lookup(name)
		if len(rawValues) > len(desc.Parameters) {
			slog.Warn("[Collector] Skipping formula with too many arguments",
				"cell", cell.Handle, "function", desc.Name,
				"got", len(rawValues), "max", len(desc.Parameters))
			skipped++
			continue
		}

		items = append(items, plan.PendingEvaluation{
			CacheKey:        c.keys.Build(desc.Name, desc.Parameters, rawValues),
			Descriptor:      desc,
			RawValues:       rawValues,
			OriginSignature: cell.Formula,
			CellHandle:      cell.Handle,
		})
	}

	slog.Info("[Collector] Collected pending evaluations",
		"scope", scope, "cells", len(cells), "pending", len(items), "skipped", skipped)
	return items, skipped, nil
}

// needsRefresh reports whether a displayed value marks a cache miss or error.
func needsRefresh(display string) bool {
	return display == "" || display == v1.NeedsRefreshMarker || strings.HasPrefix(display, "#")
}

// parseInvocation tokenizes a formula and extracts the positional arguments
// of the first registered function it invokes. Returns an empty name when no
// registered function appears; returns an error when the invocation exists
// but its arguments cannot be reduced to literal values.
func (c *Collector) parseInvocation(formula string) (string, []string, error) {
	ps := efp.ExcelParser()
	tokens := ps.Parse(formula)
	if tokens == nil {
		return "", nil, fmt.Errorf("tokenize failed")
	}

	for i, tok := range tokens {
		if tok.TType != efp.TokenTypeFunction || tok.TSubType != efp.TokenSubTypeStart {
			continue
		}
		if _, known := c.registry.Lookup(tok.TValue); !known {
			// Unknown wrapper (IFERROR etc.); keep scanning for ours.
			continue
		}

		args, err := c.extractArguments(tokens[i+1:])
		if err != nil {
			return "", nil, err
		}
		return tok.TValue, args, nil
	}
	return "", nil, nil
}

// extractArguments consumes tokens up to the function's closing parenthesis,
// splitting on top-level argument separators. Quoted text and nested
// parentheses are already resolved by the tokenizer; range operands are
// expanded to comma-joined value lists via the formula source.
func (c *Collector) extractArguments(tokens []efp.Token) ([]string, error) {
	var (
		args   []string
		parts  []string
		prefix string
	)
	depth := 1

	flush := func() {
		args = append(args, strings.Join(parts, ","))
		parts = nil
	}

	for _, tok := range tokens {
		switch tok.TType {
		case efp.TokenTypeFunction:
			if tok.TSubType == efp.TokenSubTypeStart {
				return nil, fmt.Errorf("nested function call in argument")
			}
			depth--
			if depth == 0 {
				flush()
				return args, nil
			}

		case efp.TokenTypeSubexpression:
			return nil, fmt.Errorf("parenthesized expression in argument")

		case efp.TokenTypeArgument:
			if depth == 1 {
				flush()
			}

		case efp.TokenTypeOperand:
			if tok.TSubType == efp.TokenSubTypeRange {
				values, err := c.source.ResolveReference(tok.TValue)
				if err != nil {
					return nil, fmt.Errorf("resolve reference %q: %w", tok.TValue, err)
				}
				parts = append(parts, strings.Join(values, ","))
			} else {
				parts = append(parts, prefix+tok.TValue)
			}
			prefix = ""

		case efp.TokenTypeOperatorPrefix:
			// Signed numeric literals arrive as a prefix operator token.
			if tok.TValue != "-" && tok.TValue != "+" {
				return nil, fmt.Errorf("operator expression in argument")
			}
			prefix = tok.TValue

		case efp.TokenTypeOperatorInfix, efp.TokenTypeOperatorPostfix:
			return nil, fmt.Errorf("operator expression in argument")

		case efp.TokenTypeWhitespace, efp.TokenTypeNoop:
			// ignore

		default:
			return nil, fmt.Errorf("unsupported token %q in argument", tok.TValue)
		}
	}
	return nil, fmt.Errorf("unterminated function call")
}
