package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pivotcache-lab/pivotcache/internal/core/cachekey"
	"github.com/pivotcache-lab/pivotcache/internal/core/function"
)

// FragmentBuilder renders pools and orphans into query fragments. Every
// fragment projects exactly two columns, cache_key and result, so fragments
// combine under a plain set union.
//
// Literal formatting deliberately mirrors the cache key canonicalization
// (upper-cased text comparison, year expansion, yyyy-MM-dd dates) so the
// filtered results and the emitted keys agree on what was asked.
type FragmentBuilder struct {
	Keys cachekey.Builder
}

// RenderOrphan renders a single-row fragment filtered by all of the orphan's
// supplied values, carrying its precomputed cache key.
func (fb FragmentBuilder) RenderOrphan(item PendingEvaluation) (QueryFragment, error) {
	preds, err := fb.predicates(item.Descriptor, func(pos int) string { return item.valueAt(pos) }, -1)
	if err != nil {
		return QueryFragment{}, fmt.Errorf("render %s: %w", item.Descriptor.Name, err)
	}

	sql := fmt.Sprintf("SELECT '%s' AS cache_key, %s AS result FROM %s",
		escapeSQLString(item.CacheKey), item.Descriptor.MeasureExpr, item.Descriptor.Source)
	if len(preds) > 0 {
		sql += " WHERE " + strings.Join(preds, " AND ")
	}
	return QueryFragment{SQL: sql, Keys: []string{item.CacheKey}}, nil
}

// RenderPool renders a pool into one or more fragments.
//
// A list-kind varying parameter collapses into a single grouped fragment: the
// varying field carries the whole value set in one IN predicate, and a CASE
// over the grouped field maps each value to its literal cache key. Range-kind
// varying parameters cannot share a scan (their predicates overlap), so they
// fall back to one fragment per varying value. Fixed-value strings are reused
// from the pool, never re-derived.
func (fb FragmentBuilder) RenderPool(pool Pool) ([]QueryFragment, error) {
	varying := pool.Descriptor.ParamAt(pool.VaryingParamIndex)
	if varying == nil {
		return nil, fmt.Errorf("render pool %s: varying position %d has no descriptor",
			pool.Descriptor.Name, pool.VaryingParamIndex)
	}

	groupable := varying.FilterKind == function.FilterList
	for _, v := range pool.VaryingValues {
		// A multi-valued member argument cannot be matched back to one group.
		if strings.Contains(v, ",") {
			groupable = false
		}
		// An empty canonical value means "no filter on this dimension", which
		// a grouped scan cannot express; the per-value path omits the
		// predicate and still emits the member's key.
		if fb.Keys.Canonicalize(varying, v) == "" {
			groupable = false
		}
	}

	if groupable {
		frag, err := fb.renderGroupedPool(pool, varying)
		if err != nil {
			return nil, err
		}
		return []QueryFragment{frag}, nil
	}
	return fb.renderPoolPerValue(pool)
}

func (fb FragmentBuilder) renderGroupedPool(pool Pool, varying *function.ParameterDescriptor) (QueryFragment, error) {
	desc := pool.Descriptor
	preds, err := fb.predicates(desc, func(pos int) string { return pool.FixedValues[pos] }, pool.VaryingParamIndex)
	if err != nil {
		return QueryFragment{}, fmt.Errorf("render pool %s: %w", desc.Name, err)
	}

	expr := fb.compareExpr(*varying)

	var (
		cases    []string
		literals []string
		keys     []string
		seen     = make(map[string]bool)
	)
	for _, raw := range pool.VaryingValues {
		canonical := fb.Keys.Canonicalize(varying, raw)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true

		lit, err := fb.literal(*varying, canonical)
		if err != nil {
			return QueryFragment{}, fmt.Errorf("render pool %s: %w", desc.Name, err)
		}

		key := fb.Keys.Build(desc.Name, desc.Parameters, pool.valuesWith(raw))
		cases = append(cases, fmt.Sprintf("WHEN %s THEN '%s'", lit, escapeSQLString(key)))
		literals = append(literals, lit)
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return QueryFragment{}, fmt.Errorf("render pool %s: no usable varying values", desc.Name)
	}

	preds = append(preds, fmt.Sprintf("%s IN (%s)", expr, strings.Join(literals, ", ")))

	sql := fmt.Sprintf("SELECT CASE %s %s END AS cache_key, %s AS result FROM %s WHERE %s GROUP BY %s",
		expr, strings.Join(cases, " "), desc.MeasureExpr, desc.Source,
		strings.Join(preds, " AND "), expr)
	return QueryFragment{SQL: sql, Keys: keys}, nil
}

func (fb FragmentBuilder) renderPoolPerValue(pool Pool) ([]QueryFragment, error) {
	desc := pool.Descriptor
	fragments := make([]QueryFragment, 0, len(pool.VaryingValues))
	seen := make(map[string]bool)

	for _, raw := range pool.VaryingValues {
		values := pool.valuesWith(raw)
		key := fb.Keys.Build(desc.Name, desc.Parameters, values)
		if seen[key] {
			continue
		}
		seen[key] = true

		frag, err := fb.RenderOrphan(PendingEvaluation{
			CacheKey:   key,
			Descriptor: desc,
			RawValues:  values,
		})
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, frag)
	}
	return fragments, nil
}

// valuesWith assembles a full positional value slice from the pool's fixed
// strings plus one varying value.
func (p Pool) valuesWith(varyingValue string) []string {
	values := make([]string, len(p.Descriptor.Parameters))
	for pos, v := range p.FixedValues {
		values[pos] = v
	}
	values[p.VaryingParamIndex] = varyingValue
	return values
}

// predicates renders the filter predicate list for every non-empty parameter
// value, skipping the position given by skip (-1 skips nothing). Empty values
// contribute no predicate, mirroring the key's trailing-empty truncation.
func (fb FragmentBuilder) predicates(desc *function.FunctionDescriptor, valueAt func(int) string, skip int) ([]string, error) {
	var preds []string
	for i := range desc.Parameters {
		p := desc.Parameters[i]
		if p.Position == skip {
			continue
		}
		raw := valueAt(p.Position)
		canonical := fb.Keys.Canonicalize(&p, raw)
		if canonical == "" {
			continue
		}

		pred, err := fb.predicate(p, canonical)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func (fb FragmentBuilder) predicate(p function.ParameterDescriptor, canonical string) (string, error) {
	expr := fb.compareExpr(p)

	switch p.FilterKind {
	case function.FilterList:
		elements := strings.Split(canonical, ",")
		literals := make([]string, 0, len(elements))
		for _, e := range elements {
			if e == "" {
				continue
			}
			lit, err := fb.literal(p, e)
			if err != nil {
				return "", err
			}
			literals = append(literals, lit)
		}
		if len(literals) == 0 {
			return "", fmt.Errorf("parameter %q: no usable list values", p.Name)
		}
		if len(literals) == 1 {
			return fmt.Sprintf("%s = %s", expr, literals[0]), nil
		}
		return fmt.Sprintf("%s IN (%s)", expr, strings.Join(literals, ", ")), nil

	case function.FilterRangeStart:
		lit, err := fb.literal(p, canonical)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s >= %s", expr, lit), nil

	case function.FilterRangeEnd:
		lit, err := fb.literal(p, canonical)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s <= %s", expr, lit), nil

	default:
		return "", fmt.Errorf("parameter %q: unsupported filter kind %q", p.Name, p.FilterKind)
	}
}

// compareExpr is the left-hand side of a predicate. Text fields compare
// upper-cased, matching the case-insensitive canonical form in the key.
func (fb FragmentBuilder) compareExpr(p function.ParameterDescriptor) string {
	if p.DataType == function.DataTypeText {
		return fmt.Sprintf("UPPER(CAST(%s AS VARCHAR))", p.FieldRef())
	}
	return p.FieldRef()
}

// literal renders one canonicalized scalar as a query literal.
func (fb FragmentBuilder) literal(p function.ParameterDescriptor, canonical string) (string, error) {
	switch p.DataType {
	case function.DataTypeNumber:
		d, err := decimal.NewFromString(canonical)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %q is not numeric", p.Name, canonical)
		}
		return d.String(), nil
	case function.DataTypeDate:
		if _, err := time.Parse("2006-01-02", canonical); err == nil {
			return fmt.Sprintf("DATE '%s'", canonical), nil
		}
		// Degraded date values (see cachekey) compare as text.
		return "'" + escapeSQLString(canonical) + "'", nil
	default:
		return "'" + escapeSQLString(canonical) + "'", nil
	}
}

func escapeSQLString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// Pack accumulates fragments into batches whose rendered length stays within
// maxQueryLength. Greedy and single-pass: when the next fragment would
// overflow, the current batch closes and a new one starts. A fragment longer
// than the ceiling on its own is still emitted, alone — never dropped.
func Pack(fragments []QueryFragment, maxQueryLength int) []QueryBatch {
	var batches []QueryBatch
	var cur QueryBatch
	curLen := 0

	for _, frag := range fragments {
		if len(cur.Fragments) > 0 && curLen+len(Combinator)+len(frag.SQL) > maxQueryLength {
			batches = append(batches, cur)
			cur = QueryBatch{}
			curLen = 0
		}
		if len(cur.Fragments) > 0 {
			curLen += len(Combinator)
		}
		cur.Fragments = append(cur.Fragments, frag)
		curLen += len(frag.SQL)
	}
	if len(cur.Fragments) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
