// Package plan turns the pending evaluations of one refresh cycle into a
// minimal set of executable query batches: it discovers pools of lookups that
// differ in a single parameter, renders pools and orphans into query
// fragments, and packs fragments under the query-length ceiling.
package plan

import (
	"strings"

	"github.com/pivotcache-lab/pivotcache/internal/core/function"
)

// PendingEvaluation is one cell-level lookup awaiting a refresh. All plan
// types are transient: created and discarded within a single refresh cycle.
type PendingEvaluation struct {
	// CacheKey is the canonical key derived for this invocation.
	CacheKey string

	// Descriptor references (never copies) the registered function.
	Descriptor *function.FunctionDescriptor

	// RawValues holds the positional argument strings as supplied. Length is
	// at most the function's parameter count; missing trailing entries are
	// treated as empty.
	RawValues []string

	// OriginSignature is the human-readable formula text, kept so a display
	// label can be reconstructed if the item is later not individually tracked.
	OriginSignature string

	// CellHandle is an opaque host reference, passed through untouched.
	CellHandle string
}

// valueAt returns the raw value at a position, empty when absent.
func (p PendingEvaluation) valueAt(position int) string {
	if position < len(p.RawValues) {
		return p.RawValues[position]
	}
	return ""
}

// Pool is a group of pending evaluations that agree on every parameter except
// one, consolidated into a single scan of the data source.
type Pool struct {
	Descriptor        *function.FunctionDescriptor
	VaryingParamIndex int

	// FixedValues maps every non-varying position to its shared raw value,
	// taken from the first member. Rendering reuses these exact strings so the
	// emitted cache keys match what a synchronous lookup would compute.
	FixedValues map[int]string

	// VaryingValues are the distinct raw values at VaryingParamIndex, sorted
	// ascending by raw string comparison.
	VaryingValues []string

	Members []PendingEvaluation
}

// QueryFragment is the rendered query text for one pool or one orphan,
// carrying the cache keys it will produce as literal output columns.
type QueryFragment struct {
	SQL  string
	Keys []string
}

// Combinator joins fragments inside a batch. Each fragment is a complete
// (cache_key, result) projection, so set union is the whole wrapper.
const Combinator = "\nUNION ALL\n"

// QueryBatch is an ordered set of fragments whose combined rendered length
// stays within the configured maximum. A batch of one omits the combinator.
type QueryBatch struct {
	Fragments []QueryFragment
}

// SQL renders the batch as a single executable query string.
func (b QueryBatch) SQL() string {
	parts := make([]string, len(b.Fragments))
	for i, f := range b.Fragments {
		parts[i] = f.SQL
	}
	return strings.Join(parts, Combinator)
}

// Keys returns every cache key the batch will emit.
func (b QueryBatch) Keys() []string {
	var keys []string
	for _, f := range b.Fragments {
		keys = append(keys, f.Keys...)
	}
	return keys
}
