package plan

import (
	"sort"
	"strings"
)

// signatureSep joins raw values into grouping signatures. A unit separator
// cannot appear in formula arguments, so signatures never collide.
const signatureSep = "\x1f"

// Analyze partitions pending evaluations into pools (groups differing in
// exactly one parameter position) and orphans (everything unpoolable).
//
// Per function, parameter positions are tried in ascending order; items are
// grouped by the tuple of their values at every other position, and any group
// reaching minPoolSize becomes a pool. An item joins at most one pool — the
// first qualifying position wins. Iteration is by ascending function name,
// position and signature, so output order is deterministic.
//
// Grouping by "all but one" finds the single-dimension consolidation the
// query grammar can express efficiently; multi-dimensional cube discovery
// would buy nothing downstream.
func Analyze(items []PendingEvaluation, minPoolSize int) ([]Pool, []PendingEvaluation) {
	if minPoolSize < 1 {
		minPoolSize = 1
	}

	byFunction := make(map[string][]int)
	for i, item := range items {
		name := strings.ToUpper(item.Descriptor.Name)
		byFunction[name] = append(byFunction[name], i)
	}

	names := make([]string, 0, len(byFunction))
	for name := range byFunction {
		names = append(names, name)
	}
	sort.Strings(names)

	var pools []Pool
	assigned := make([]bool, len(items))

	for _, name := range names {
		indices := byFunction[name]
		paramCount := len(items[indices[0]].Descriptor.Parameters)
		if paramCount == 0 {
			// Zero-parameter invocations are all identical; they dedupe via
			// the cache key, not via pooling.
			continue
		}

		for p := 0; p < paramCount; p++ {
			groups := make(map[string][]int)
			for _, idx := range indices {
				if assigned[idx] {
					continue
				}
				sig := fixedSignature(items[idx], paramCount, p)
				groups[sig] = append(groups[sig], idx)
			}

			sigs := make([]string, 0, len(groups))
			for sig, members := range groups {
				if len(members) >= minPoolSize {
					sigs = append(sigs, sig)
				}
			}
			sort.Strings(sigs)

			for _, sig := range sigs {
				members := groups[sig]
				pool := buildPool(items, members, paramCount, p)
				for _, idx := range members {
					assigned[idx] = true
				}
				pools = append(pools, pool)
			}
		}
	}

	var orphans []PendingEvaluation
	for i, item := range items {
		if !assigned[i] {
			orphans = append(orphans, item)
		}
	}
	return pools, orphans
}

// fixedSignature is the grouping tuple: every raw value except the one at
// varying, padded to the parameter count so short argument lists compare
// equal to explicit empties.
func fixedSignature(item PendingEvaluation, paramCount, varying int) string {
	parts := make([]string, 0, paramCount-1)
	for p := 0; p < paramCount; p++ {
		if p == varying {
			continue
		}
		parts = append(parts, item.valueAt(p))
	}
	return strings.Join(parts, signatureSep)
}

func buildPool(items []PendingEvaluation, memberIdx []int, paramCount, varying int) Pool {
	members := make([]PendingEvaluation, 0, len(memberIdx))
	for _, idx := range memberIdx {
		members = append(members, items[idx])
	}

	first := members[0]
	fixed := make(map[int]string, paramCount-1)
	for p := 0; p < paramCount; p++ {
		if p != varying {
			fixed[p] = first.valueAt(p)
		}
	}

	seen := make(map[string]bool, len(members))
	varyingValues := make([]string, 0, len(members))
	for _, m := range members {
		v := m.valueAt(varying)
		if !seen[v] {
			seen[v] = true
			varyingValues = append(varyingValues, v)
		}
	}
	sort.Strings(varyingValues)

	return Pool{
		Descriptor:        first.Descriptor,
		VaryingParamIndex: varying,
		FixedValues:       fixed,
		VaryingValues:     varyingValues,
		Members:           members,
	}
}
