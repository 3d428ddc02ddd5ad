// Package cachekey derives the canonical cache key for one
// (function, parameter values) combination. The same key must come out
// byte-identical whether the values arrive as live call arguments or as strings
// parsed out of a stored formula — every caching guarantee rests on that.
package cachekey

import (
	"strconv"
	"strings"
	"time"

	"github.com/pivotcache-lab/pivotcache/internal/core/function"
)

// Delimiter separates the function name and parameter values inside a key.
const Delimiter = "|"

const (
	defaultYearMin = 1900
	defaultYearMax = 2150

	// Excel serial day 1 is 1900-01-01, with the epoch shifted two days to
	// absorb the historical leap-year bug. Serial dates in formulas resolve
	// against this epoch.
	serialEpochYear  = 1899
	serialEpochMonth = time.December
	serialEpochDay   = 30

	// maxDateSerial is the serial for 9999-12-31; anything above is not a date.
	maxDateSerial = 2958465
)

const dateLayout = "2006-01-02"

// dateLayouts are the accepted textual date inputs, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// Builder canonicalizes raw parameter values and joins them into cache keys.
// The zero value uses the default plausible-year window. Builder is a pure
// value type: Build has no side effects and is deterministic.
type Builder struct {
	// YearMin and YearMax bound the bare-integer values treated as calendar
	// years (and expanded to Jan 1 / Dec 31) rather than as date serials.
	YearMin int
	YearMax int
}

// NewBuilder returns a Builder with the given plausible-year window.
// Non-positive bounds fall back to 1900–2150.
func NewBuilder(yearMin, yearMax int) Builder {
	b := Builder{YearMin: yearMin, YearMax: yearMax}
	if b.YearMin <= 0 {
		b.YearMin = defaultYearMin
	}
	if b.YearMax <= 0 {
		b.YearMax = defaultYearMax
	}
	return b
}

// Build derives the canonical key for a function invocation.
//
// Each raw value is canonicalized against its positional descriptor, trailing
// positions whose canonical value is empty are truncated, and the remainder is
// joined with Delimiter. Truncation mirrors how empty range filters are
// omitted from rendered queries, so a synchronous lookup passing all arguments
// and a refresh parsing only the leading arguments agree on the key.
func (b Builder) Build(functionName string, params []function.ParameterDescriptor, rawValues []string) string {
	canonical := make([]string, len(rawValues))
	for i, raw := range rawValues {
		var p *function.ParameterDescriptor
		if i < len(params) {
			p = &params[i]
		}
		canonical[i] = b.Canonicalize(p, raw)
	}

	last := -1
	for i, v := range canonical {
		if v != "" {
			last = i
		}
	}

	parts := make([]string, 0, last+2)
	parts = append(parts, escape(strings.ToUpper(strings.TrimSpace(functionName))))
	for i := 0; i <= last; i++ {
		parts = append(parts, escape(canonical[i]))
	}
	return strings.Join(parts, Delimiter)
}

// Canonicalize normalizes one raw parameter value. A nil descriptor means the
// value is treated as opaque text. Comma-joined list input is canonicalized
// element by element, preserving order.
func (b Builder) Canonicalize(p *function.ParameterDescriptor, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	if !strings.Contains(raw, ",") {
		return b.canonicalizeScalar(p, raw)
	}

	elements := strings.Split(raw, ",")
	for i, e := range elements {
		elements[i] = b.canonicalizeScalar(p, e)
	}
	return strings.Join(elements, ",")
}

func (b Builder) canonicalizeScalar(p *function.ParameterDescriptor, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if p == nil {
		return strings.ToUpper(v)
	}

	switch p.DataType {
	case function.DataTypeNumber:
		return v
	case function.DataTypeDate:
		return b.canonicalizeDate(p.FilterKind, v)
	default:
		return strings.ToUpper(v)
	}
}

// canonicalizeDate resolves a raw date value to yyyy-MM-dd form.
//
// A bare integer inside the plausible-year window is a calendar year, not a
// date serial: range-end parameters expand it to Dec 31, everything else to
// Jan 1. Other numeric input is read as a date serial; textual input is tried
// against the accepted layouts. Unparsable values degrade to the trimmed
// literal — intentional, so a bad cell never aborts key construction.
func (b Builder) canonicalizeDate(kind function.FilterKind, v string) string {
	if year, err := strconv.Atoi(v); err == nil {
		if year >= b.YearMin && year <= b.YearMax {
			if kind == function.FilterRangeEnd {
				return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).Format(dateLayout)
			}
			return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout)
		}
	}

	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		if serial > 0 && serial <= maxDateSerial {
			epoch := time.Date(serialEpochYear, serialEpochMonth, serialEpochDay, 0, 0, 0, 0, time.UTC)
			return epoch.AddDate(0, 0, int(serial)).Format(dateLayout)
		}
		return v
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(dateLayout)
		}
	}
	return v
}

// Split reverses Build's join, returning the function name followed by the
// canonical values. Used to reconstruct a display signature for result rows
// whose pending evaluation is no longer tracked.
func Split(key string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range key {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// escape protects the delimiter (and the escape character itself) inside
// canonicalized values so Split stays lossless.
func escape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, Delimiter, `\`+Delimiter)
}
