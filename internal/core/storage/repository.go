package storage

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is the sentinel a lookup returns when no entry exists for a key.
// It is distinct from a stored null result, which is a hit with Null set.
var ErrMiss = errors.New("cache miss")

// Entry is one cached (function, parameters) result.
type Entry struct {
	// Key is the canonical cache key. Entries with an empty key are never
	// stored; an empty key means the originating formula was unparsable.
	Key string

	// Value is the host-displayable scalar result. Meaningless when Null is set.
	Value string

	// Null marks a legitimately-null query result, as opposed to a miss.
	Null bool

	// Signature is a human-readable reconstruction of the originating call.
	Signature string

	UpdatedAt time.Time
}

// CacheStore is the durable key → result table shared by synchronous lookups
// and refresh cycles. At most one row exists per key and the most recent
// upsert wins. Lookup never blocks on an external query.
type CacheStore interface {
	// Lookup returns the entry for key, or ErrMiss when absent.
	Lookup(ctx context.Context, key string) (Entry, error)

	// Upsert inserts or overwrites one entry. Empty keys are dropped silently.
	Upsert(ctx context.Context, entry Entry) error

	// UpsertBatch applies many upserts without per-row round trips. A lookup
	// issued after UpsertBatch returns observes the new values.
	UpsertBatch(ctx context.Context, entries []Entry) error

	// Clear removes every entry; used before a full forced refresh.
	Clear(ctx context.Context) error
}
