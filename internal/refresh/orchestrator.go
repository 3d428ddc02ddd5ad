// Package refresh runs one consolidation cycle end to end: collect pending
// evaluations, discover pools, render and pack query batches, execute them,
// and persist the results. Batches fail independently; one bad batch never
// aborts the cycle.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	"github.com/pivotcache-lab/pivotcache/internal/collect"
	"github.com/pivotcache-lab/pivotcache/internal/core/cachekey"
	"github.com/pivotcache-lab/pivotcache/internal/core/plan"
	"github.com/pivotcache-lab/pivotcache/internal/core/storage"
	"github.com/pivotcache-lab/pivotcache/internal/executor"
)

// ErrBusy is returned when a cycle is requested while another is running.
// Cycles never queue: the caller retries after the current one finishes.
var ErrBusy = errors.New("refresh cycle already running")

// Recalculator is an optional post-cycle hook that asks the host to
// recalculate the refreshed scope so cells pick up the new cache rows.
type Recalculator interface {
	Recalculate(ctx context.Context, scope string) error
}

// Report summarizes one completed cycle.
type Report struct {
	CycleID       string
	Scope         string
	Collected     int
	SkippedCells  int
	Pools         int
	Orphans       int
	Batches       int
	FailedBatches int
	RowsStored    int
	Errors        []string
}

// Orchestrator drives refresh cycles. At most one cycle runs at a time.
type Orchestrator struct {
	mu sync.Mutex

	collector *collect.Collector
	fragments plan.FragmentBuilder
	store     storage.CacheStore
	exec      executor.QueryExecutor
	recalc    Recalculator

	minPoolSize    int
	maxQueryLength int
}

// New creates an orchestrator. The recalculator may be nil.
func New(
	collector *collect.Collector,
	fragments plan.FragmentBuilder,
	store storage.CacheStore,
	exec executor.QueryExecutor,
	recalc Recalculator,
	minPoolSize int,
	maxQueryLength int,
) *Orchestrator {
	if collector == nil {
		panic("refresh: collector must not be nil")
	}
	if store == nil {
		panic("refresh: store must not be nil")
	}
	if exec == nil {
		panic("refresh: executor must not be nil")
	}
	return &Orchestrator{
		collector:      collector,
		fragments:      fragments,
		store:          store,
		exec:           exec,
		recalc:         recalc,
		minPoolSize:    minPoolSize,
		maxQueryLength: maxQueryLength,
	}
}

// Run executes one cycle over the given scope. Returns ErrBusy when another
// cycle holds the lock. The returned report is non-nil whenever err is nil,
// even if every batch failed: partial progress is still progress.
func (o *Orchestrator) Run(ctx context.Context, scope string, force bool) (*Report, error) {
	if !o.mu.TryLock() {
		return nil, ErrBusy
	}
	defer o.mu.Unlock()

	report := &Report{
		CycleID: uuid.NewString(),
		Scope:   scope,
	}
	started := time.Now()
	slog.Info("[Refresh] Cycle started", "cycle_id", report.CycleID, "scope", scope, "force", force)

	if force && (scope == "" || scope == v1.ScopeWorkbook) {
		if err := o.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear cache before forced refresh: %w", err)
		}
	}

	items, skipped, err := o.collector.Collect(ctx, scope, force)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	report.Collected = len(items)
	report.SkippedCells = skipped

	pools, orphans := plan.Analyze(items, o.minPoolSize)
	report.Pools = len(pools)
	report.Orphans = len(orphans)

	// The formula each key came from, for stored signatures. First occurrence
	// wins; duplicate invocations share a key and therefore a signature.
	signatures := make(map[string]string, len(items))
	for _, item := range items {
		if _, ok := signatures[item.CacheKey]; !ok {
			signatures[item.CacheKey] = item.OriginSignature
		}
	}

	var fragments []plan.QueryFragment
	rendered := make(map[string]bool)
	for _, pool := range pools {
		frags, err := o.fragments.RenderPool(pool)
		if err != nil {
			slog.Warn("[Refresh] Skipping unrenderable pool",
				"cycle_id", report.CycleID, "function", pool.Descriptor.Name, "error", err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		for _, frag := range frags {
			for _, key := range frag.Keys {
				rendered[key] = true
			}
		}
		fragments = append(fragments, frags...)
	}
	for _, item := range orphans {
		// Duplicate invocations share a key; fetch it once.
		if rendered[item.CacheKey] {
			continue
		}
		rendered[item.CacheKey] = true
		frag, err := o.fragments.RenderOrphan(item)
		if err != nil {
			slog.Warn("[Refresh] Skipping unrenderable lookup",
				"cycle_id", report.CycleID, "cell", item.CellHandle, "error", err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		fragments = append(fragments, frag)
	}

	batches := plan.Pack(fragments, o.maxQueryLength)
	report.Batches = len(batches)

	for i, batch := range batches {
		if err := o.runBatch(ctx, batch, signatures, report); err != nil {
			slog.Error("[Refresh] Batch failed",
				"cycle_id", report.CycleID, "batch", i+1, "of", len(batches), "error", err)
			report.FailedBatches++
			report.Errors = append(report.Errors, err.Error())
		}
	}

	if o.recalc != nil {
		if err := o.recalc.Recalculate(ctx, scope); err != nil {
			slog.Warn("[Refresh] Host recalculation failed", "cycle_id", report.CycleID, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("recalculate: %v", err))
		}
	}

	slog.Info("[Refresh] Cycle finished",
		"cycle_id", report.CycleID,
		"collected", report.Collected,
		"pools", report.Pools,
		"orphans", report.Orphans,
		"batches", report.Batches,
		"failed_batches", report.FailedBatches,
		"rows_stored", report.RowsStored,
		"duration", time.Since(started))
	return report, nil
}

// runBatch executes one batch and stores its results. Keys the query did not
// return — a grouped fragment whose filter matched no rows — are stored as
// null results, so their cells settle instead of refetching forever.
func (o *Orchestrator) runBatch(ctx context.Context, batch plan.QueryBatch, signatures map[string]string, report *Report) error {
	rows, err := o.exec.Execute(ctx, batch.SQL())
	if err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}

	now := time.Now().UTC()
	returned := make(map[string]bool, len(rows))
	entries := make([]storage.Entry, 0, len(batch.Keys()))

	for _, row := range rows {
		returned[row.Key] = true
		entries = append(entries, storage.Entry{
			Key:       row.Key,
			Value:     row.Value.String,
			Null:      !row.Value.Valid,
			Signature: o.signatureFor(row.Key, signatures),
			UpdatedAt: now,
		})
	}
	for _, key := range batch.Keys() {
		if returned[key] {
			continue
		}
		entries = append(entries, storage.Entry{
			Key:       key,
			Null:      true,
			Signature: o.signatureFor(key, signatures),
			UpdatedAt: now,
		})
	}

	if err := o.store.UpsertBatch(ctx, entries); err != nil {
		return fmt.Errorf("store batch results: %w", err)
	}
	report.RowsStored += len(entries)
	return nil
}

// signatureFor prefers the originating formula text; keys with no tracked
// origin (pool members rendered for values nobody asked for verbatim) fall
// back to a call-shaped reconstruction from the key itself.
func (o *Orchestrator) signatureFor(key string, signatures map[string]string) string {
	if sig, ok := signatures[key]; ok && sig != "" {
		return sig
	}
	parts := cachekey.Split(key)
	if len(parts) == 0 {
		return key
	}
	return fmt.Sprintf("%s(%s)", parts[0], strings.Join(parts[1:], ", "))
}
