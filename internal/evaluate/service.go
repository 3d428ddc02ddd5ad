// Package evaluate serves the synchronous lookup surface: one function call
// in, one cached (or freshly fetched) result out.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	v1 "github.com/pivotcache-lab/pivotcache/internal/api/v1"
	"github.com/pivotcache-lab/pivotcache/internal/core/cachekey"
	"github.com/pivotcache-lab/pivotcache/internal/core/function"
	"github.com/pivotcache-lab/pivotcache/internal/core/plan"
	"github.com/pivotcache-lab/pivotcache/internal/core/storage"
	"github.com/pivotcache-lab/pivotcache/internal/executor"
	"github.com/pivotcache-lab/pivotcache/internal/refresh"
)

var (
	// ErrUnknownFunction marks a lookup against an unregistered function name.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrInvalidArguments marks a lookup whose argument list cannot be applied
	// to the function's declared parameters.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Service implements synchronous evaluation over the cache store, with an
// optional fetch-on-miss path against the query executor.
type Service struct {
	registry  *function.Registry
	keys      cachekey.Builder
	fragments plan.FragmentBuilder
	store     storage.CacheStore
	exec      executor.QueryExecutor
	refresher *refresh.Orchestrator

	fetchOnMiss bool

	// group collapses concurrent fetch-on-miss queries for the same key into
	// one executor round trip.
	group singleflight.Group
}

// NewService creates the evaluation service. The executor may be nil, which
// disables fetch-on-miss; the refresher may be nil, which disables the
// refresh endpoint.
func NewService(
	registry *function.Registry,
	keys cachekey.Builder,
	fragments plan.FragmentBuilder,
	store storage.CacheStore,
	exec executor.QueryExecutor,
	refresher *refresh.Orchestrator,
	fetchOnMiss bool,
) *Service {
	if registry == nil {
		panic("evaluate: registry must not be nil")
	}
	if store == nil {
		panic("evaluate: store must not be nil")
	}
	return &Service{
		registry:    registry,
		keys:        keys,
		fragments:   fragments,
		store:       store,
		exec:        exec,
		refresher:   refresher,
		fetchOnMiss: fetchOnMiss && exec != nil,
	}
}

// Evaluate resolves one function call against the cache. On a miss it either
// returns the needs-refresh marker or, when fetch-on-miss is enabled, issues
// a single-key query and stores the result before answering.
func (s *Service) Evaluate(ctx context.Context, req v1.EvaluateRequest) (*v1.EvaluateResponse, error) {
	desc, ok := s.registry.Lookup(req.Function)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, req.Function)
	}
	if len(req.Values) > len(desc.Parameters) {
		return nil, fmt.Errorf("%w: %s takes at most %d arguments, got %d",
			ErrInvalidArguments, desc.Name, len(desc.Parameters), len(req.Values))
	}

	key := s.keys.Build(desc.Name, desc.Parameters, req.Values)

	entry, err := s.store.Lookup(ctx, key)
	switch {
	case err == nil:
		return s.respond(desc.Name, key, statusForHit(entry), entry), nil
	case errors.Is(err, storage.ErrMiss):
		// fall through to the miss path
	default:
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	if !s.fetchOnMiss {
		return &v1.EvaluateResponse{
			Function: desc.Name,
			CacheKey: key,
			Status:   v1.StatusMiss,
			Display:  v1.NeedsRefreshMarker,
		}, nil
	}

	fetched, err := s.fetch(ctx, desc, key, req.Values)
	if err != nil {
		return nil, err
	}
	return s.respond(desc.Name, key, v1.StatusFetched, fetched), nil
}

// fetch runs the single-key query for a miss and stores the result. Coalesced
// per key: concurrent misses on the same key share one round trip.
func (s *Service) fetch(ctx context.Context, desc *function.FunctionDescriptor, key string, values []string) (storage.Entry, error) {
	result, err, shared := s.group.Do(key, func() (interface{}, error) {
		frag, err := s.fragments.RenderOrphan(plan.PendingEvaluation{
			CacheKey:   key,
			Descriptor: desc,
			RawValues:  values,
		})
		if err != nil {
			return storage.Entry{}, fmt.Errorf("render lookup query: %w", err)
		}

		rows, err := s.exec.Execute(ctx, frag.SQL)
		if err != nil {
			return storage.Entry{}, fmt.Errorf("execute lookup query: %w", err)
		}

		entry := storage.Entry{
			Key:       key,
			Null:      true,
			Signature: fmt.Sprintf("%s(%s)", desc.Name, strings.Join(values, ", ")),
			UpdatedAt: time.Now().UTC(),
		}
		for _, row := range rows {
			if row.Key != key {
				continue
			}
			entry.Value = row.Value.String
			entry.Null = !row.Value.Valid
			break
		}

		if err := s.store.Upsert(ctx, entry); err != nil {
			return storage.Entry{}, fmt.Errorf("store fetched result: %w", err)
		}
		return entry, nil
	})
	if err != nil {
		return storage.Entry{}, err
	}
	if shared {
		slog.Debug("[Evaluate] Coalesced concurrent fetch", "cache_key", key)
	}
	return result.(storage.Entry), nil
}

// respond shapes one lookup outcome for the API.
func (s *Service) respond(functionName, key, status string, entry storage.Entry) *v1.EvaluateResponse {
	resp := &v1.EvaluateResponse{
		Function:  functionName,
		CacheKey:  key,
		Status:    status,
		Signature: entry.Signature,
	}
	if !entry.UpdatedAt.IsZero() {
		at := entry.UpdatedAt
		resp.UpdatedAt = &at
	}
	if entry.Null {
		resp.Display = v1.NullResultMarker
		return resp
	}
	value := entry.Value
	resp.Value = &value
	resp.Display = value
	return resp
}

func statusForHit(entry storage.Entry) string {
	if entry.Null {
		return v1.StatusNull
	}
	return v1.StatusHit
}

// Refresh runs one refresh cycle. Returns refresh.ErrBusy when a cycle is
// already running, or an error when no formula source is configured.
func (s *Service) Refresh(ctx context.Context, scope string, force bool) (*refresh.Report, error) {
	if s.refresher == nil {
		return nil, fmt.Errorf("no workbook configured; refresh is disabled")
	}
	return s.refresher.Run(ctx, scope, force)
}

// ClearCache drops every cached entry.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// Functions lists the registered descriptors, sorted by name.
func (s *Service) Functions() []*function.FunctionDescriptor {
	return s.registry.All()
}
