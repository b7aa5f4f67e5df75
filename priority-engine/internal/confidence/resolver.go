// Package confidence resolves business metrics through a fixed
// LOCKED -> OBSERVED -> ESTIMATED fallback chain and tags each value with the
// tier it came from.
package confidence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/logging"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

// ErrMissingDefault is returned when the caller supplies no estimate. It is
// a programming error, never a runtime condition.
var ErrMissingDefault = errors.New("confidence: no estimated default supplied")

// LockedSource serves another module's finalized values.
type LockedSource interface {
	LockedMetric(ctx context.Context, tenantID, key string) (store.LockedMetric, error)
}

// ObservedSource serves values aggregated from this module's own data.
type ObservedSource interface {
	ObservedMetric(ctx context.Context, tenantID, key string) (store.ObservedMetric, error)
}

// Estimate is the caller-supplied last-resort value.
type Estimate struct {
	Value    float64
	SourceID string
	Set      bool
}

const defaultEstimateSource = "benchmark"

// EstimateOf builds a set Estimate. An empty source is recorded as "benchmark".
func EstimateOf(value float64, source string) Estimate {
	if source == "" {
		source = defaultEstimateSource
	}
	return Estimate{Value: value, SourceID: source, Set: true}
}

// Request is one key for ResolveMany.
type Request struct {
	Key      string
	Estimate Estimate
}

type Options struct {
	// CacheSize bounds the number of cached resolutions; <= 0 disables caching.
	CacheSize   int
	LockedTTL   time.Duration
	ObservedTTL time.Duration
	// Parallelism bounds ResolveMany; <= 0 means 8.
	Parallelism int
	Logger      *zap.Logger
	Now         func() time.Time
}

type cacheEntry struct {
	metric  models.ResolvedMetric
	expires time.Time
}

type Resolver struct {
	locked   LockedSource
	observed ObservedSource
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache *lru.Cache
}

// NewResolver wires the two queryable tiers. Either source may be nil, in
// which case that tier is always absent.
func NewResolver(locked LockedSource, observed ObservedSource, opts Options) *Resolver {
	r := &Resolver{
		locked:   locked,
		observed: observed,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		now:      opts.Now,
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.CacheSize > 0 {
		r.cache = lru.New(opts.CacheSize)
	}
	return r
}

// Resolve walks the chain for one key. The only error is ErrMissingDefault;
// source failures are logged and treated as absent.
func (r *Resolver) Resolve(ctx context.Context, tenantID, key string, estimate Estimate) (models.ResolvedMetric, error) {
	if !estimate.Set {
		return models.ResolvedMetric{}, ErrMissingDefault
	}
	now := r.now()
	if m, ok := r.cached(tenantID, key, now); ok {
		return m, nil
	}

	if m, ok := r.fromLocked(ctx, tenantID, key, now); ok {
		r.remember(tenantID, key, m, r.opts.LockedTTL, now)
		return m, nil
	}
	if m, ok := r.fromObserved(ctx, tenantID, key, now); ok {
		r.remember(tenantID, key, m, r.opts.ObservedTTL, now)
		return m, nil
	}

	return models.ResolvedMetric{
		Key:        key,
		Value:      estimate.Value,
		Tier:       models.TierEstimated,
		SourceID:   estimate.SourceID,
		ResolvedAt: now,
	}, nil
}

func (r *Resolver) fromLocked(ctx context.Context, tenantID, key string, now time.Time) (models.ResolvedMetric, bool) {
	if r.locked == nil {
		return models.ResolvedMetric{}, false
	}
	v, err := r.locked.LockedMetric(ctx, tenantID, key)
	if err != nil {
		r.logAbsent(err, models.TierLocked, tenantID, key)
		return models.ResolvedMetric{}, false
	}
	module := v.SourceModule
	return models.ResolvedMetric{
		Key:           key,
		Value:         v.Value,
		Tier:          models.TierLocked,
		SourceID:      v.SourceID,
		SourceModule:  &module,
		IsCrossModule: true,
		ResolvedAt:    now,
	}, true
}

func (r *Resolver) fromObserved(ctx context.Context, tenantID, key string, now time.Time) (models.ResolvedMetric, bool) {
	if r.observed == nil {
		return models.ResolvedMetric{}, false
	}
	v, err := r.observed.ObservedMetric(ctx, tenantID, key)
	if err != nil {
		r.logAbsent(err, models.TierObserved, tenantID, key)
		return models.ResolvedMetric{}, false
	}
	return models.ResolvedMetric{
		Key:        key,
		Value:      v.Value,
		Tier:       models.TierObserved,
		SourceID:   v.SourceID,
		ResolvedAt: now,
	}, true
}

func (r *Resolver) logAbsent(err error, tier models.ConfidenceTier, tenantID, key string) {
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	r.logger.Warn("metric source failed; falling through",
		zap.String("tenant", tenantID),
		zap.String("metric", key),
		zap.String("tier", string(tier)),
		zap.Error(err))
}

func cacheKey(tenantID, key string) string {
	return tenantID + "|" + key
}

func (r *Resolver) cached(tenantID, key string, now time.Time) (models.ResolvedMetric, bool) {
	if r.cache == nil {
		return models.ResolvedMetric{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache.Get(cacheKey(tenantID, key))
	if !ok {
		return models.ResolvedMetric{}, false
	}
	entry := v.(cacheEntry)
	if !now.Before(entry.expires) {
		r.cache.Remove(cacheKey(tenantID, key))
		return models.ResolvedMetric{}, false
	}
	m := entry.metric
	m.ResolvedAt = now
	return m, true
}

func (r *Resolver) remember(tenantID, key string, m models.ResolvedMetric, ttl time.Duration, now time.Time) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(cacheKey(tenantID, key), cacheEntry{metric: m, expires: now.Add(ttl)})
}

// Invalidate drops any cached resolution for the key.
func (r *Resolver) Invalidate(tenantID, key string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(cacheKey(tenantID, key))
}

// ResolveMany resolves independent keys concurrently and returns the results
// in request order.
func (r *Resolver) ResolveMany(ctx context.Context, tenantID string, reqs []Request) ([]models.ResolvedMetric, error) {
	for _, req := range reqs {
		if !req.Estimate.Set {
			return nil, ErrMissingDefault
		}
	}
	out := make([]models.ResolvedMetric, len(reqs))
	limit := r.opts.Parallelism
	if limit <= 0 {
		limit = 8
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, req := range reqs {
		eg.Go(func() error {
			m, err := r.Resolve(egCtx, tenantID, req.Key, req.Estimate)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
