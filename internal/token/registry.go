// Package token resolves Cardano native-asset metadata. Lookups go
// cache first, then the persistent store, then the remote registry, and
// results are written back on the way out. Unknown units are cached as
// negative entries with a shorter TTL so repeated lookups of dead units
// don't hammer the registry.
package token

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/types"
)

// negativeSentinel marks a cached "unit has no registry metadata" result.
const negativeSentinel = "__no_metadata__"

// policyIDHexLen is the length of the hex-encoded policy ID prefix of a unit.
const policyIDHexLen = 56

// MetadataFetcher retrieves token metadata from a remote source, such as
// the Blockfrost asset endpoint.
type MetadataFetcher interface {
	FetchTokenMetadata(ctx context.Context, units []string) (map[string]*types.TokenInfo, error)
}

// Store is the persistent token repository.
type Store interface {
	FindByUnits(ctx context.Context, units []string) (map[string]*types.TokenInfo, error)
	SaveBatch(ctx context.Context, infos []*types.TokenInfo) error
}

// Cache is the volatile cache in front of the store, keyed by unit.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Options configures a Registry.
type Options struct {
	// CacheTTL is how long a resolved token stays cached.
	CacheTTL time.Duration
	// NegativeTTL is how long an unknown unit stays cached as absent.
	NegativeTTL time.Duration
	// FetchBatchSize bounds the number of units per remote fetch.
	FetchBatchSize int
}

// Registry is the cache-first token metadata resolver. It implements
// the parser's TokenResolver contract.
type Registry struct {
	fetcher MetadataFetcher
	store   Store
	cache   Cache
	opts    Options

	inflightMu sync.Mutex
	inflight   map[string]*inflightFetch
}

// inflightFetch tracks one in-progress remote resolution of a unit so
// concurrent callers share a single fetch instead of stampeding the
// registry. Fields are set before done is closed and read-only after.
type inflightFetch struct {
	done chan struct{}
	info *types.TokenInfo
	err  error
}

// NewRegistry creates a token registry. fetcher, store, and cache may
// each be nil, in which case that tier is skipped.
func NewRegistry(fetcher MetadataFetcher, store Store, cache Cache, opts Options) *Registry {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 10 * time.Minute
	}
	if opts.FetchBatchSize <= 0 {
		opts.FetchBatchSize = 100
	}
	return &Registry{
		fetcher:  fetcher,
		store:    store,
		cache:    cache,
		opts:     opts,
		inflight: make(map[string]*inflightFetch),
	}
}

// GetTokenInfo resolves one unit. Returns (nil, nil) when the unit has
// no registry metadata; the absence is cached.
func (r *Registry) GetTokenInfo(ctx context.Context, unit string) (*types.TokenInfo, error) {
	infos, err := r.BatchGetTokenInfo(ctx, []string{unit})
	if err != nil {
		return nil, err
	}
	return infos[unit], nil
}

// BatchGetTokenInfo resolves metadata for a set of units. The returned
// map contains an entry per unit that has metadata; units without
// metadata are simply absent. The lovelace unit is always skipped.
func (r *Registry) BatchGetTokenInfo(ctx context.Context, units []string) (map[string]*types.TokenInfo, error) {
	resolved := make(map[string]*types.TokenInfo)

	pending := dedupeUnits(units)
	if len(pending) == 0 {
		return resolved, nil
	}

	pending = r.resolveFromCache(ctx, pending, resolved)
	if len(pending) == 0 {
		return resolved, nil
	}

	pending, err := r.resolveFromStore(ctx, pending, resolved)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return resolved, nil
	}

	if err := r.resolveFromFetcher(ctx, pending, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Invalidate drops units from the cache so the next lookup goes back to
// the store and registry.
func (r *Registry) Invalidate(ctx context.Context, units ...string) error {
	if r.cache == nil || len(units) == 0 {
		return nil
	}
	keys := make([]string, len(units))
	for i, unit := range units {
		keys[i] = cacheKey(unit)
	}
	return r.cache.Del(ctx, keys...)
}

// resolveFromCache fills resolved from the cache tier and returns the
// units still unresolved. Negative entries count as resolved-to-nothing
// and are removed from pending without producing a map entry. Cache
// errors degrade to misses.
func (r *Registry) resolveFromCache(ctx context.Context, pending []string, resolved map[string]*types.TokenInfo) []string {
	if r.cache == nil {
		return pending
	}
	logger := logging.FromContext(ctx)

	var misses []string
	for _, unit := range pending {
		raw, found, err := r.cache.Get(ctx, cacheKey(unit))
		if err != nil {
			logger.WithError(err).WithField("unit", unit).Warn("Token cache read failed, falling through")
			misses = append(misses, unit)
			continue
		}
		if !found {
			misses = append(misses, unit)
			continue
		}
		if raw == negativeSentinel {
			continue
		}
		var info types.TokenInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			logger.WithError(err).WithField("unit", unit).Warn("Corrupt token cache entry, refetching")
			misses = append(misses, unit)
			continue
		}
		resolved[unit] = &info
	}
	return misses
}

// resolveFromStore fills resolved from the persistent store, caches the
// hits, and returns the units still unresolved.
func (r *Registry) resolveFromStore(ctx context.Context, pending []string, resolved map[string]*types.TokenInfo) ([]string, error) {
	if r.store == nil {
		return pending, nil
	}

	stored, err := r.store.FindByUnits(ctx, pending)
	if err != nil {
		return nil, errors.NewDatabaseError("token lookup", err)
	}

	var misses []string
	for _, unit := range pending {
		info, ok := stored[unit]
		if !ok || info == nil {
			misses = append(misses, unit)
			continue
		}
		resolved[unit] = info
		r.cachePositive(ctx, unit, info)
	}
	return misses, nil
}

// resolveFromFetcher resolves the remaining units remotely. Each unit is
// claimed by at most one goroutine; callers that lose the claim wait for
// the winner's result. Fetched tokens are persisted and cached, unknown
// units are cached as negative entries.
func (r *Registry) resolveFromFetcher(ctx context.Context, pending []string, resolved map[string]*types.TokenInfo) error {
	if r.fetcher == nil {
		return nil
	}

	claimed, waiting := r.claimUnits(pending)

	for start := 0; start < len(claimed); start += r.opts.FetchBatchSize {
		end := start + r.opts.FetchBatchSize
		if end > len(claimed) {
			end = len(claimed)
		}
		batch := claimed[start:end]

		fetched, err := r.fetcher.FetchTokenMetadata(ctx, batch)
		if err != nil {
			r.releaseUnits(claimed[start:], nil, err)
			return errors.NewProviderError("token registry", err)
		}

		var toSave []*types.TokenInfo
		for _, unit := range batch {
			info := fetched[unit]
			if info != nil {
				fillDerivedFields(info)
				resolved[unit] = info
				toSave = append(toSave, info)
				r.cachePositive(ctx, unit, info)
			} else {
				r.cacheNegative(ctx, unit)
			}
			r.releaseUnits([]string{unit}, info, nil)
		}

		if r.store != nil && len(toSave) > 0 {
			if err := r.store.SaveBatch(ctx, toSave); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("Persisting fetched token metadata failed")
			}
		}
	}

	for unit, flight := range waiting {
		select {
		case <-flight.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if flight.err != nil {
			return errors.NewProviderError("token registry", flight.err)
		}
		if flight.info != nil {
			resolved[unit] = flight.info
		}
	}
	return nil
}

// claimUnits partitions pending into units this caller will fetch and
// units some other caller is already fetching.
func (r *Registry) claimUnits(pending []string) ([]string, map[string]*inflightFetch) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()

	var claimed []string
	waiting := make(map[string]*inflightFetch)
	for _, unit := range pending {
		if flight, exists := r.inflight[unit]; exists {
			waiting[unit] = flight
			continue
		}
		r.inflight[unit] = &inflightFetch{done: make(chan struct{})}
		claimed = append(claimed, unit)
	}
	return claimed, waiting
}

// releaseUnits publishes results for claimed units and wakes waiters.
func (r *Registry) releaseUnits(units []string, info *types.TokenInfo, err error) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()

	for _, unit := range units {
		flight, exists := r.inflight[unit]
		if !exists {
			continue
		}
		flight.info = info
		flight.err = err
		delete(r.inflight, unit)
		close(flight.done)
	}
}

func (r *Registry) cachePositive(ctx context.Context, unit string, info *types.TokenInfo) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(unit), string(data), r.opts.CacheTTL); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("unit", unit).Warn("Token cache write failed")
	}
}

func (r *Registry) cacheNegative(ctx context.Context, unit string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(unit), negativeSentinel, r.opts.NegativeTTL); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("unit", unit).Warn("Token cache write failed")
	}
}

func cacheKey(unit string) string {
	return "token:" + unit
}

// dedupeUnits drops duplicates and the lovelace unit, returning a
// sorted slice so batch composition is deterministic.
func dedupeUnits(units []string) []string {
	seen := make(map[string]struct{}, len(units))
	var out []string
	for _, unit := range units {
		if unit == "" || unit == types.LovelaceUnit {
			continue
		}
		if _, dup := seen[unit]; dup {
			continue
		}
		seen[unit] = struct{}{}
		out = append(out, unit)
	}
	sort.Strings(out)
	return out
}

// fillDerivedFields populates the fields derivable from the unit itself
// when the fetcher left them empty. A unit is the policy ID followed by
// the hex-encoded asset name.
func fillDerivedFields(info *types.TokenInfo) {
	policyID, assetNameHex := SplitUnit(info.Unit)
	if info.PolicyID == "" {
		info.PolicyID = policyID
	}
	if info.AssetName == "" {
		info.AssetName = assetNameHex
	}
	if info.DisplayName == "" {
		if decoded, err := hex.DecodeString(assetNameHex); err == nil && len(decoded) > 0 {
			info.DisplayName = string(decoded)
		}
	}
}

// SplitUnit splits a unit into its policy ID and hex asset name parts.
func SplitUnit(unit string) (policyID, assetNameHex string) {
	if len(unit) <= policyIDHexLen {
		return unit, ""
	}
	return unit[:policyIDHexLen], unit[policyIDHexLen:]
}
