package routing

import (
	"context"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-claimbot/core"
)

const routeCacheKeyPrefix = "claimbot::routes::v1"

// CachedMatcher memoizes route lookups per normalized query for the cache
// TTL. Failed lookups are not cached.
type CachedMatcher struct {
	base  core.JourneyMatcher
	cache repositorycache.CacheService
}

func NewCachedMatcher(base core.JourneyMatcher, cacheService repositorycache.CacheService) (*CachedMatcher, error) {
	if base == nil {
		return nil, core.ConfigurationError("routing: base matcher is required", nil)
	}
	if cacheService == nil {
		return nil, core.ConfigurationError("routing: cache service is required", nil)
	}
	return &CachedMatcher{base: base, cache: cacheService}, nil
}

// RouteCacheKey is claimbot::routes::v1::<from>::<to>::<date>::<time> with
// stations lower-cased and every segment path-escaped.
func RouteCacheKey(query core.RouteQuery) string {
	segments := []string{
		strings.ToLower(strings.TrimSpace(query.Origin)),
		strings.ToLower(strings.TrimSpace(query.Destination)),
		strings.TrimSpace(query.TravelDate),
		strings.TrimSpace(query.DepartureTime),
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{routeCacheKeyPrefix}, segments...), "::")
}

func (m *CachedMatcher) FindRoutes(ctx context.Context, query core.RouteQuery) ([]core.Route, error) {
	routes, err := repositorycache.GetOrFetch(ctx, m.cache, RouteCacheKey(query), func(ctx context.Context) ([]core.Route, error) {
		return m.base.FindRoutes(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.Route(nil), routes...), nil
}

// Invalidate drops the cached result for query.
func (m *CachedMatcher) Invalidate(ctx context.Context, query core.RouteQuery) error {
	return m.cache.Delete(ctx, RouteCacheKey(query))
}

// NewCacheService builds the in-process cache used for route lookups.
func NewCacheService(cfg core.CollaboratorConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if cfg.RouteCacheTTL > 0 {
		config.TTL = cfg.RouteCacheTTL
	}
	return repositorycache.NewCacheService(config)
}

var _ core.JourneyMatcher = (*CachedMatcher)(nil)
