package research

import (
	"context"
	"strings"
	"time"

	"github.com/joaquinllenado/recurve-ai/internal/cache"
)

// CachingSearcher serves repeated searches from a cache. Failed searches
// are never cached.
type CachingSearcher struct {
	next  Searcher
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachingSearcher wraps next with c. Entries live for ttl.
func NewCachingSearcher(next Searcher, c *cache.Cache, ttl time.Duration) *CachingSearcher {
	return &CachingSearcher{next: next, cache: c, ttl: ttl}
}

func (s *CachingSearcher) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	normalized := req
	normalized.Query = strings.ToLower(strings.TrimSpace(req.Query))
	key, err := cache.GenerateKey("search", normalized)
	if err != nil {
		return s.next.Search(ctx, req)
	}

	if entry, ok := s.cache.Get(ctx, key); ok {
		if results, ok := entry.Response.([]SearchResult); ok {
			return append([]SearchResult(nil), results...), nil
		}
	}

	results, err := s.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, append([]SearchResult(nil), results...), s.ttl)
	return results, nil
}
