// Package service orchestrates queries across the cache and content store.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/marketpulse/internal/cache"
	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/query"
)

// ContentSearcher is the slice of the content store the query path needs.
type ContentSearcher interface {
	Search(ctx context.Context, text string, predicate query.Node, limit int) (*domain.SearchResult, error)
}

// Config tunes the query path.
type Config struct {
	CacheTTL     time.Duration `yaml:"cache_ttl" env:"QUERY_CACHE_TTL"`
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
}

const (
	defaultCacheTTL = time.Minute
	defaultLimit    = 10
	defaultMaxLimit = 50
)

// QueryResponse is one answered query.
type QueryResponse struct {
	Query  string              `json:"query"`
	Total  int64               `json:"total"`
	Items  []domain.ScoredItem `json:"items"`
	TookMS int64               `json:"took_ms"`
}

// QueryService answers queries end to end: normalize, validate, memoize,
// compile, search.
type QueryService struct {
	store ContentSearcher
	memo  *cache.Cache
	cfg   Config
	log   logger.Logger
}

// NewQueryService builds the query service, applying defaults for unset
// limits.
func NewQueryService(store ContentSearcher, memo *cache.Cache, cfg Config, log logger.Logger) *QueryService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}
	return &QueryService{store: store, memo: memo, cfg: cfg, log: log}
}

// Search answers one query. Results are memoized under the filter's
// canonical key, so equal filters inside the TTL are served from the cache
// without touching the store. Errors are never memoized.
func (s *QueryService) Search(ctx context.Context, f query.Filter) (*QueryResponse, error) {
	start := time.Now()

	f.Normalize(s.cfg.DefaultLimit, s.cfg.MaxLimit)
	if err := f.Validate(); err != nil {
		return nil, err
	}

	key := query.CacheKey(f)
	response, err := cache.GetOrCompute(ctx, s.memo, key, s.cfg.CacheTTL,
		func(ctx context.Context) (QueryResponse, error) {
			predicate := query.Compile(f)
			result, searchErr := s.store.Search(ctx, f.Query, predicate, f.Limit)
			if searchErr != nil {
				return QueryResponse{}, fmt.Errorf("content search: %w", searchErr)
			}
			return QueryResponse{Query: f.Query, Total: result.Total, Items: result.Items}, nil
		})
	if err != nil {
		s.log.Error("query failed", logger.String("key", key), logger.Error(err))
		return nil, err
	}

	response.TookMS = time.Since(start).Milliseconds()
	s.log.Debug("query answered",
		logger.String("key", key),
		logger.Int64("total", response.Total),
		logger.Int64("took_ms", response.TookMS),
	)
	return &response, nil
}
