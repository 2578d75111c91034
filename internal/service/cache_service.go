package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

// Cache keys shared by the services reading and invalidating them.
const (
	cacheKeyDashboard = "dashboard:admin"
	cacheKeyCatalog   = "subjects:catalog"

	cacheKeySubjectsPattern = "subjects:*"

	// Bumped on every invalidation. Read models are stored under the
	// generation current when their read started, so a fill that lost a race
	// with a write lands under a key nobody reads anymore.
	cacheKeySubjectsGeneration = "generation:subjects"
	subjectsGenerationTTL      = 24 * time.Hour
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Evict removes the given keys. Failures are logged and returned.
func (s *CacheService) Evict(ctx context.Context, keys ...string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache evict failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// SubjectsKey versions base with the current subjects generation. ok is false
// when the generation could not be read, in which case the caller must not
// cache.
func (s *CacheService) SubjectsKey(ctx context.Context, base string) (key string, ok bool) {
	if !s.Enabled() {
		return base, false
	}
	var generation string
	if _, err := s.Get(ctx, cacheKeySubjectsGeneration, &generation); err != nil {
		return base, false
	}
	if generation == "" {
		generation = "0"
	}
	return base + ":" + generation, true
}

// InvalidateSubjects drops every read model derived from subject seat counts.
func (s *CacheService) InvalidateSubjects(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	dashboardKey, dashboardOK := s.SubjectsKey(ctx, cacheKeyDashboard)
	_ = s.Set(ctx, cacheKeySubjectsGeneration, uuid.NewString(), subjectsGenerationTTL)
	if dashboardOK {
		_ = s.Evict(ctx, dashboardKey)
	}
	_ = s.Invalidate(ctx, cacheKeySubjectsPattern)
}
