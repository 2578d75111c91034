package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/dto"
	"github.com/noah-isme/subject-registration-api/internal/models"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

type subjectSummaryRepository interface {
	ListWithRegistrationCounts(ctx context.Context) ([]models.SubjectSummary, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the admin dashboard.
type DashboardService struct {
	subjects subjectSummaryRepository
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(subjects subjectSummaryRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{subjects: subjects, cache: cache, metrics: metrics, logger: logger, now: time.Now, cfg: cfg}
}

// Admin returns the admin dashboard and whether it was served from cache.
// The system section is always live.
func (s *DashboardService) Admin(ctx context.Context) (*dto.AdminDashboardResponse, bool, error) {
	key, cacheable := s.cache.SubjectsKey(ctx, cacheKeyDashboard)

	var cached dto.AdminDashboardResponse
	hit := false
	if cacheable {
		var err error
		if hit, err = s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		}
	}
	if hit {
		cached.System = s.metrics.Snapshot()
		return &cached, true, nil
	}

	summaries, err := s.subjects.ListWithRegistrationCounts(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard")
	}
	if summaries == nil {
		summaries = []models.SubjectSummary{}
	}

	dashboard := &dto.AdminDashboardResponse{
		Subjects:    summaries,
		Totals:      summarize(summaries),
		GeneratedAt: s.now().UTC(),
	}
	if cacheable {
		if err := s.cache.Set(ctx, key, dashboard, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	dashboard.System = s.metrics.Snapshot()
	return dashboard, false, nil
}

func summarize(summaries []models.SubjectSummary) dto.DashboardTotals {
	totals := dto.DashboardTotals{Subjects: len(summaries)}
	for _, s := range summaries {
		if s.OpenForRegistration {
			totals.OpenSubjects++
		}
		if s.RemainingCapacity == 0 {
			totals.FullSubjects++
		}
		totals.Registrations += s.RegisteredCount
		totals.RemainingSeats += s.RemainingCapacity
	}
	return totals
}
