package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/pkg/jobs"
)

const auditWriteTimeout = 5 * time.Second

// AuditServiceConfig sizes the background writer pool.
type AuditServiceConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// AuditService moves audit writes off the request path. Entries are handed to
// a worker pool and persisted with the underlying recorder. When the buffer is
// full the entry is written inline so nothing is dropped.
type AuditService struct {
	sink   auditRecorder
	queue  *jobs.Queue[*models.AuditLog]
	logger *zap.Logger
}

// NewAuditService builds the dispatcher. Call Start before use and Stop on
// shutdown to flush buffered entries.
func NewAuditService(sink auditRecorder, logger *zap.Logger, cfg AuditServiceConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{sink: sink, logger: logger}
	s.queue = jobs.NewQueue("audit", s.write, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the writers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop flushes buffered entries and stops the writers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// CreateAuditLog schedules log for persistence.
func (s *AuditService) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log == nil {
		return nil
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.TryEnqueue(log); err != nil {
		s.logger.Debug("audit queue unavailable, writing inline", zap.String("action", log.Action), zap.Error(err))
		return s.sink.CreateAuditLog(ctx, log)
	}
	return nil
}

func (s *AuditService) write(ctx context.Context, job jobs.Job[*models.AuditLog]) error {
	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	return s.sink.CreateAuditLog(ctx, job.Payload)
}
