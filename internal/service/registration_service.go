package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/repository"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

const (
	operationRegister   = "register"
	operationUnregister = "unregister"
)

type registrationStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.RegistrationTx) error) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RegistrationServiceConfig tunes how blocked registrations are reported.
type RegistrationServiceConfig struct {
	RejectWhenFull bool
}

// RegistrationService coordinates seat claims. Each call runs as a single
// transaction holding a row lock on the subject, so the capacity counter, the
// open flag and the registration ledger change together or not at all.
type RegistrationService struct {
	store   registrationStore
	audit   auditRecorder
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     RegistrationServiceConfig
}

// NewRegistrationService constructs the coordinator. audit, cache and metrics are optional.
func NewRegistrationService(store registrationStore, audit auditRecorder, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg RegistrationServiceConfig) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{store: store, audit: audit, cache: cache, metrics: metrics, logger: logger, cfg: cfg}
}

// Register claims a seat in subjectID for the caller.
//
// A full or closed subject is left untouched and reported through the outcome
// (or as an error when RejectWhenFull is set). Registering twice is rejected
// with DUPLICATE_REGISTRATION and nothing is decremented.
func (s *RegistrationService) Register(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error) {
	start := time.Now()
	result, err := s.register(ctx, identity, subjectID)
	s.finish(ctx, operationRegister, models.AuditActionRegister, identity, subjectID, result, err, start)
	return result, err
}

// Unregister releases the caller's seat in subjectID. Capacity is returned and
// the subject reopened only when a registration actually existed.
func (s *RegistrationService) Unregister(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error) {
	start := time.Now()
	result, err := s.unregister(ctx, identity, subjectID)
	s.finish(ctx, operationUnregister, models.AuditActionUnregister, identity, subjectID, result, err, start)
	return result, err
}

func (s *RegistrationService) register(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error) {
	if err := checkRegistrationInput(identity, subjectID); err != nil {
		return nil, err
	}

	var result *models.RegistrationResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.RegistrationTx) error {
		result = nil
		subject, err := lockSubject(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		if blocked := blockedOutcome(subject); blocked != "" {
			if s.cfg.RejectWhenFull {
				return rejection(blocked)
			}
			result = &models.RegistrationResult{Outcome: blocked, Subject: *subject}
			return nil
		}

		if err := tx.InsertRegistration(ctx, &models.Registration{UserID: identity.UserID, SubjectID: subject.ID}); err != nil {
			if errors.Is(err, repository.ErrDuplicateRegistration) {
				return appErrors.Clone(appErrors.ErrDuplicateRegistration, "already registered for "+subject.Code)
			}
			return err
		}

		subject.RemainingCapacity--
		if subject.RemainingCapacity == 0 {
			subject.OpenForRegistration = false
		}
		if err := saveSeats(ctx, tx, subject); err != nil {
			return err
		}

		result = &models.RegistrationResult{Outcome: models.OutcomeRegistered, Subject: *subject}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to register for subject")
	}
	return result, nil
}

func (s *RegistrationService) unregister(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error) {
	if err := checkRegistrationInput(identity, subjectID); err != nil {
		return nil, err
	}

	var result *models.RegistrationResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.RegistrationTx) error {
		result = nil
		subject, err := lockSubject(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		deleted, err := tx.DeleteRegistration(ctx, identity.UserID, subject.ID)
		if err != nil {
			return err
		}
		if !deleted {
			result = &models.RegistrationResult{Outcome: models.OutcomeNotRegistered, Subject: *subject}
			return nil
		}

		subject.RemainingCapacity++
		subject.OpenForRegistration = true
		if err := saveSeats(ctx, tx, subject); err != nil {
			return err
		}

		result = &models.RegistrationResult{Outcome: models.OutcomeUnregistered, Subject: *subject}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to unregister from subject")
	}
	return result, nil
}

func (s *RegistrationService) finish(ctx context.Context, operation, action string, identity models.Identity, subjectID string, result *models.RegistrationResult, err error, start time.Time) {
	s.metrics.RecordRegistration(operation, outcomeLabel(result, err), time.Since(start))

	if err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Status >= 500 {
			s.logger.Error("registration transaction failed", zap.String("operation", operation), zap.String("user_id", identity.UserID), zap.String("subject_id", subjectID), zap.Error(err))
		}
		return
	}

	s.logger.Info("registration processed",
		zap.String("operation", operation),
		zap.String("user_id", identity.UserID),
		zap.String("subject_id", subjectID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("remaining_capacity", result.Subject.RemainingCapacity),
	)

	if !result.Outcome.Changed() {
		return
	}
	s.cache.InvalidateSubjects(ctx)

	if s.audit == nil {
		return
	}
	userID := identity.UserID
	payload, _ := json.Marshal(map[string]interface{}{
		"outcome":               result.Outcome,
		"remaining_capacity":    result.Subject.RemainingCapacity,
		"open_for_registration": result.Subject.OpenForRegistration,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "subject",
		ResourceID: &result.Subject.ID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record registration audit log", zap.Error(err))
	}
}

func checkRegistrationInput(identity models.Identity, subjectID string) error {
	if identity.UserID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if _, err := uuid.Parse(subjectID); err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	return nil
}

func lockSubject(ctx context.Context, tx repository.RegistrationTx, subjectID string) (*models.Subject, error) {
	subject, err := tx.LockSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, err
	}
	return subject, nil
}

// blockedOutcome reports why a subject cannot take another registration, or
// "" when it can.
func blockedOutcome(subject *models.Subject) models.RegistrationOutcome {
	switch {
	case subject.AcceptsRegistrations():
		return ""
	case subject.RemainingCapacity <= 0:
		return models.OutcomeSubjectFull
	default:
		return models.OutcomeRegistrationClosed
	}
}

// saveSeats persists the seat counter and gate after checking they still
// agree, so a broken state never commits.
func saveSeats(ctx context.Context, tx repository.RegistrationTx, subject *models.Subject) error {
	if err := subject.CheckInvariant(); err != nil {
		return err
	}
	return tx.UpdateSubjectSeats(ctx, subject.ID, subject.RemainingCapacity, subject.OpenForRegistration)
}

func rejection(outcome models.RegistrationOutcome) error {
	if outcome == models.OutcomeSubjectFull {
		return appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	}
	return appErrors.Clone(appErrors.ErrRegistrationClosed, "")
}

func asAppError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
