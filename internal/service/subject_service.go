package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/repository"
	"github.com/noah-isme/subject-registration-api/pkg/database"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

const constraintSubjectCode = "subjects_code_key"

type subjectRepository interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	ListAll(ctx context.Context) ([]models.Subject, error)
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
}

type registrationReader interface {
	ListSubjectsByUser(ctx context.Context, userID string) ([]models.Subject, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.RegistrationDetail, error)
}

// SubjectRequest captures the editable fields of a subject.
type SubjectRequest struct {
	Code                string      `json:"code" validate:"required,max=10"`
	Name                string      `json:"name" validate:"required,max=100"`
	Term                models.Term `json:"term" validate:"required,oneof=FIRST_SEMESTER SECOND_SEMESTER SUMMER_SEMESTER"`
	AcademicYear        string      `json:"academic_year" validate:"required,max=9"`
	RemainingCapacity   int         `json:"remaining_capacity" validate:"min=0"`
	OpenForRegistration *bool       `json:"open_for_registration"`
}

// SubjectService handles catalog reads and administrative edits.
type SubjectService struct {
	repo          subjectRepository
	registrations registrationReader
	store         registrationStore
	cache         *CacheService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewSubjectService creates a new subject service. Seat edits go through
// store so they serialise with registrations on the subject row lock.
func NewSubjectService(repo subjectRepository, registrations registrationReader, store registrationStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{repo: repo, registrations: registrations, store: store, cache: cache, validator: validate, logger: logger}
}

// Catalog returns every subject, each flagged with whether the caller holds a seat in it.
func (s *SubjectService) Catalog(ctx context.Context, identity models.Identity) ([]models.SubjectListing, error) {
	key, cacheable := s.cache.SubjectsKey(ctx, cacheKeyCatalog)

	var subjects []models.Subject
	hit := false
	if cacheable {
		hit, _ = s.cache.Get(ctx, key, &subjects)
	}
	if !hit {
		var err error
		subjects, err = s.repo.ListAll(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
		}
		if cacheable {
			_ = s.cache.Set(ctx, key, subjects, 0)
		}
	}

	mine, err := s.registrations.ListSubjectsByUser(ctx, identity.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	registered := make(map[string]struct{}, len(mine))
	for _, subject := range mine {
		registered[subject.ID] = struct{}{}
	}

	listings := make([]models.SubjectListing, 0, len(subjects))
	for _, subject := range subjects {
		_, ok := registered[subject.ID]
		listings = append(listings, models.SubjectListing{Subject: subject, Registered: ok})
	}
	return listings, nil
}

// MyRegistrations returns the subjects the caller is registered in.
func (s *SubjectService) MyRegistrations(ctx context.Context, identity models.Identity) ([]models.Subject, error) {
	subjects, err := s.registrations.ListSubjectsByUser(ctx, identity.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	if subjects == nil {
		subjects = []models.Subject{}
	}
	return subjects, nil
}

// List returns paginated subjects for administrators.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	if filter.Term != "" && !filter.Term.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown term "+string(filter.Term))
	}
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return subjects, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns subject by identifier.
func (s *SubjectService) Get(ctx context.Context, id string) (*models.Subject, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// Roster lists the registrations of a subject.
func (s *SubjectService) Roster(ctx context.Context, id string) (*models.Subject, []models.RegistrationDetail, error) {
	subject, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	roster, err := s.registrations.ListBySubject(ctx, subject.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if roster == nil {
		roster = []models.RegistrationDetail{}
	}
	return subject, roster, nil
}

// Create adds a new subject ensuring code uniqueness. A subject created
// without seats is always closed.
func (s *SubjectService) Create(ctx context.Context, req SubjectRequest) (*models.Subject, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	if err := s.ensureCodeAvailable(ctx, req.Code, ""); err != nil {
		return nil, err
	}

	subject := &models.Subject{OpenForRegistration: true}
	applySubjectRequest(subject, req)

	if err := s.repo.Create(ctx, subject); err != nil {
		if database.IsUniqueViolation(err, constraintSubjectCode) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	s.cache.InvalidateSubjects(ctx)
	s.logger.Info("subject created", zap.String("subject_id", subject.ID), zap.String("code", subject.Code))
	return subject, nil
}

// Update modifies an existing subject. The row is locked for the whole edit,
// so an omitted open_for_registration keeps the flag as last committed by a
// registration rather than as read before the lock.
func (s *SubjectService) Update(ctx context.Context, id string, req SubjectRequest) (*models.Subject, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}

	if err := s.ensureCodeAvailable(ctx, req.Code, id); err != nil {
		return nil, err
	}

	var updated *models.Subject
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.RegistrationTx) error {
		updated = nil
		subject, err := lockSubject(ctx, tx, id)
		if err != nil {
			return err
		}

		applySubjectRequest(subject, req)
		if err := subject.CheckInvariant(); err != nil {
			return err
		}
		if err := tx.UpdateSubject(ctx, subject); err != nil {
			return err
		}
		updated = subject
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		if database.IsUniqueViolation(err, constraintSubjectCode) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
		}
		return nil, asAppError(err, "failed to update subject")
	}
	s.cache.InvalidateSubjects(ctx)
	s.logger.Info("subject updated", zap.String("subject_id", updated.ID), zap.String("code", updated.Code))
	return updated, nil
}

func (s *SubjectService) validate(req *SubjectRequest) error {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.AcademicYear = strings.TrimSpace(req.AcademicYear)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	return nil
}

func (s *SubjectService) ensureCodeAvailable(ctx context.Context, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, code, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
	}
	return nil
}

func applySubjectRequest(subject *models.Subject, req SubjectRequest) {
	subject.Code = req.Code
	subject.Name = req.Name
	subject.Term = req.Term
	subject.AcademicYear = req.AcademicYear
	subject.RemainingCapacity = req.RemainingCapacity
	if req.OpenForRegistration != nil {
		subject.OpenForRegistration = *req.OpenForRegistration
	}
	subject.Normalize()
}
