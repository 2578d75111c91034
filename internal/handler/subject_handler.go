package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/subject-registration-api/internal/middleware"
	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/service"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
	"github.com/noah-isme/subject-registration-api/pkg/response"
)

type subjectService interface {
	Catalog(ctx context.Context, identity models.Identity) ([]models.SubjectListing, error)
	MyRegistrations(ctx context.Context, identity models.Identity) ([]models.Subject, error)
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Subject, error)
	Roster(ctx context.Context, id string) (*models.Subject, []models.RegistrationDetail, error)
	Create(ctx context.Context, req service.SubjectRequest) (*models.Subject, error)
	Update(ctx context.Context, id string, req service.SubjectRequest) (*models.Subject, error)
}

// SubjectHandler exposes the subject catalog to authenticated users.
type SubjectHandler struct {
	service subjectService
}

// NewSubjectHandler constructs a subject handler.
func NewSubjectHandler(svc subjectService) *SubjectHandler {
	return &SubjectHandler{service: svc}
}

// Catalog godoc
// @Summary List subjects
// @Description Returns every subject flagged with whether the caller is registered
// @Tags Subjects
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /subjects [get]
func (h *SubjectHandler) Catalog(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	subjects, err := h.service.Catalog(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subjects, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get subject
// @Tags Subjects
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id} [get]
func (h *SubjectHandler) Get(c *gin.Context) {
	subject, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subject)
}

// MyRegistrations godoc
// @Summary List my registrations
// @Description Subjects the caller is registered for
// @Tags Subjects
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me/registrations [get]
func (h *SubjectHandler) MyRegistrations(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	subjects, err := h.service.MyRegistrations(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subjects)
}

func parseSubjectFilter(c *gin.Context) (models.SubjectFilter, error) {
	filter := models.SubjectFilter{
		Term:         models.Term(strings.ToUpper(strings.TrimSpace(c.Query("term")))),
		AcademicYear: strings.TrimSpace(c.Query("academic_year")),
		Search:       strings.TrimSpace(c.Query("search")),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}

	if raw := c.Query("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "open must be a boolean")
		}
		filter.Open = &open
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "page must be a positive integer")
		}
		filter.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "page_size must be a positive integer")
		}
		filter.PageSize = size
	}
	return filter, nil
}
