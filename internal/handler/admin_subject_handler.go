package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/subject-registration-api/internal/middleware"
	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/service"
	"github.com/noah-isme/subject-registration-api/pkg/response"
)

type exportService interface {
	Roster(ctx context.Context, subjectID string, format service.ExportFormat) (*service.ExportFile, error)
}

type rosterView struct {
	Subject       *models.Subject             `json:"subject"`
	Registrations []models.RegistrationDetail `json:"registrations"`
}

// AdminSubjectHandler manages subjects on behalf of administrators.
type AdminSubjectHandler struct {
	subjects subjectService
	exports  exportService
}

// NewAdminSubjectHandler constructs the handler.
func NewAdminSubjectHandler(subjects subjectService, exports exportService) *AdminSubjectHandler {
	return &AdminSubjectHandler{subjects: subjects, exports: exports}
}

// List godoc
// @Summary Search subjects
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param term query string false "FIRST_SEMESTER, SECOND_SEMESTER or SUMMER_SEMESTER"
// @Param academic_year query string false "Academic year, e.g. 2024/2025"
// @Param open query bool false "Open for registration"
// @Param search query string false "Matches code or name"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "code, name, academic_year, remaining_capacity, created_at or updated_at"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/subjects [get]
func (h *AdminSubjectHandler) List(c *gin.Context) {
	filter, err := parseSubjectFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	subjects, pagination, err := h.subjects.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, pagination)
}

// Create godoc
// @Summary Create subject
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SubjectRequest true "Subject payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/subjects [post]
func (h *AdminSubjectHandler) Create(c *gin.Context) {
	var req service.SubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, validationError(err, "invalid subject payload"))
		return
	}
	subject, err := h.subjects.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.AuditResourceIDKey, subject.ID)
	response.Created(c, subject)
}

// Update godoc
// @Summary Update subject
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Param payload body service.SubjectRequest true "Subject payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/subjects/{id} [put]
func (h *AdminSubjectHandler) Update(c *gin.Context) {
	var req service.SubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, validationError(err, "invalid subject payload"))
		return
	}
	subject, err := h.subjects.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subject)
}

// Roster godoc
// @Summary Subject roster
// @Description Users registered for the subject
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/subjects/{id}/registrations [get]
func (h *AdminSubjectHandler) Roster(c *gin.Context) {
	subject, registrations, err := h.subjects.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rosterView{Subject: subject, Registrations: registrations})
}

// Export godoc
// @Summary Export subject roster
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/subjects/{id}/registrations/export [get]
func (h *AdminSubjectHandler) Export(c *gin.Context) {
	file, err := h.exports.Roster(c.Request.Context(), c.Param("id"), service.ExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
