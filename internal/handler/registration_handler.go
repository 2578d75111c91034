package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/pkg/response"
)

type registrationService interface {
	Register(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error)
	Unregister(ctx context.Context, identity models.Identity, subjectID string) (*models.RegistrationResult, error)
}

// RegistrationHandler exposes seat registration for the calling user.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler constructs a registration handler.
func NewRegistrationHandler(svc registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: svc}
}

// Register godoc
// @Summary Register for subject
// @Description Takes one seat. A full or closed subject is reported through the outcome field and leaves capacity untouched.
// @Tags Registrations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subjects/{id}/register [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	h.handle(c, h.service.Register)
}

// Unregister godoc
// @Summary Unregister from subject
// @Description Releases the caller's seat and reopens the subject. Unregistering without a registration is a no-op.
// @Tags Registrations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id}/unregister [post]
func (h *RegistrationHandler) Unregister(c *gin.Context) {
	h.handle(c, h.service.Unregister)
}

func (h *RegistrationHandler) handle(c *gin.Context, fn func(context.Context, models.Identity, string) (*models.RegistrationResult, error)) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result, map[string]interface{}{"changed": result.Outcome.Changed()})
}
