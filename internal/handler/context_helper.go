package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/subject-registration-api/internal/middleware"
	"github.com/noah-isme/subject-registration-api/internal/models"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
	"github.com/noah-isme/subject-registration-api/pkg/response"
)

// requireIdentity resolves the caller or writes a 401 and reports false.
func requireIdentity(c *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok || identity.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Identity{}, false
	}
	return identity, true
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
