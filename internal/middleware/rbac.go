package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/subject-registration-api/internal/models"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
	"github.com/noah-isme/subject-registration-api/pkg/response"
)

// Capability decides whether an identity may access a route.
type Capability func(identity models.Identity) bool

// RequireCapability aborts with 403 unless the caller satisfies allowed.
// It must run after JWT.
func RequireCapability(allowed Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !allowed(identity) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAdmin restricts a route to administrators.
func RequireAdmin() gin.HandlerFunc {
	return RequireCapability(models.Identity.IsAdmin)
}
