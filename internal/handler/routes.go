package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/middleware"
	"github.com/noah-isme/subject-registration-api/internal/models"
)

// Handlers groups every HTTP handler served by the API.
type Handlers struct {
	Auth          *AuthHandler
	Subjects      *SubjectHandler
	Registrations *RegistrationHandler
	AdminSubjects *AdminSubjectHandler
	Dashboard     *DashboardHandler
	Metrics       *MetricsHandler
}

// RouteConfig carries the cross-cutting dependencies of the route table.
type RouteConfig struct {
	APIPrefix string
	Tokens    middleware.TokenValidator
	Audit     middleware.AuditRecorder
	Logger    *zap.Logger
}

// RegisterRoutes mounts the ops endpoints at the root and the API under the
// configured prefix.
func RegisterRoutes(r *gin.Engine, cfg RouteConfig, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/admin/login", h.Auth.AdminLogin)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", middleware.JWT(cfg.Tokens), h.Auth.Logout)

	secured := api.Group("")
	secured.Use(middleware.JWT(cfg.Tokens))
	secured.GET("/subjects", h.Subjects.Catalog)
	secured.GET("/subjects/:id", h.Subjects.Get)
	secured.POST("/subjects/:id/register", h.Registrations.Register)
	secured.POST("/subjects/:id/unregister", h.Registrations.Unregister)
	secured.GET("/me/registrations", h.Subjects.MyRegistrations)

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(cfg.Tokens), middleware.RequireAdmin())
	admin.GET("/dashboard", h.Dashboard.Admin)
	admin.GET("/subjects", h.AdminSubjects.List)
	admin.POST("/subjects", middleware.Audit(cfg.Audit, cfg.Logger, models.AuditActionSubjectCreate, "subject"), h.AdminSubjects.Create)
	admin.PUT("/subjects/:id", middleware.Audit(cfg.Audit, cfg.Logger, models.AuditActionSubjectUpdate, "subject"), h.AdminSubjects.Update)
	admin.GET("/subjects/:id/registrations", h.AdminSubjects.Roster)
	admin.GET("/subjects/:id/registrations/export", h.AdminSubjects.Export)
}
