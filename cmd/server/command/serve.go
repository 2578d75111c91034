package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/handler"
	"github.com/noah-isme/subject-registration-api/internal/middleware"
	"github.com/noah-isme/subject-registration-api/internal/repository"
	"github.com/noah-isme/subject-registration-api/internal/service"
	"github.com/noah-isme/subject-registration-api/pkg/cache"
	"github.com/noah-isme/subject-registration-api/pkg/config"
	"github.com/noah-isme/subject-registration-api/pkg/database"
	"github.com/noah-isme/subject-registration-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/subject-registration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/subject-registration-api/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API (default)",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logr := rt.cfg, rt.logger

	db, err := rt.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	if !cacheRepo.Enabled() {
		logr.Info("redis disabled, serving without cache")
	}

	metrics := service.NewMetricsService()
	txRunner := database.NewTxRunnerFromConfig(db, cfg.Database)
	txRunner.OnRetry(metrics.RecordTxRetry)

	validate := validator.New()
	subjectRepo := repository.NewSubjectRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db, txRunner)
	userRepo := repository.NewUserRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cacheRepo.Enabled())
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.Auth.SingleSession,
	})
	auditSvc := service.NewAuditService(userRepo, logr, service.AuditServiceConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
	})
	auditSvc.Start(context.Background())
	defer auditSvc.Stop()

	subjectSvc := service.NewSubjectService(subjectRepo, registrationRepo, registrationRepo, cacheSvc, validate, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, auditSvc, cacheSvc, metrics, logr, service.RegistrationServiceConfig{
		RejectWhenFull: cfg.Registration.RejectWhenFull,
	})
	dashboardSvc := service.NewDashboardService(subjectRepo, cacheSvc, metrics, logr, service.DashboardServiceConfig{
		CacheTTL: cfg.Dashboard.CacheTTL,
	})
	exportSvc := service.NewExportService(subjectSvc, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics"))
	r.Use(middleware.WithResponseMeta())

	handler.RegisterRoutes(r, handler.RouteConfig{
		APIPrefix: cfg.APIPrefix,
		Tokens:    authSvc,
		Audit:     auditSvc,
		Logger:    logr,
	}, handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Subjects:      handler.NewSubjectHandler(subjectSvc),
		Registrations: handler.NewRegistrationHandler(registrationSvc),
		AdminSubjects: handler.NewAdminSubjectHandler(subjectSvc, exportSvc),
		Dashboard:     handler.NewDashboardHandler(dashboardSvc),
		Metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"database": db.PingContext,
			"cache":    cacheRepo.Ping,
		}),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
