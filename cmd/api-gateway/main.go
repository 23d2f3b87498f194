package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/rentora-dev/rentora-api/api/swagger"
	"github.com/rentora-dev/rentora-api/internal/handler"
	"github.com/rentora-dev/rentora-api/internal/middleware"
	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/repository"
	"github.com/rentora-dev/rentora-api/internal/service"
	"github.com/rentora-dev/rentora-api/pkg/cache"
	"github.com/rentora-dev/rentora-api/pkg/config"
	"github.com/rentora-dev/rentora-api/pkg/database"
	"github.com/rentora-dev/rentora-api/pkg/jobs"
	"github.com/rentora-dev/rentora-api/pkg/logger"
	corsmiddleware "github.com/rentora-dev/rentora-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rentora-dev/rentora-api/pkg/middleware/requestid"
	"github.com/rentora-dev/rentora-api/pkg/storage"
)

// @title Rentora API
// @version 1.0.0
// @description Agency document verification service for the Rentora marketplace
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	cacheEnabled := err == nil
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	documentStorage, err := storage.NewLocalStorage(cfg.Verification.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Verification.SignedURLSecret, cfg.Verification.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	agencyRepo := repository.NewAgencyRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Verification.CacheTTL, logr, cacheEnabled)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userService := service.NewUserService(userRepo, validate, logr)
	agencyService := service.NewAgencyService(agencyRepo, userRepo, validate, logr)

	requiredTypes := parseRequiredTypes(cfg.Verification.RequiredTypes, logr)
	verificationService := service.NewVerificationService(versionRepo, agencyRepo, cacheService, userRepo, logr, service.VerificationConfig{
		RequiredTypes: requiredTypes,
		CacheTTL:      cfg.Verification.CacheTTL,
	})
	documentService := service.NewDocumentService(documentRepo, versionRepo, documentStorage, signer, verificationService, userRepo, logr, service.DocumentServiceConfig{
		MaxFileSize:   cfg.Verification.MaxFileSizeBytes,
		AllowedMIMEs:  cfg.Verification.AllowedMIMEs,
		APIPrefix:     cfg.APIPrefix,
		AppendRetries: cfg.Verification.AppendRetries,
	})
	reviewService := service.NewReviewService(versionRepo, documentRepo, verificationService, userRepo, logr)
	exportService := service.NewExportService(verificationService, documentStorage, signer, userRepo, logr, service.ExportConfig{
		Enabled:   cfg.Exports.Enabled,
		APIPrefix: cfg.APIPrefix,
	})
	sweepService := service.NewSweepService(documentStorage, versionRepo, logr, service.SweepConfig{
		MinAge: cfg.Verification.SweepMinAge,
	})

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	agencyHandler := handler.NewAgencyHandler(agencyService)
	documentHandler := handler.NewDocumentHandler(documentService)
	reviewHandler := handler.NewReviewHandler(reviewService)
	verificationHandler := handler.NewVerificationHandler(verificationService, exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))

	documents := authed.Group("/documents")
	{
		documents.POST("", middleware.RequireRoles(models.RoleAgency, models.RoleAdmin), documentHandler.Upload)
		documents.GET("", middleware.RequireRoles(models.RoleAgency), documentHandler.ListMine)
		documents.GET("/history", middleware.RequireRoles(models.RoleAgency), documentHandler.History)
		documents.GET("/:id/versions", documentHandler.ListVersions)
		documents.GET("/versions/:id/url", documentHandler.DownloadURL)
		documents.GET("/versions/:id/download", documentHandler.Download)
	}

	authed.GET("/verification", middleware.RequireRoles(models.RoleAgency), verificationHandler.Mine)
	authed.GET("/agencies/:id", agencyHandler.Get)
	authed.GET("/agencies/:id/verification", verificationHandler.Snapshot)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.POST("/users", userHandler.Create)
		admin.PUT("/users/:id", userHandler.Update)
		admin.DELETE("/users/:id", userHandler.Delete)

		admin.POST("/agencies", agencyHandler.Create)
		admin.GET("/agencies", agencyHandler.List)
		admin.GET("/agencies/:id/documents", documentHandler.AgencyDocuments)
		admin.POST("/agencies/:id/verification/recompute", verificationHandler.Recompute)

		admin.GET("/documents", documentHandler.AdminList)
		admin.PATCH("/documents/versions/:id/decision", reviewHandler.Decide)

		admin.GET("/verification/overview",
			middleware.Audit(userRepo, models.AuditActionVerificationView, "verification"),
			verificationHandler.Overview)
		admin.POST("/verification/export", verificationHandler.Export)
	}
	// Export download is token-authenticated, not session-authenticated.
	api.GET("/admin/verification/export/download", verificationHandler.ExportDownload)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepQueue := jobs.NewQueue("document-sweep", func(ctx context.Context, job jobs.Job) error {
		removed, err := sweepService.Run(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logr.Sugar().Infow("orphan sweep finished", "removed", removed)
		}
		return nil
	}, jobs.QueueConfig{Workers: 1, BufferSize: 4, Logger: logr})
	sweepQueue.Start(ctx)
	defer sweepQueue.Stop()

	go func() {
		ticker := time.NewTicker(cfg.Verification.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sweepQueue.Enqueue(jobs.Job{Type: "sweep"}); err != nil {
					logr.Sugar().Warnw("failed to enqueue sweep", "error", err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func parseRequiredTypes(raw []string, logr *zap.Logger) []models.DocumentType {
	types := make([]models.DocumentType, 0, len(raw))
	for _, value := range raw {
		parsed, ok := models.ParseDocumentType(value)
		if !ok {
			logr.Sugar().Warnw("ignoring unknown required document type", "value", value)
			continue
		}
		types = append(types, parsed)
	}
	return types
}
