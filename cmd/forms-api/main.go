package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/fieldops/forms-api/api/swagger"
	"github.com/fieldops/forms-api/internal/handler"
	"github.com/fieldops/forms-api/internal/middleware"
	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/repository"
	"github.com/fieldops/forms-api/internal/service"
	"github.com/fieldops/forms-api/pkg/cache"
	"github.com/fieldops/forms-api/pkg/config"
	"github.com/fieldops/forms-api/pkg/database"
	"github.com/fieldops/forms-api/pkg/jobs"
	"github.com/fieldops/forms-api/pkg/logger"
	corsmiddleware "github.com/fieldops/forms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/fieldops/forms-api/pkg/middleware/requestid"
	"github.com/fieldops/forms-api/pkg/storage"
)

// @title FieldOps Forms API
// @version 1.0.0
// @description Maintenance forms, executions and async exports
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close()

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir, cfg.APIPrefix+"/exports/files")
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	attachmentStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir, cfg.APIPrefix+"/attachments/files")
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}
	mediaStore, err := storage.NewLocalStorage(filepath.Join(cfg.Attachments.StorageDir, "media"), cfg.Media.BaseURL)
	if err != nil {
		logr.Sugar().Fatalw("failed to init media storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	formRepo := repository.NewFormRepository(db)
	executionRepo := repository.NewExecutionRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	instructionRepo := repository.NewInstructionRepository(db)
	exportRepo := repository.NewExportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.VersionTTL, logr, cfg.Cache.Enabled)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "forms-api",
	})
	userSvc := service.NewUserService(userRepo, nil, logr)
	// Instructions go first so version reads and execution snapshots list
	// them with resolved media URLs.
	instructionSvc := service.NewInstructionService(instructionRepo, formRepo, mediaStore, nil, logr)
	formSvc := service.NewFormService(formRepo, instructionSvc, userRepo, cacheSvc, metricsSvc, nil, logr)
	executionSvc := service.NewExecutionService(executionRepo, formRepo, responseRepo, metricsSvc, nil, logr)
	responseSvc := service.NewResponseService(responseRepo, executionRepo, formRepo, instructionSvc, attachmentRepo, nil, logr)
	attachmentSvc := service.NewAttachmentService(attachmentRepo, responseRepo, executionRepo, attachmentStore, logr, service.AttachmentServiceConfig{
		MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
	})

	generator := service.NewExportGenerator(executionRepo, responseRepo, formRepo, exportStore, signer, service.ExportGeneratorConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, nil, nil)

	worker := service.NewExportWorker(exportRepo, generator, metricsSvc, cfg.Exports.WorkerRetries, logr)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportSvc := service.NewExportService(exportRepo, queue, generator, logr, service.ExportServiceConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	formHandler := handler.NewFormHandler(formSvc)
	executionHandler := handler.NewExecutionHandler(executionSvc)
	responseHandler := handler.NewResponseHandler(responseSvc)
	attachmentHandler := handler.NewAttachmentHandler(attachmentSvc)
	instructionHandler := handler.NewInstructionHandler(instructionSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/snapshot", metricsHandler.Snapshot)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	// Export downloads are authorized by the signed token itself.
	api.GET("/exports/download/:token", exportHandler.Download)

	protected := api.Group("", middleware.JWT(authSvc))
	{
		users := protected.Group("/users")
		users.GET("", middleware.RBAC("SUPERADMIN", "ADMIN"), userHandler.List)
		users.GET("/:id", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"), userHandler.Get)
		users.POST("", middleware.RBAC("SUPERADMIN", "ADMIN"), userHandler.Create)
		users.PUT("/:id", middleware.RBAC("SUPERADMIN", "ADMIN"), userHandler.Update)
		users.DELETE("/:id", middleware.RBAC("SUPERADMIN", "ADMIN"), userHandler.Delete)

		editors := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleSupervisor)

		forms := protected.Group("/forms")
		forms.GET("", formHandler.List)
		forms.GET("/:id", formHandler.Get)
		forms.POST("", editors, formHandler.Create)
		forms.PUT("/:id", editors, formHandler.Update)
		forms.DELETE("/:id", editors, formHandler.Delete)
		forms.POST("/:id/tasks", editors, formHandler.AddTask)
		forms.POST("/:id/publish", editors, formHandler.Publish)
		forms.GET("/:id/versions", formHandler.ListVersions)
		forms.GET("/:id/versions/active", formHandler.GetActiveVersion)

		tasks := protected.Group("/tasks")
		tasks.PUT("/:taskId", editors, formHandler.UpdateTask)
		tasks.DELETE("/:taskId", editors, formHandler.DeleteTask)
		tasks.POST("/:taskId/instructions", editors, instructionHandler.Create)
		tasks.GET("/:taskId/instructions", instructionHandler.ListByTask)

		instructions := protected.Group("/instructions")
		instructions.PUT("/:id", editors, instructionHandler.Update)
		instructions.DELETE("/:id", editors, instructionHandler.Delete)

		protected.GET("/versions/:versionId", formHandler.GetVersion)

		executions := protected.Group("/executions")
		executions.POST("", executionHandler.Create)
		executions.GET("", executionHandler.List)
		executions.GET("/:id", executionHandler.Get)
		executions.POST("/:id/start", executionHandler.Start)
		executions.POST("/:id/complete", executionHandler.Complete)
		executions.POST("/:id/cancel", executionHandler.Cancel)
		executions.GET("/:id/progress", executionHandler.Progress)
		executions.POST("/:id/responses", responseHandler.Create)
		executions.GET("/:id/responses", responseHandler.ListByExecution)

		responses := protected.Group("/responses")
		responses.GET("/:id", responseHandler.Get)
		responses.POST("/:id/complete", responseHandler.Complete)
		responses.POST("/:id/attachments", attachmentHandler.Upload)
		responses.GET("/:id/attachments", attachmentHandler.List)

		attachments := protected.Group("/attachments")
		attachments.GET("/:id/download", attachmentHandler.Download)
		attachments.DELETE("/:id", attachmentHandler.Delete)

		exports := protected.Group("/exports")
		exports.POST("", editors, middleware.Audit(userRepo, models.AuditActionExportCreate, "export_jobs"), exportHandler.Create)
		exports.GET("/:id", exportHandler.Status)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Exports.Enabled {
		queue.Start(ctx)
		defer queue.Stop()
		exportSvc.RecoverPendingJobs(ctx)
		exportSvc.StartCleanup(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
