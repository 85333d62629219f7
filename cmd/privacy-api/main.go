package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/edu-privacy-api/api/swagger"
	"github.com/noah-isme/edu-privacy-api/internal/events"
	"github.com/noah-isme/edu-privacy-api/internal/handler"
	"github.com/noah-isme/edu-privacy-api/internal/middleware"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	"github.com/noah-isme/edu-privacy-api/internal/repository"
	"github.com/noah-isme/edu-privacy-api/internal/service"
	"github.com/noah-isme/edu-privacy-api/pkg/cache"
	"github.com/noah-isme/edu-privacy-api/pkg/config"
	"github.com/noah-isme/edu-privacy-api/pkg/database"
	"github.com/noah-isme/edu-privacy-api/pkg/fieldcrypt"
	"github.com/noah-isme/edu-privacy-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edu-privacy-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edu-privacy-api/pkg/middleware/requestid"
	"github.com/noah-isme/edu-privacy-api/pkg/storage"
)

// @title Edu Privacy API
// @version 1.0.0
// @description GDPR deletion request lifecycle service for the education platform
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The service degrades without Redis: no cache, no logout broadcast.
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}

	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare report storage", "error", err)
	}

	profileRepo := repository.NewProfileRepository(db)
	requestRepo := repository.NewDeletionRequestRepository(db)
	auditRepo := repository.NewDeletionAuditRepository(db)
	dataRepo := repository.NewUserDataRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var publisher events.Publisher = events.NopPublisher{}
	if redisClient != nil {
		publisher = events.NewRedisPublisher(redisClient, cfg.Deletion.EventChannel)
	}

	metricsSvc := service.NewMetricsService()
	cipher := fieldcrypt.New(cfg.Crypto.FieldKey)

	authSvc := service.NewAuthService(profileRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	deletionSvc := service.NewDeletionService(requestRepo, profileRepo, dataRepo, auditRepo, publisher, logr,
		service.DeletionServiceConfig{
			ExecutionTimeout: cfg.Deletion.ExecutionTimeout,
			StatsCacheTTL:    cfg.Deletion.StatsCacheTTL,
			MaxChildCascade:  cfg.Deletion.MaxChildCascade,
		},
		service.WithDeletionCache(cacheRepo),
		service.WithDeletionMetrics(metricsSvc),
		service.WithFieldCipher(cipher),
	)

	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	reportSvc := service.NewReportService(deletionSvc, reportStore, signer, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	deletionHandler := handler.NewDeletionHandler(deletionSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	// Download authenticates by signed token, not by session.
	api.GET("/reports/download", reportHandler.Download)

	authed := api.Group("", middleware.JWT(authSvc))

	authed.POST("/deletion-requests", deletionHandler.Create)
	authed.GET("/deletion-requests/mine", deletionHandler.Mine)
	// Participant access is enforced inside the handler.
	authed.GET("/deletion-requests/:id", deletionHandler.Get)
	authed.POST("/deletion-requests/:id/cancel", deletionHandler.Cancel)
	authed.GET("/users/:id/deletion-impact", deletionHandler.Impact)

	admin := authed.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/deletion-requests", deletionHandler.List)
	admin.GET("/deletion-requests/stats", deletionHandler.Stats)
	admin.GET("/deletion-requests/:id/audit-logs", deletionHandler.AuditLogs)
	admin.POST("/deletion-requests/:id/review", deletionHandler.Review)
	admin.POST("/deletion-requests/:id/report", reportHandler.Export)

	// Execution is deliberately held to a stricter role than review.
	authed.POST("/deletion-requests/:id/execute",
		middleware.RequireRoles(models.RoleSuperAdmin), deletionHandler.Execute)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
