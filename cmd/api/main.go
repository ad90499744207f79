package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/progress89/evaluation-api/api/swagger"
	"github.com/progress89/evaluation-api/internal/handler"
	"github.com/progress89/evaluation-api/internal/middleware"
	"github.com/progress89/evaluation-api/internal/models"
	"github.com/progress89/evaluation-api/internal/repository"
	"github.com/progress89/evaluation-api/internal/service"
	"github.com/progress89/evaluation-api/pkg/cache"
	"github.com/progress89/evaluation-api/pkg/config"
	"github.com/progress89/evaluation-api/pkg/database"
	"github.com/progress89/evaluation-api/pkg/export"
	"github.com/progress89/evaluation-api/pkg/logger"
	corsmiddleware "github.com/progress89/evaluation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/progress89/evaluation-api/pkg/middleware/requestid"
)

// @title 89 Progress API
// @version 1.0.0
// @description Evaluation and grading backend for schools
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Reports fall back to direct queries when the cache is down.
		logr.Warn("redis unavailable, report caching disabled", zap.Error(err))
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	scaleRepo := repository.NewScaleRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Reports.CacheTTL, logr, cfg.Reports.CacheEnabled)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		Audience:           []string{cfg.JWT.Issuer},
		SingleSession:      cfg.JWT.SingleSession,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	scaleSvc := service.NewScaleService(scaleRepo, validate, logr)
	reportSvc := service.NewReportService(evalRepo, scaleRepo, userRepo, cacheSvc, export.NewPDFExporter(), cfg.Reports.CacheTTL, logr)
	evalSvc := service.NewEvaluationService(evalRepo, scaleRepo, userRepo, reportSvc, metricsSvc, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	scaleHandler := handler.NewScaleHandler(scaleSvc)
	evalHandler := handler.NewEvaluationHandler(evalSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

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
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		session := auth.Group("", middleware.JWT(authSvc))
		session.POST("/logout", authHandler.Logout)
		session.POST("/change-password", authHandler.ChangePassword)
		session.GET("/me", authHandler.Me)
	}

	authed := api.Group("", middleware.JWT(authSvc))

	users := authed.Group("/users")
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.GET("/:id", middleware.RBAC("ADMIN", "SELF"), userHandler.Get)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	scales := authed.Group("/scales")
	{
		scales.GET("", scaleHandler.List)
		scales.GET("/:id", scaleHandler.Get)

		write := scales.Group("", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
		write.POST("", middleware.Audit(userRepo, models.AuditActionScaleCreate, "scales"), scaleHandler.Create)
		write.PUT("/:id", middleware.Audit(userRepo, models.AuditActionScaleUpdate, "scales"), scaleHandler.Update)
		write.DELETE("/:id", middleware.Audit(userRepo, models.AuditActionScaleDelete, "scales"), scaleHandler.Delete)
		write.DELETE("/:id/criteria/:criterionId", middleware.Audit(userRepo, models.AuditActionCriterionDelete, "scales"), scaleHandler.DeleteCriterion)
	}

	evaluations := authed.Group("/evaluations")
	{
		evaluations.GET("", evalHandler.List)
		evaluations.GET("/:id", evalHandler.Get)
		evaluations.GET("/:id/grades", evalHandler.ListGrades)
		evaluations.GET("/:id/comments", evalHandler.ListComments)
		evaluations.GET("/:id/report.pdf", reportHandler.ExportEvaluationPDF)

		write := evaluations.Group("", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
		write.POST("", evalHandler.Create)
		write.PUT("/:id", evalHandler.Update)
		write.POST("/:id/grades", evalHandler.AddGrade)
		write.PUT("/:id/grades", evalHandler.SaveGrades)
		write.PATCH("/:id/status", evalHandler.Transition)
		write.POST("/:id/comments", evalHandler.AddComment)
	}

	reports := authed.Group("/reports")
	{
		reports.GET("/students/:id", reportHandler.StudentPerformance)
		reports.GET("/teachers/:id", reportHandler.TeacherDashboard)
		reports.GET("/overview", middleware.RequireRoles(models.RoleAdmin), reportHandler.AdminOverview)
		reports.GET("/system", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
