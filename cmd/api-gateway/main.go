package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-attendance-sync/api/swagger"
	"github.com/noah-isme/sma-attendance-sync/internal/handler"
	"github.com/noah-isme/sma-attendance-sync/internal/middleware"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/repository"
	"github.com/noah-isme/sma-attendance-sync/internal/service"
	"github.com/noah-isme/sma-attendance-sync/pkg/cache"
	"github.com/noah-isme/sma-attendance-sync/pkg/config"
	"github.com/noah-isme/sma-attendance-sync/pkg/database"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

// @title SMA Attendance Sync API
// @version 1.0.0
// @description Attendance reconciliation and idempotent guardian notifications
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Sugar().Fatalw("schema setup failed", "error", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, continuing without cache and delivery claims", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	attendanceRepo := repository.NewAttendanceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	reconciler := service.NewAttendanceReconciler(attendanceRepo, validate, metrics, logr)
	if redisClient != nil {
		reconciler.UseCache(service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Redis.CacheTTL, logr))
	}
	exporter := service.NewAttendanceExportService(reconciler, logr)

	deduper := service.NewNotificationDeduper(notificationRepo, logr, service.WithSchoolTimezone(cfg.Notifications.Timezone))
	notifier := service.NewBulkNotifier(deduper, validate, logr,
		service.WithStaggerStep(cfg.Notifications.StaggerStep),
		service.WithDeliveryClaimer(repository.NewClaimRepository(redisClient, logr), cfg.Notifications.ClaimTTL),
		service.WithNotifierMetrics(metrics),
	)
	notifications := service.NewNotificationService(notifier, service.NewInAppDeliverer(notificationRepo), attendanceRepo, validate, logr)

	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := []handler.ReadinessCheck{{Name: "postgres", Check: db.PingContext}}
	if redisClient != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks...)
	attendanceHandler := handler.NewAttendanceHandler(reconciler, exporter)
	notificationHandler := handler.NewNotificationHandler(notifications)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta(), middleware.JWT(auth))

	writers := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin, models.RoleService)
	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)
	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	attendance := api.Group("/attendance")
	attendance.GET("", staff, attendanceHandler.List)
	attendance.GET("/export", staff, attendanceHandler.Export)
	attendance.POST("/bulk", writers,
		middleware.Audit(auditRepo, logr, models.AuditActionAttendanceBulkUpsert, "attendance"),
		attendanceHandler.UpsertBulk)
	attendance.POST("/override", admins,
		middleware.Audit(auditRepo, logr, models.AuditActionAttendanceOverride, "attendance"),
		attendanceHandler.Override)

	notify := api.Group("/notifications", staff)
	notifyAudit := middleware.Audit(auditRepo, logr, models.AuditActionNotificationBulkSend, "notifications")
	notify.POST("/attendance/bulk", notifyAudit, notificationHandler.AttendanceAlerts)
	notify.POST("/term-summary/bulk", notifyAudit, notificationHandler.TermSummaries)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
