package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univreg/course-allocation-api/internal/handler"
	internalmiddleware "github.com/univreg/course-allocation-api/internal/middleware"
	"github.com/univreg/course-allocation-api/internal/models"
	"github.com/univreg/course-allocation-api/internal/repository"
	"github.com/univreg/course-allocation-api/internal/seats"
	"github.com/univreg/course-allocation-api/internal/service"
	"github.com/univreg/course-allocation-api/pkg/cache"
	"github.com/univreg/course-allocation-api/pkg/config"
	"github.com/univreg/course-allocation-api/pkg/database"
	"github.com/univreg/course-allocation-api/pkg/logger"
	corsmiddleware "github.com/univreg/course-allocation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/univreg/course-allocation-api/pkg/middleware/requestid"
)

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
		// Projections fall back to the database when Redis is down.
		logr.Sugar().Warnw("redis unavailable, projection caching disabled", "error", err)
		redisClient = nil
	}

	metrics := service.NewMetricsService()
	allocator := seats.NewAllocator()

	courseRepo := repository.NewCourseRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var activities *service.ActivityService
	if cfg.Activity.Enabled {
		activities = service.NewActivityService(activityRepo, service.ActivityServiceConfig{
			Workers:    cfg.Activity.Workers,
			BufferSize: cfg.Activity.BufferSize,
			RecentSize: cfg.Activity.RecentSize,
		}, logr)
		activities.Start(context.Background())
		defer activities.Stop()
	}

	timetables := service.NewTimetableService(allocationRepo, cacheRepo, metrics, logr, cfg.Cache.TimetableTTL, cfg.Cache.RosterTTL)
	conflicts := service.NewConflictDetector(allocationRepo)

	allocationOpts := service.AllocationServiceOptions{
		Projections: timetables,
		Metrics:     metrics,
		AutoConfirm: cfg.Allocations.AutoConfirm,
	}
	if activities != nil {
		allocationOpts.Activities = activities
	}
	allocations := service.NewAllocationService(allocationRepo, courseRepo, conflicts, allocator, nil, logr, allocationOpts)

	var catalog *service.CatalogService
	var dashboard *service.DashboardService
	if activities != nil {
		catalog = service.NewCatalogService(courseRepo, allocationRepo, allocator, activities, nil, logr)
		dashboard = service.NewDashboardService(studentRepo, courseRepo, allocationRepo, activities, logr)
	} else {
		catalog = service.NewCatalogService(courseRepo, allocationRepo, allocator, nil, nil, logr)
		dashboard = service.NewDashboardService(studentRepo, courseRepo, allocationRepo, nil, logr)
	}
	students := service.NewStudentService(studentRepo)
	auth := service.NewAuthService(service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)

	// Capacity enforcement depends on warmed seat state; refuse traffic
	// until the allocator mirrors the database.
	if err := allocations.WarmSeats(context.Background()); err != nil {
		logr.Sugar().Fatalw("failed to warm seat allocator", "error", err)
	}

	courseHandler := handler.NewCourseHandler(catalog, timetables)
	allocationHandler := handler.NewAllocationHandler(allocations)
	studentHandler := handler.NewStudentHandler(students, timetables)
	dashboardHandler := handler.NewDashboardHandler(dashboard)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(auth))

	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)
	anyRole := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleStudent)
	selfOrAdmin := internalmiddleware.RBAC(string(models.RoleAdmin), "SELF")

	courses := api.Group("/courses")
	{
		courses.GET("", anyRole, courseHandler.List)
		courses.GET("/:code", anyRole, courseHandler.Get)
		courses.POST("", adminOnly, courseHandler.Create)
		courses.PUT("/:code", adminOnly, courseHandler.Update)
		courses.DELETE("/:code", adminOnly, courseHandler.Delete)
		courses.POST("/:code/apply", anyRole, allocationHandler.Apply)
		courses.GET("/:code/roster", adminOnly, courseHandler.Roster)
		if cfg.Exports.Enabled {
			courses.GET("/:code/roster/export", adminOnly, courseHandler.ExportRoster)
		}
	}

	allocationRoutes := api.Group("/allocations")
	{
		allocationRoutes.GET("", anyRole, allocationHandler.List)
		allocationRoutes.GET("/:id", anyRole, allocationHandler.Get)
		allocationRoutes.POST("/:id/approve", adminOnly, allocationHandler.Approve)
		allocationRoutes.POST("/:id/reject", adminOnly, allocationHandler.Reject)
		allocationRoutes.POST("/:id/withdraw", anyRole, allocationHandler.Withdraw)
	}

	studentRoutes := api.Group("/students")
	{
		studentRoutes.GET("/:key", selfOrAdmin, studentHandler.Profile)
		studentRoutes.GET("/:key/timetable", selfOrAdmin, studentHandler.Timetable)
		if cfg.Exports.Enabled {
			studentRoutes.GET("/:key/timetable/export", selfOrAdmin, studentHandler.ExportTimetable)
		}
	}

	api.GET("/dashboard/summary", adminOnly, dashboardHandler.Summary)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
