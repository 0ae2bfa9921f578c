package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/opsboard/internal/config"
	"github.com/huangang/opsboard/internal/handlers"
	"github.com/huangang/opsboard/internal/middleware"
	"github.com/huangang/opsboard/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices, cfg *config.Config) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	healthHandler := handlers.NewHealthHandler(svc.db, svc.qaDB, svc.taskQueue, svc.reports.Health())
	metricsHandler := handlers.NewMetricsHandler(svc.db, svc.taskQueue, svc.reports.Health(), svc.snapshotSync)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", metricsHandler.Metrics)

	api := r.Group("/api")
	if svc.limiter != nil {
		api.Use(svc.limiter.Middleware())
	}
	{
		// Reports
		reportHandler := handlers.NewReportHandler(svc.reports, svc.reportRuns)
		api.GET("/reports", reportHandler.ListTypes)
		api.GET("/reports/:type", reportHandler.Get)
		api.GET("/reports/:type/export", reportHandler.Export)
		api.POST("/reports/:type/generate", reportHandler.Generate)
		api.GET("/periods/resolve", reportHandler.ResolvePeriod)

		// Leaderboards for the floor displays
		leaderboardHandler := handlers.NewLeaderboardHandler(svc.reports)
		api.GET("/leaderboard", leaderboardHandler.Get)

		// Persisted report runs
		reportRunHandler := handlers.NewReportRunHandler(svc.reportRuns)
		api.GET("/report-runs", reportRunHandler.List)
		api.GET("/report-runs/:id", reportRunHandler.Get)

		// Snapshots
		snapshotHandler := handlers.NewSnapshotHandler(svc.snapshotSync, svc.reports)
		api.POST("/snapshots/sync", snapshotHandler.Sync)
		api.GET("/snapshots/status", snapshotHandler.Status)

		// System config
		systemConfigHandler := handlers.NewSystemConfigHandler(svc.targets, svc.holidays)
		api.GET("/system-config/targets", systemConfigHandler.GetTargets)
		api.PUT("/system-config/targets", systemConfigHandler.UpdateTargets)
		api.GET("/system-config/holiday-countries", systemConfigHandler.GetHolidayCountries)

		// Activity log
		systemLogHandler := handlers.NewSystemLogHandler(svc.systemLogs)
		api.GET("/system-logs", systemLogHandler.List)
		api.GET("/system-logs/modules", systemLogHandler.GetModules)
	}
}
