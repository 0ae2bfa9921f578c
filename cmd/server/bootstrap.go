package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/aggregate"
	"github.com/huangang/opsboard/internal/config"
	"github.com/huangang/opsboard/internal/middleware"
	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/services"
	"github.com/huangang/opsboard/internal/sources"
	"github.com/huangang/opsboard/pkg/logger"
)

// appServices holds all initialized services needed by the application.
type appServices struct {
	db           *gorm.DB
	qaDB         *gorm.DB
	reports      *services.ReportService
	snapshotSync *services.SnapshotSyncService
	reportRuns   *services.ReportRunService
	targets      *services.TargetService
	holidays     *services.HolidayService
	systemLogs   *services.SystemLogService
	taskQueue    services.TaskQueue
	worker       *services.Worker
	limiter      *middleware.RateLimiter
}

// bootstrap opens both databases, wires the reporting pipeline and starts
// the schedulers.
func bootstrap(cfg *config.Config) (*appServices, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := models.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := models.SeedDefaultData(db, cfg.Report.Targets); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// The QA store is remote and may be down at startup. It is opened
	// without a ping so each fetch reports it unavailable until it is back.
	qaDB, err := models.OpenLazy(cfg.QADatabase)
	if err != nil {
		logger.Warn().Err(err).Msg("QA database not configured, QA figures will be zero-filled")
		qaDB = nil
	} else if cfg.QADatabase.Driver == "sqlite" {
		if err := models.AutoMigrateQA(qaDB); err != nil {
			logger.Warn().Err(err).Msg("Failed to migrate local QA database")
		}
	}

	erasure := sources.NewGormErasureSource(db)
	var qa sources.QASource
	finders := []period.LatestDateFinder{erasure}
	if qaDB != nil {
		gormQA := sources.NewGormQASource(qaDB, cfg.Report.ExcludedAccounts...)
		qa = gormQA
		finders = append(finders, gormQA)
	}

	resolver := period.NewResolver(cfg.Report.AllTimeDays, loc, finders...)
	store := aggregate.NewGormSnapshotStore(db)
	locks := services.NewSchedulerLockService(db)
	holidays := services.NewHolidayService()
	configs := services.NewSystemConfigService(db)
	systemLogs := services.NewSystemLogService(db, configs)
	if err := systemLogs.StartCleanupScheduler(); err != nil {
		return nil, err
	}
	targets := services.NewTargetService(configs, cfg.Report.Targets, cfg.Report.HolidayCountry)
	targets.SetActivityLog(systemLogs)

	reports := services.NewReportService(services.ReportServiceConfig{
		SourceTimeout:   cfg.Report.SourceTimeout,
		DefaultLimit:    cfg.Report.DefaultLimit,
		DeviceTypes:     cfg.Report.DeviceTypes,
		SnapshotEnabled: cfg.Snapshot.Enabled,
	}, resolver, erasure, qa, store, targets, holidays, services.NewSourceHealth())

	snapshotSync := services.NewSnapshotSyncService(services.SnapshotSyncConfig{
		Cron:         cfg.Snapshot.Cron,
		LookbackDays: cfg.Snapshot.LookbackDays,
		LockTTL:      cfg.Snapshot.LockTTL,
	}, resolver, erasure, qa, store, locks)
	snapshotSync.SetActivityLog(systemLogs)
	if cfg.Snapshot.Enabled {
		if err := snapshotSync.StartScheduler(); err != nil {
			return nil, err
		}
		go func() {
			if _, err := snapshotSync.SyncRecent(context.Background()); err != nil {
				logger.Warnf("[SnapshotSync] Startup sync failed: %v", err)
			}
		}()
	}

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.NewTaskQueue(&cfg.Redis)
	reportRuns := services.NewReportRunService(db, reports, taskQueue, locks, cfg.Schedule)
	reportRuns.SetActivityLog(systemLogs)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(reportRuns.ProcessTask)
	}

	// Start async worker only when the queue really is Redis-backed
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(reportRuns.ProcessTask)
			if err := worker.Start(); err != nil {
				return nil, err
			}
		}
	}

	if err := reportRuns.StartScheduler(); err != nil {
		return nil, err
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	return &appServices{
		db:           db,
		qaDB:         qaDB,
		reports:      reports,
		snapshotSync: snapshotSync,
		reportRuns:   reportRuns,
		targets:      targets,
		holidays:     holidays,
		systemLogs:   systemLogs,
		taskQueue:    taskQueue,
		worker:       worker,
		limiter:      limiter,
	}, nil
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.snapshotSync.StopScheduler()
	s.reportRuns.StopScheduler()
	s.systemLogs.StopCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	for _, db := range []*gorm.DB{s.qaDB, s.db} {
		if db == nil {
			continue
		}
		if err := models.Close(db); err != nil {
			logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
