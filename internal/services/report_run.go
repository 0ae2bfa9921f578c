package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/config"
	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/period"
	"github.com/huangang/opsboard/internal/report"
	"github.com/huangang/opsboard/pkg/logger"
)

// Report run triggers
const (
	TriggerManual  = "manual"
	TriggerWeekly  = "weekly"
	TriggerMonthly = "monthly"
)

const reportLockName = "report_schedule"

var ErrReportRunNotFound = errors.New("report run not found")

// ReportRunService persists generated reports and schedules the weekly and
// monthly runs.
type ReportRunService struct {
	db       *gorm.DB
	reports  *ReportService
	queue    TaskQueue
	locks    *SchedulerLockService
	schedule config.ScheduleConfig
	activity *SystemLogService

	cronScheduler *cron.Cron
}

func NewReportRunService(db *gorm.DB, reports *ReportService, queue TaskQueue, locks *SchedulerLockService, schedule config.ScheduleConfig) *ReportRunService {
	return &ReportRunService{
		db:       db,
		reports:  reports,
		queue:    queue,
		locks:    locks,
		schedule: schedule,
	}
}

func (s *ReportRunService) SetActivityLog(activity *SystemLogService) {
	s.activity = activity
}

type GenerateReportRequest struct {
	Type    string `json:"type"`
	Period  string `json:"period" form:"period"`
	Trigger string `json:"-"`
}

// Generate pins the period to concrete dates, stores a pending run and
// queues it. Only validation errors and storage failures are returned.
func (s *ReportRunService) Generate(ctx context.Context, req GenerateReportRequest) (*models.ReportRun, error) {
	reportType, err := report.ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	if req.Period == "" {
		req.Period = string(period.Yesterday)
	}
	p, err := s.reports.ResolvePeriodFor(ctx, req.Period, reportType)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	run := &models.ReportRun{
		RunID:       uuid.NewString(),
		ReportType:  string(reportType),
		PeriodKey:   string(p.Key),
		PeriodLabel: p.Label,
		Trigger:     req.Trigger,
		Status:      models.ReportRunPending,
	}
	if !p.IsEmpty() {
		run.StartDate = p.Start.String()
		run.EndDate = p.End.String()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create report run: %w", err)
	}

	if err := s.queue.Enqueue(&ReportTask{RunID: run.RunID}); err != nil {
		s.markFailed(run, fmt.Errorf("enqueue: %w", err))
		return nil, err
	}
	logger.Infof("[ReportRun] Queued %s report %s for %s (%s)", run.ReportType, run.RunID, p, run.Trigger)
	return run, nil
}

// ProcessTask builds and stores the report for a queued run.
func (s *ReportRunService) ProcessTask(ctx context.Context, task *ReportTask) error {
	var run models.ReportRun
	if err := s.db.WithContext(ctx).Where("run_id = ?", task.RunID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrReportRunNotFound, task.RunID)
		}
		return err
	}
	if run.Status == models.ReportRunCompleted {
		return nil
	}

	if err := s.db.Model(&run).Update("status", models.ReportRunRunning).Error; err != nil {
		return err
	}

	p, reportType, err := runPeriod(&run)
	if err != nil {
		s.markFailed(&run, err)
		return err
	}
	r := s.reports.BuildFor(ctx, reportType, p, 0)

	sheets, err := json.Marshal(r.Sheets)
	if err != nil {
		s.markFailed(&run, err)
		return err
	}
	degraded, err := json.Marshal(r.DegradedSources)
	if err != nil {
		s.markFailed(&run, err)
		return err
	}

	generatedAt := r.GeneratedAt
	updates := map[string]interface{}{
		"status":           models.ReportRunCompleted,
		"sheets":           datatypes.JSON(sheets),
		"degraded_sources": datatypes.JSON(degraded),
		"no_data":          r.NoData,
		"error_message":    "",
		"generated_at":     &generatedAt,
	}
	if err := s.db.Model(&run).Updates(updates).Error; err != nil {
		return fmt.Errorf("save report run %s: %w", run.RunID, err)
	}
	logger.Infof("[ReportRun] Completed %s (degraded=%v)", run.RunID, r.DegradedSources)
	s.activity.Info("report_run", "complete",
		fmt.Sprintf("%s report %s for %s", run.ReportType, run.RunID, p),
		map[string]interface{}{"run_id": run.RunID, "trigger": run.Trigger, "degraded_sources": r.DegradedSources})
	return nil
}

func (s *ReportRunService) markFailed(run *models.ReportRun, cause error) {
	err := s.db.Model(run).Updates(map[string]interface{}{
		"status":        models.ReportRunFailed,
		"error_message": cause.Error(),
	}).Error
	if err != nil {
		logger.Errorf("[ReportRun] Failed to mark %s failed: %v", run.RunID, err)
	}
	s.activity.Error("report_run", "fail",
		fmt.Sprintf("%s report %s failed: %v", run.ReportType, run.RunID, cause),
		map[string]interface{}{"run_id": run.RunID, "trigger": run.Trigger})
}

func runPeriod(run *models.ReportRun) (period.Period, report.Type, error) {
	reportType, err := report.ParseType(run.ReportType)
	if err != nil {
		return period.Period{}, "", err
	}
	p := period.Period{Key: period.Key(run.PeriodKey), Label: run.PeriodLabel}
	if run.StartDate == "" {
		return p, reportType, nil
	}
	if p.Start, err = civil.ParseDate(run.StartDate); err != nil {
		return period.Period{}, "", err
	}
	if p.End, err = civil.ParseDate(run.EndDate); err != nil {
		return period.Period{}, "", err
	}
	return p, reportType, nil
}

type ReportRunListRequest struct {
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PageSize   int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	ReportType string `form:"report_type"`
	Status     string `form:"status"`
	Trigger    string `form:"trigger"`
}

type ReportRunListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.ReportRun `json:"items"`
}

// List returns runs newest first, without their sheets.
func (s *ReportRunService) List(req *ReportRunListRequest) (*ReportRunListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.Model(&models.ReportRun{})
	if req.ReportType != "" {
		query = query.Where("report_type = ?", req.ReportType)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Trigger != "" {
		query = query.Where("triggered_by = ?", req.Trigger)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var runs []models.ReportRun
	offset := (req.Page - 1) * req.PageSize
	if err := query.Omit("sheets").Offset(offset).Limit(req.PageSize).Order("id DESC").Find(&runs).Error; err != nil {
		return nil, err
	}

	return &ReportRunListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    runs,
	}, nil
}

func (s *ReportRunService) GetByID(id uint) (*models.ReportRun, error) {
	var run models.ReportRun
	if err := s.db.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (s *ReportRunService) GetByRunID(runID string) (*models.ReportRun, error) {
	var run models.ReportRun
	if err := s.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// StartScheduler registers the weekly and monthly runs. Each firing is
// guarded by a lease keyed on trigger and period so that only one instance
// queues it.
func (s *ReportRunService) StartScheduler() error {
	s.cronScheduler = cron.New()

	jobs := []struct {
		expr    string
		trigger string
		key     period.Key
	}{
		{s.schedule.Weekly, TriggerWeekly, period.LastWeek},
		{s.schedule.Monthly, TriggerMonthly, period.LastMonth},
	}
	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		trigger, key := job.trigger, job.key
		if _, err := s.cronScheduler.AddFunc(job.expr, func() {
			s.runScheduled(context.Background(), trigger, key)
		}); err != nil {
			return fmt.Errorf("%s report cron %q: %w", trigger, job.expr, err)
		}
		logger.Infof("[ReportRun] Scheduled %s reports (cron: %s)", trigger, job.expr)
	}

	s.cronScheduler.Start()
	return nil
}

func (s *ReportRunService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

func (s *ReportRunService) runScheduled(ctx context.Context, trigger string, key period.Key) {
	p, err := s.reports.ResolvePeriod(ctx, string(key))
	if err != nil {
		logger.Errorf("[ReportRun] Resolve %s failed: %v", key, err)
		return
	}
	lockKey := fmt.Sprintf("%s:%s", trigger, p.Start)
	if s.locks != nil {
		ok, err := s.locks.TryAcquire(ctx, reportLockName, lockKey, 24*time.Hour)
		if err != nil || !ok {
			if err != nil {
				logger.Warnf("[ReportRun] Lock %s failed: %v", lockKey, err)
			}
			return
		}
	}

	for _, t := range []report.Type{report.TypeEngineer, report.TypeQA} {
		if _, err := s.Generate(ctx, GenerateReportRequest{Type: string(t), Period: string(key), Trigger: trigger}); err != nil {
			logger.Errorf("[ReportRun] %s %s report failed to queue: %v", trigger, t, err)
		}
	}
}
