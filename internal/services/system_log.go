package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/pkg/logger"
)

var ErrInvalidDate = errors.New("invalid date")

const (
	logRetentionKey     = "log_retention_days"
	defaultLogRetention = 30
)

// SystemLogService keeps the activity log shown on the admin page. Writing
// is best effort: a failed insert is logged and never fails the caller.
// A nil *SystemLogService records nothing.
type SystemLogService struct {
	db      *gorm.DB
	configs *SystemConfigService
	now     func() time.Time

	cronScheduler *cron.Cron
}

func NewSystemLogService(db *gorm.DB, configs *SystemConfigService) *SystemLogService {
	return &SystemLogService{db: db, configs: configs, now: time.Now}
}

func (s *SystemLogService) Info(module, action, message string, extra interface{}) {
	s.write(models.LogLevelInfo, module, action, message, extra)
}

func (s *SystemLogService) Warning(module, action, message string, extra interface{}) {
	s.write(models.LogLevelWarning, module, action, message, extra)
}

func (s *SystemLogService) Error(module, action, message string, extra interface{}) {
	s.write(models.LogLevelError, module, action, message, extra)
}

func (s *SystemLogService) write(level, module, action, message string, extra interface{}) {
	if s == nil {
		return
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		CreatedAt: s.now(),
	}
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}
	if err := s.db.Create(entry).Error; err != nil {
		logger.Warnf("[SystemLog] Failed to write %s/%s: %v", module, action, err)
	}
}

type SystemLogListRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

// List returns entries newest first. Dates are inclusive calendar days in
// UTC.
func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.SystemLog{}).Where(&models.SystemLog{Level: req.Level, Module: req.Module})
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.StartDate != "" {
		d, err := civil.ParseDate(req.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date %q", ErrInvalidDate, req.StartDate)
		}
		query = query.Where("created_at >= ?", d.In(time.UTC))
	}
	if req.EndDate != "" {
		d, err := civil.ParseDate(req.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: end_date %q", ErrInvalidDate, req.EndDate)
		}
		query = query.Where("created_at < ?", d.AddDays(1).In(time.UTC))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

func (s *SystemLogService) GetModules() ([]string, error) {
	var modules []string
	if err := s.db.Model(&models.SystemLog{}).Distinct("module").Order("module").Pluck("module", &modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

// RetentionDays reads log_retention_days; 0 keeps entries forever.
func (s *SystemLogService) RetentionDays() int {
	raw := s.configs.GetWithDefault(logRetentionKey, strconv.Itoa(defaultLogRetention))
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return defaultLogRetention
	}
	return days
}

// CleanupOldLogs deletes entries older than the retention window and
// returns how many went.
func (s *SystemLogService) CleanupOldLogs() (int64, error) {
	days := s.RetentionDays()
	if days == 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -days)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// StartCleanupScheduler prunes old entries once at startup and then daily.
func (s *SystemLogService) StartCleanupScheduler() error {
	s.cronScheduler = cron.New()
	if _, err := s.cronScheduler.AddFunc("@daily", s.runCleanup); err != nil {
		return err
	}
	s.cronScheduler.Start()
	go s.runCleanup()
	return nil
}

func (s *SystemLogService) StopCleanupScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

func (s *SystemLogService) runCleanup() {
	deleted, err := s.CleanupOldLogs()
	if err != nil {
		logger.Errorf("[SystemLog] Failed to cleanup old logs: %v", err)
		return
	}
	if deleted > 0 {
		logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, s.RetentionDays())
	}
}
