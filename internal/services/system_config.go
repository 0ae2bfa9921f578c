package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/huangang/opsboard/internal/models"
	"github.com/huangang/opsboard/internal/sources"
	"gorm.io/gorm"
)

var ErrInvalidTarget = errors.New("invalid target")

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// TargetService serves per-source daily targets. Values stored in
// system_configs win over the config file.
type TargetService struct {
	configs        *SystemConfigService
	defaults       map[string]int
	defaultCountry string
	activity       *SystemLogService
}

func NewTargetService(configs *SystemConfigService, defaults map[string]int, defaultCountry string) *TargetService {
	copied := make(map[string]int, len(defaults))
	for k, v := range defaults {
		copied[k] = v
	}
	return &TargetService{configs: configs, defaults: copied, defaultCountry: defaultCountry}
}

func (s *TargetService) SetActivityLog(activity *SystemLogService) {
	s.activity = activity
}

// DailyTarget returns the per-working-day target for a source, 0 when none
// is configured.
func (s *TargetService) DailyTarget(sourceID string) int {
	raw := s.configs.GetWithDefault(models.TargetConfigKey(sourceID), "")
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 0 {
		return n
	}
	return s.defaults[sourceID]
}

func (s *TargetService) SetDailyTarget(sourceID string, target int) error {
	if err := validateTarget(sourceID, target); err != nil {
		return err
	}
	return s.configs.Set(models.TargetConfigKey(sourceID), strconv.Itoa(target))
}

func validateTarget(sourceID string, target int) error {
	if !knownSource(sourceID) {
		return fmt.Errorf("%w: %q", ErrUnknownSource, sourceID)
	}
	if target < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidTarget, sourceID, target)
	}
	return nil
}

// HolidayCountry is the calendar used to count working days for targets.
func (s *TargetService) HolidayCountry() string {
	return strings.ToUpper(s.configs.GetWithDefault("holiday_country", s.defaultCountry))
}

func (s *TargetService) SetHolidayCountry(code string) error {
	return s.configs.Set("holiday_country", strings.ToUpper(strings.TrimSpace(code)))
}

type TargetsResponse struct {
	Targets        map[string]int `json:"targets"`
	HolidayCountry string         `json:"holiday_country"`
}

func (s *TargetService) Targets() *TargetsResponse {
	resp := &TargetsResponse{
		Targets:        make(map[string]int),
		HolidayCountry: s.HolidayCountry(),
	}
	for _, id := range []string{sources.SourceErasure, sources.SourceQA} {
		resp.Targets[id] = s.DailyTarget(id)
	}
	return resp
}

type UpdateTargetsRequest struct {
	Targets        map[string]int `json:"targets"`
	HolidayCountry *string        `json:"holiday_country"`
}

// Update validates every target before writing any of them.
func (s *TargetService) Update(req *UpdateTargetsRequest) error {
	for id, target := range req.Targets {
		if err := validateTarget(id, target); err != nil {
			return err
		}
	}
	for id, target := range req.Targets {
		if err := s.SetDailyTarget(id, target); err != nil {
			return err
		}
	}
	if req.HolidayCountry != nil {
		if err := s.SetHolidayCountry(*req.HolidayCountry); err != nil {
			return err
		}
	}
	s.activity.Info("system_config", "update_targets", "daily targets updated", req)
	return nil
}

func knownSource(id string) bool {
	return id == sources.SourceErasure || id == sources.SourceQA
}
