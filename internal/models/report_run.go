package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReportRun statuses
const (
	ReportRunPending   = "pending"
	ReportRunRunning   = "running"
	ReportRunCompleted = "completed"
	ReportRunFailed    = "failed"
)

// ReportRun is a persisted, generated report bundle.
type ReportRun struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RunID       string `gorm:"uniqueIndex;size:36;not null" json:"run_id"`
	ReportType  string `gorm:"size:20;index;not null" json:"report_type"` // overview, engineer, qa
	PeriodKey   string `gorm:"size:30" json:"period_key"`
	PeriodLabel string `gorm:"size:100" json:"period_label"`
	StartDate   string `gorm:"size:10" json:"start_date"` // empty when the period had no data
	EndDate     string `gorm:"size:10" json:"end_date"`
	Trigger     string `gorm:"column:triggered_by;size:20" json:"trigger"` // manual, weekly, monthly
	Status      string `gorm:"size:20;index;default:pending" json:"status"`

	DegradedSources datatypes.JSON `json:"degraded_sources"`
	NoData          bool           `json:"no_data"`
	Sheets          datatypes.JSON `json:"sheets,omitempty"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message"`

	GeneratedAt *time.Time `json:"generated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ReportRun) TableName() string { return "report_runs" }
