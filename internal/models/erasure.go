package models

import "time"

// ErasureRecord is one row of the local append-only erasure log written by
// the wipe stations. Date is the station's local calendar date.
type ErasureRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Ts          time.Time `gorm:"column:ts;not null" json:"ts"`
	Date        string    `gorm:"size:10;index:idx_erasures_date_job,priority:1;not null" json:"date"`
	Initials    string    `gorm:"size:20;index" json:"initials"`
	DeviceType  string    `gorm:"size:50" json:"device_type"`
	Event       string    `gorm:"size:20" json:"event"` // success, failure
	DurationSec *int      `json:"duration_sec"`
	ErrorType   string    `gorm:"size:100" json:"error_type"`
	JobID       string    `gorm:"size:100;index:idx_erasures_date_job,priority:2" json:"job_id"`
}

func (ErasureRecord) TableName() string { return "erasures" }
