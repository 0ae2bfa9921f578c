package models

import "time"

// QASubmission is a scan from the remote QA/audit database.
type QASubmission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ScannedAt time.Time `gorm:"not null" json:"scanned_at"`
	ScanDate  string    `gorm:"size:10;index:idx_qa_date_stock,priority:1;not null" json:"scan_date"`
	Username  string    `gorm:"size:100;index" json:"username"`
	StockID   string    `gorm:"size:100;index:idx_qa_date_stock,priority:2" json:"stock_id"`
	Kind      string    `gorm:"size:30" json:"kind"` // qa_app, data_bearing, non_data_bearing
	Location  string    `gorm:"size:100" json:"location"`
}

func (QASubmission) TableName() string { return "qa_submissions" }

// QAUser carries the account role used by the manager exclusion policy.
type QAUser struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Role     string `gorm:"size:30;default:technician" json:"role"` // technician, manager
}

func (QAUser) TableName() string { return "qa_users" }
