package models

import "time"

// DailyStat is one snapshot row: the countable total for an entity and
// category on a historical day. Rows for the current day are never written.
type DailyStat struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Source     string     `gorm:"size:20;uniqueIndex:idx_daily_stat_key,priority:1;not null" json:"source"`
	Date       string     `gorm:"size:10;uniqueIndex:idx_daily_stat_key,priority:2;not null" json:"date"`
	EntityID   string     `gorm:"size:100;uniqueIndex:idx_daily_stat_key,priority:3" json:"entity_id"`
	Category   string     `gorm:"size:50;uniqueIndex:idx_daily_stat_key,priority:4" json:"category"`
	Count      int        `gorm:"not null;default:0" json:"count"`
	Failed     int        `gorm:"not null;default:0" json:"failed"`
	LastActive *time.Time `json:"last_active"`
	SyncedAt   time.Time  `gorm:"index" json:"synced_at"`
}

func (DailyStat) TableName() string { return "daily_stats" }
