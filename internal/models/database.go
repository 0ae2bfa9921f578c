package models

import (
	"fmt"

	"github.com/huangang/opsboard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to one store and pings it. The caller owns the returned
// handle; there is no package-level connection.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return open(cfg, false)
}

// OpenLazy builds a handle without talking to the server. Connection
// errors surface on the first query instead, so a store that is down at
// boot can still come back later.
func OpenLazy(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return open(cfg, true)
}

func open(cfg config.DatabaseConfig, lazy bool) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		// the version probe would dial the server
		dialector = mysql.New(mysql.Config{DSN: cfg.DSN, SkipInitializeWithVersion: lazy})
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger:               logger.Default.LogMode(level),
		DisableAutomaticPing: lazy,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates the tables owned by the local store: the erasure log,
// snapshots, report runs, locks, runtime config and the activity log.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ErasureRecord{},
		&DailyStat{},
		&ReportRun{},
		&SchedulerLock{},
		&SystemConfig{},
		&SystemLog{},
	)
}

// AutoMigrateQA creates the QA tables. Only used when the QA store is a
// local database (development and tests); production points at the
// remote audit database, which is managed elsewhere.
func AutoMigrateQA(db *gorm.DB) error {
	return db.AutoMigrate(
		&QASubmission{},
		&QAUser{},
	)
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData(db *gorm.DB, targets map[string]int) error {
	defaultConfigs := []SystemConfig{
		{Key: "holiday_country", Value: "", Type: "string", Group: "report", Label: "Holiday calendar country code (empty uses config file)"},
		{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "Days to keep activity log entries (0 keeps them forever)"},
	}
	for sourceID, target := range targets {
		defaultConfigs = append(defaultConfigs, SystemConfig{
			Key:   TargetConfigKey(sourceID),
			Value: fmt.Sprintf("%d", target),
			Type:  "int",
			Group: "targets",
			Label: fmt.Sprintf("Daily %s target", sourceID),
		})
	}

	for _, cfg := range defaultConfigs {
		var count int64
		if err := db.Model(&SystemConfig{}).Where(&SystemConfig{Key: cfg.Key}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := db.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

// TargetConfigKey is the system_configs key holding a source's daily target.
func TargetConfigKey(sourceID string) string {
	return "target_daily_" + sourceID
}
