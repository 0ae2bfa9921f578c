package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	QADatabase DatabaseConfig `yaml:"qa_database"`
	Redis      RedisConfig    `yaml:"redis"`
	Report     ReportConfig   `yaml:"report"`
	Snapshot   SnapshotConfig `yaml:"snapshot"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Log        LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// RateLimit is requests per second per client IP on /api; 0 disables it.
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
	// LogSQL turns on gorm statement logging.
	LogSQL bool `yaml:"log_sql"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ReportConfig struct {
	Timezone       string        `yaml:"timezone"`
	AllTimeDays    int           `yaml:"all_time_days"`
	SourceTimeout  time.Duration `yaml:"source_timeout"`
	DefaultLimit   int           `yaml:"default_limit"`
	HolidayCountry string        `yaml:"holiday_country"`
	// Targets are per-source daily totals keyed by source id (erasure, qa).
	Targets          map[string]int `yaml:"targets"`
	DeviceTypes      []string       `yaml:"device_types"`
	ExcludedAccounts []string       `yaml:"excluded_accounts"`
}

type SnapshotConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Cron         string        `yaml:"cron"`
	LookbackDays int           `yaml:"lookback_days"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// ScheduleConfig holds cron expressions for persisted report runs. An empty
// expression disables that run.
type ScheduleConfig struct {
	Weekly  string `yaml:"weekly"`
	Monthly string `yaml:"monthly"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			RateLimit: 20,
			RateBurst: 40,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "opsboard.db",
		},
		QADatabase: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "opsboard_qa.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Report: ReportConfig{
			Timezone:       "Local",
			AllTimeDays:    30,
			SourceTimeout:  10 * time.Second,
			DefaultLimit:   10,
			HolidayCountry: "GB",
			Targets: map[string]int{
				"erasure": 500,
				"qa":      400,
			},
			DeviceTypes: []string{"laptops_desktops", "servers", "macs", "mobiles"},
		},
		Snapshot: SnapshotConfig{
			Enabled:      true,
			Cron:         "15 * * * *",
			LookbackDays: 7,
			LockTTL:      10 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Weekly:  "0 7 * * 1",
			Monthly: "0 7 1 * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if c.Report.AllTimeDays <= 0 {
		return fmt.Errorf("report.all_time_days must be positive, got %d", c.Report.AllTimeDays)
	}
	if c.Report.SourceTimeout <= 0 {
		return fmt.Errorf("report.source_timeout must be positive, got %s", c.Report.SourceTimeout)
	}
	if c.Snapshot.LookbackDays < 0 {
		return fmt.Errorf("snapshot.lookback_days must not be negative, got %d", c.Snapshot.LookbackDays)
	}
	return nil
}

// Location resolves report.timezone; empty or "Local" means the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Report.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Target returns the configured daily target for a source, 0 when unset.
func (c *Config) Target(sourceID string) int {
	return c.Report.Targets[sourceID]
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if driver := os.Getenv("QA_DB_DRIVER"); driver != "" {
		c.QADatabase.Driver = driver
	}
	if dsn := os.Getenv("QA_DB_DSN"); dsn != "" {
		c.QADatabase.DSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if tz := os.Getenv("REPORT_TIMEZONE"); tz != "" {
		c.Report.Timezone = tz
	}
	if v := os.Getenv("REPORT_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Report.SourceTimeout = d
		}
	}
	if v := os.Getenv("SNAPSHOT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Snapshot.Enabled = b
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
