package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration for the crawl service.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Worker      WorkerConfig    `toml:"worker"`
	Admission   AdmissionConfig `toml:"admission"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Headless    HeadlessConfig  `toml:"headless"`
	Blocking    BlockingConfig  `toml:"blocking"`
	Retention   RetentionConfig `toml:"retention"`
	Logging     LoggingConfig   `toml:"logging"`
	Schedules   SchedulesConfig `toml:"schedules"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger  BadgerConfig `toml:"badger"`
	JobsDir string       `toml:"jobs_dir"` // directory holding per-job working areas (raw log, kb, artifacts)
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// WorkerConfig controls the poll loop, heartbeat, and stuck-job thresholds.
type WorkerConfig struct {
	PollInterval         time.Duration `toml:"poll_interval"`
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	OrphanedThreshold    time.Duration `toml:"orphaned_threshold"`
	StalledThreshold     time.Duration `toml:"stalled_threshold"`
	HardStalledThreshold time.Duration `toml:"hard_stalled_threshold"`
	MaxRestarts          int           `toml:"max_restarts"`
}

// AdmissionConfig controls per-IP rate limiting and job parameter bounds.
type AdmissionConfig struct {
	ConcurrentJobsPerIP int `toml:"concurrent_jobs_per_ip"`
	DefaultMaxPages     int `toml:"default_max_pages"`
	MinPages            int `toml:"min_pages"`
	MaxPages            int `toml:"max_pages"`
	DefaultTimeoutSecs  int `toml:"default_timeout_seconds"`
	MinTimeoutSecs      int `toml:"min_timeout_seconds"`
	MaxTimeoutSecs      int `toml:"max_timeout_seconds"`
	TokenLengthBytes    int `toml:"token_length_bytes"`
}

// CrawlerConfig controls the static (colly) fetcher.
type CrawlerConfig struct {
	UserAgent          string        `toml:"user_agent"`
	ConcurrentRequests int           `toml:"concurrent_requests"`
	DownloadDelay      time.Duration `toml:"download_delay"`
	DepthLimit         int           `toml:"depth_limit"`
	FollowRobotsTxt    bool          `toml:"follow_robots_txt"`
	RequestTimeout     time.Duration `toml:"request_timeout"`
	MinTextLength      int           `toml:"min_text_length_success"`
	MaxOutputBytes     int64         `toml:"max_output_bytes"`
	ThrottleInitial    time.Duration `toml:"throttle_initial_backoff"`
	ThrottleCeiling    time.Duration `toml:"throttle_ceiling"`
	ThrottleFactor     float64       `toml:"throttle_factor"`
	ThrottleRecovery   float64       `toml:"throttle_recovery_factor"`
	BreakerTripAfter   int           `toml:"breaker_trip_after"`
	BreakerOpenFor     time.Duration `toml:"breaker_open_for"`
}

// HeadlessConfig controls the chromedp-driven fetcher.
type HeadlessConfig struct {
	NavigateTimeout time.Duration `toml:"navigate_timeout"`
	SettleDelay     time.Duration `toml:"settle_delay"`
	MaxLinksPerPage int           `toml:"max_links_per_page"`
	PoolSize        int           `toml:"pool_size"` // concurrent Chrome instances shared across jobs
}

// BlockingConfig controls blocking-signal classification thresholds.
type BlockingConfig struct {
	Rate429Threshold       float64 `toml:"rate_429_threshold"`
	Rate403Threshold       float64 `toml:"rate_403_threshold"`
	DuplicateHashThreshold float64 `toml:"duplicate_hash_threshold"`
}

// RetentionConfig controls job expiry.
type RetentionConfig struct {
	JobExpiryHours int           `toml:"job_expiry_hours"`
	SweepInterval  time.Duration `toml:"sweep_interval"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// SchedulesConfig holds optional cron-validated periodic task schedules.
type SchedulesConfig struct {
	ExpirySweep string `toml:"expiry_sweep"` // cron expression, validated via ValidateJobSchedule
}

// NewDefaultConfig creates a configuration with the service's production defaults.
// These mirror the original Python reference implementation's settings module.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/db",
			},
			JobsDir: "./data/jobs",
		},
		Worker: WorkerConfig{
			PollInterval:         2 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			OrphanedThreshold:    120 * time.Second,
			StalledThreshold:     300 * time.Second,
			HardStalledThreshold: 900 * time.Second,
			MaxRestarts:          2,
		},
		Admission: AdmissionConfig{
			ConcurrentJobsPerIP: 5,
			DefaultMaxPages:     20,
			MinPages:            1,
			MaxPages:            100,
			DefaultTimeoutSecs:  1800,
			MinTimeoutSecs:      60,
			MaxTimeoutSecs:      1800,
			TokenLengthBytes:    32,
		},
		Crawler: CrawlerConfig{
			UserAgent:          "SkrappBot/1.0 (docs crawler)",
			ConcurrentRequests: 32,
			DownloadDelay:      100 * time.Millisecond,
			DepthLimit:         20,
			FollowRobotsTxt:    true,
			RequestTimeout:     30 * time.Second,
			MinTextLength:      200,
			MaxOutputBytes:     100 * 1024 * 1024,
			ThrottleInitial:    1 * time.Second,
			ThrottleCeiling:    60 * time.Second,
			ThrottleFactor:     2.0,
			ThrottleRecovery:   0.9,
			BreakerTripAfter:   5,
			BreakerOpenFor:     300 * time.Second,
		},
		Headless: HeadlessConfig{
			NavigateTimeout: 30 * time.Second,
			SettleDelay:     1500 * time.Millisecond,
			MaxLinksPerPage: 50,
			PoolSize:        2,
		},
		Blocking: BlockingConfig{
			Rate429Threshold:       0.20,
			Rate403Threshold:       0.30,
			DuplicateHashThreshold: 0.50,
		},
		Retention: RetentionConfig{
			JobExpiryHours: 24,
			SweepInterval:  15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Schedules: SchedulesConfig{
			ExpirySweep: "*/15 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI overrides are applied separately via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if config.Schedules.ExpirySweep != "" {
		if err := ValidateJobSchedule(config.Schedules.ExpirySweep); err != nil {
			return nil, fmt.Errorf("invalid schedules.expiry_sweep: %w", err)
		}
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	const prefix = "CRAWLSERVICE_"

	if v := os.Getenv(prefix + "ENV"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv(prefix + "SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv(prefix + "SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv(prefix + "BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv(prefix + "JOBS_DIR"); v != "" {
		config.Storage.JobsDir = v
	}
	if v := os.Getenv(prefix + "LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv(prefix + "LOG_OUTPUT"); v != "" {
		outputs := []string{}
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if v := os.Getenv(prefix + "CONCURRENT_JOBS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Admission.ConcurrentJobsPerIP = n
		}
	}
	if v := os.Getenv(prefix + "DEFAULT_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Admission.DefaultMaxPages = n
		}
	}
	if v := os.Getenv(prefix + "CRAWLER_USER_AGENT"); v != "" {
		config.Crawler.UserAgent = v
	}
	if v := os.Getenv(prefix + "CRAWLER_DEPTH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.DepthLimit = n
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ValidateJobSchedule validates a cron schedule expression and ensures a minimum
// 5-minute interval, so the periodic retention sweep can't be misconfigured to
// thrash the store.
func ValidateJobSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}
	return nil
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
