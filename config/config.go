package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Devices    DevicesConfig    `yaml:"devices"`
	Billing    BillingConfig    `yaml:"billing"`
	Sync       SyncConfig       `yaml:"sync"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push alerts. Alerts are disabled
// when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	ClientKeyHeader string  `yaml:"client_key_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres", "mysql" or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// DevicesConfig configures the HTTP adapter that talks to access controllers.
type DevicesConfig struct {
	Scheme         string        `yaml:"scheme"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	FaceLibraryID  string        `yaml:"face_library_id"`
	ValidUntil     string        `yaml:"valid_until"`
}

// BillingConfig holds the academic-year cutoff used as the open accounting horizon.
type BillingConfig struct {
	CutoffMonth int `yaml:"cutoff_month"`
	CutoffDay   int `yaml:"cutoff_day"`
}

// SyncConfig controls the bulk device sweep.
type SyncConfig struct {
	IntervalMillis int           `yaml:"interval_ms"`
	Interval       time.Duration `yaml:"-"`
	MaxPhotoBytes  int           `yaml:"max_photo_bytes"`
	Schedule       string        `yaml:"schedule"` // cron spec; empty disables the nightly sweep
	TempDir        string        `yaml:"temp_dir"`
}

// MinSweepIntervalMillis is the smallest accepted gap between sweep calls.
const MinSweepIntervalMillis = 700

// Load reads the configuration from the given path, then applies a .env file
// (if present) and DORMD_* environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DORMD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DORMD_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DORMD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DORMD_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DORMD_VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("DORMD_VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if v := os.Getenv("DORMD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Devices.Scheme == "" {
		cfg.Devices.Scheme = "http"
	}
	if cfg.Devices.TimeoutSeconds <= 0 {
		cfg.Devices.TimeoutSeconds = 15
	}
	cfg.Devices.Timeout = time.Duration(cfg.Devices.TimeoutSeconds) * time.Second
	if cfg.Devices.FaceLibraryID == "" {
		cfg.Devices.FaceLibraryID = "1"
	}
	if cfg.Devices.ValidUntil == "" {
		cfg.Devices.ValidUntil = "2037-12-31T23:59:59"
	}

	if cfg.Billing.CutoffMonth < 1 || cfg.Billing.CutoffMonth > 12 {
		cfg.Billing.CutoffMonth = 7
	}
	if cfg.Billing.CutoffDay < 1 || cfg.Billing.CutoffDay > 28 {
		cfg.Billing.CutoffDay = 1
	}

	// Controllers drop requests that arrive closer together than this.
	if cfg.Sync.IntervalMillis < MinSweepIntervalMillis {
		cfg.Sync.IntervalMillis = MinSweepIntervalMillis
	}
	cfg.Sync.Interval = time.Duration(cfg.Sync.IntervalMillis) * time.Millisecond
	if cfg.Sync.MaxPhotoBytes <= 0 {
		cfg.Sync.MaxPhotoBytes = 200 * 1024
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
