package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Reservation ReservationConfig `yaml:"reservation"`
	Redis       RedisConfig       `yaml:"redis"`
	Penalty     PenaltyConfig     `yaml:"penalty"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ReservationConfig holds the business-tunable reservation constants.
type ReservationConfig struct {
	LateThresholdMinutes   int           `yaml:"late_threshold_minutes"`
	LockWaitMillis         int           `yaml:"lock_wait_millis"`
	CancelPenaltyWindowMin int           `yaml:"cancel_penalty_window_minutes"`
	LateThreshold          time.Duration `yaml:"-"`
	LockWait               time.Duration `yaml:"-"`
	CancelPenaltyWindow    time.Duration `yaml:"-"`
}

// RedisConfig holds the connection settings for the QR token cache.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	TokenTTLSeconds int           `yaml:"token_ttl_seconds"`
	TokenTTL        time.Duration `yaml:"-"`
}

// PenaltyConfig points at the external penalty service.
type PenaltyConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SweepConfig holds the no-show/completion sweep settings.
type SweepConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in defaults for unset or invalid values and derives
// the time.Duration fields from their scalar counterparts.
func (cfg *Config) ApplyDefaults() {
	if cfg.Reservation.LateThresholdMinutes <= 0 {
		cfg.Reservation.LateThresholdMinutes = 30
	}
	cfg.Reservation.LateThreshold = time.Duration(cfg.Reservation.LateThresholdMinutes) * time.Minute

	if cfg.Reservation.LockWaitMillis <= 0 {
		cfg.Reservation.LockWaitMillis = 500
	}
	cfg.Reservation.LockWait = time.Duration(cfg.Reservation.LockWaitMillis) * time.Millisecond

	if cfg.Reservation.CancelPenaltyWindowMin < 0 {
		cfg.Reservation.CancelPenaltyWindowMin = 0
	}
	cfg.Reservation.CancelPenaltyWindow = time.Duration(cfg.Reservation.CancelPenaltyWindowMin) * time.Minute

	if cfg.Redis.TokenTTLSeconds <= 0 {
		cfg.Redis.TokenTTLSeconds = 600
	}
	cfg.Redis.TokenTTL = time.Duration(cfg.Redis.TokenTTLSeconds) * time.Second

	if cfg.Penalty.TimeoutSeconds <= 0 {
		cfg.Penalty.TimeoutSeconds = 5
	}

	if cfg.Sweep.IntervalSeconds <= 0 {
		cfg.Sweep.IntervalSeconds = 60
	}
	cfg.Sweep.Interval = time.Duration(cfg.Sweep.IntervalSeconds) * time.Second

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
