package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig      `yaml:"server" toml:"server"`
	Database     DatabaseConfig    `yaml:"database" toml:"database"`
	Scheduler    SchedulerConfig   `yaml:"scheduler" toml:"scheduler"`
	Push         PushConfig        `yaml:"push" toml:"push"`
	WorkerPool   WorkerPoolConfig  `yaml:"worker_pool" toml:"worker_pool"`
	Tracing      TracingConfig     `yaml:"tracing" toml:"tracing"`
	Branches     []BranchSeed      `yaml:"branches" toml:"branches"`
	ServiceTypes []ServiceTypeSeed `yaml:"service_types" toml:"service_types"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size" toml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key" toml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key" toml:"vapid_private_key"`
	Subject    string `yaml:"subject" toml:"subject"`
	TTL        int    `yaml:"ttl" toml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" toml:"port"`
	ActorHeader     string  `yaml:"actor_header" toml:"actor_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" toml:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst" toml:"rate_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
}

// SchedulerConfig controls sweep cadence and drift thresholds.
type SchedulerConfig struct {
	SweepIntervalSeconds    int           `yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
	SweepInterval           time.Duration `yaml:"-" toml:"-"` // Ignored by decoders
	OrphanGraceSeconds      int           `yaml:"orphan_grace_seconds" toml:"orphan_grace_seconds"`
	OrphanGrace             time.Duration `yaml:"-" toml:"-"`
	StaleActiveGraceSeconds int           `yaml:"stale_active_grace_seconds" toml:"stale_active_grace_seconds"`
	StaleActiveGrace        time.Duration `yaml:"-" toml:"-"`
	FeePercent              int64         `yaml:"fee_percent" toml:"fee_percent"`
	CatalogCacheSeconds     int           `yaml:"catalog_cache_seconds" toml:"catalog_cache_seconds"`
	CatalogCacheTTL         time.Duration `yaml:"-" toml:"-"`
	SystemActor             string        `yaml:"system_actor" toml:"system_actor"`
	DisableRunner           bool          `yaml:"disable_runner" toml:"disable_runner"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	OutputFile  string `yaml:"output_file" toml:"output_file"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" toml:"driver"`
	DSN                    string `yaml:"dsn" toml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" toml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale" toml:"enable_timescale"`
}

// BranchSeed describes a branch and its machine pool, e.g. machines: ["W-1", "W-2", "D-1"].
type BranchSeed struct {
	Name     string   `yaml:"name" toml:"name"`
	Machines []string `yaml:"machines" toml:"machines"`
}

// ServiceTypeSeed is a catalog entry loaded at startup.
type ServiceTypeSeed struct {
	Name            string `yaml:"name" toml:"name"`
	Kind            string `yaml:"kind" toml:"kind"`
	MachineType     string `yaml:"machine_type" toml:"machine_type"`
	DurationMinutes int    `yaml:"duration_minutes" toml:"duration_minutes"`
	Price           int64  `yaml:"price" toml:"price"`
	HasFee          bool   `yaml:"has_fee" toml:"has_fee"`
}

// Load reads the configuration from the given path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode toml config: %w", err)
		}
	} else {
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ActorHeader == "" {
		cfg.Server.ActorHeader = "X-Actor"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Scheduler.SweepIntervalSeconds <= 0 {
		cfg.Scheduler.SweepIntervalSeconds = 60
	}
	cfg.Scheduler.SweepInterval = time.Duration(cfg.Scheduler.SweepIntervalSeconds) * time.Second

	if cfg.Scheduler.OrphanGraceSeconds <= 0 {
		cfg.Scheduler.OrphanGraceSeconds = 120
	}
	cfg.Scheduler.OrphanGrace = time.Duration(cfg.Scheduler.OrphanGraceSeconds) * time.Second

	if cfg.Scheduler.StaleActiveGraceSeconds <= 0 {
		cfg.Scheduler.StaleActiveGraceSeconds = 900
	}
	cfg.Scheduler.StaleActiveGrace = time.Duration(cfg.Scheduler.StaleActiveGraceSeconds) * time.Second

	if cfg.Scheduler.FeePercent < 0 || cfg.Scheduler.FeePercent > 100 {
		log.Printf("scheduler.fee_percent %d is out of range; defaulting to 0", cfg.Scheduler.FeePercent)
		cfg.Scheduler.FeePercent = 0
	}

	if cfg.Scheduler.CatalogCacheSeconds <= 0 {
		cfg.Scheduler.CatalogCacheSeconds = 60
	}
	cfg.Scheduler.CatalogCacheTTL = time.Duration(cfg.Scheduler.CatalogCacheSeconds) * time.Second

	if cfg.Scheduler.SystemActor == "" {
		cfg.Scheduler.SystemActor = "system"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "laundryd"
	}
}
