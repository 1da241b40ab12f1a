package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Sync      SyncConfig
	Remote    RemoteConfig
	Monitor   MonitorConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// SyncConfig holds batch executor settings
type SyncConfig struct {
	BatchSize          int
	MaxWorkers         int
	RetryAttempts      int
	RetryDelay         time.Duration
	Timeout            time.Duration
	CheckpointInterval int
}

// RemoteConfig holds remote platform client settings
type RemoteConfig struct {
	Endpoint            string
	AccessToken         string
	MaxConcurrent       int
	Timeout             time.Duration
	LowWaterMark        float64
	CacheTTL            time.Duration
	CacheMaxEntries     int
	SubBatchCostCeiling int
}

// MonitorConfig holds performance monitor settings
type MonitorConfig struct {
	HistorySize int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CATSYNC_ prefix (e.g., CATSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("CATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Sync: SyncConfig{
			BatchSize:          v.GetInt("sync.batch_size"),
			MaxWorkers:         v.GetInt("sync.max_workers"),
			RetryAttempts:      v.GetInt("sync.retry_attempts"),
			RetryDelay:         v.GetDuration("sync.retry_delay"),
			Timeout:            v.GetDuration("sync.timeout"),
			CheckpointInterval: v.GetInt("sync.checkpoint_interval"),
		},
		Remote: RemoteConfig{
			Endpoint:            v.GetString("remote.endpoint"),
			AccessToken:         v.GetString("remote.access_token"),
			MaxConcurrent:       v.GetInt("remote.max_concurrent"),
			Timeout:             v.GetDuration("remote.timeout"),
			LowWaterMark:        v.GetFloat64("remote.low_water_mark"),
			CacheTTL:            v.GetDuration("remote.cache_ttl"),
			CacheMaxEntries:     v.GetInt("remote.cache_max_entries"),
			SubBatchCostCeiling: v.GetInt("remote.sub_batch_cost_ceiling"),
		},
		Monitor: MonitorConfig{
			HistorySize: v.GetInt("monitor.history_size"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "catalogsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "catalogsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 100
	}
	if cfg.Sync.MaxWorkers == 0 {
		cfg.Sync.MaxWorkers = 4
	}
	if cfg.Sync.RetryAttempts == 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = time.Second
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 300 * time.Second
	}
	if cfg.Sync.CheckpointInterval == 0 {
		cfg.Sync.CheckpointInterval = 10
	}
	if cfg.Remote.MaxConcurrent == 0 {
		cfg.Remote.MaxConcurrent = 4
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}
	if cfg.Remote.LowWaterMark == 0 {
		cfg.Remote.LowWaterMark = 100
	}
	if cfg.Remote.CacheTTL == 0 {
		cfg.Remote.CacheTTL = 300 * time.Second
	}
	if cfg.Remote.CacheMaxEntries == 0 {
		cfg.Remote.CacheMaxEntries = 1024
	}
	if cfg.Remote.SubBatchCostCeiling == 0 {
		cfg.Remote.SubBatchCostCeiling = 1000
	}
	if cfg.Monitor.HistorySize == 0 {
		cfg.Monitor.HistorySize = 100
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "catalogsync"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.MaxWorkers <= 0 {
		return fmt.Errorf("sync.max_workers must be positive")
	}
	if c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("sync.retry_attempts cannot be negative")
	}
	if c.Sync.CheckpointInterval <= 0 {
		return fmt.Errorf("sync.checkpoint_interval must be positive")
	}
	if c.Remote.LowWaterMark < 0 {
		return fmt.Errorf("remote.low_water_mark cannot be negative")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Remote.Endpoint == "" {
			return fmt.Errorf("remote.endpoint is required in production")
		}
		if c.Remote.AccessToken == "" {
			return fmt.Errorf("remote.access_token is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
