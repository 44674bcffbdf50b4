package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration loaded from YAML with
// environment overrides for secrets.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	JWT     JWTConfig     `yaml:"jwt"`
	Storage StorageConfig `yaml:"storage"`
	S3      S3Config      `yaml:"s3"`
	Tickets TicketsConfig `yaml:"tickets"`
	Admin   AdminConfig   `yaml:"admin"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig holds database settings.
type DBConfig struct {
	DSN string `yaml:"dsn"`
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

// Expiry returns the token lifetime.
func (c JWTConfig) Expiry() time.Duration {
	hours := c.ExpiryHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// StorageConfig holds quota defaults.
type StorageConfig struct {
	// DefaultLimitBytes is assigned to newly registered users.
	DefaultLimitBytes int64 `yaml:"default_limit_bytes"`
	// TicketTTLMinutes bounds upload authorization lifetime.
	TicketTTLMinutes int `yaml:"ticket_ttl_minutes"`
}

// TicketTTL returns the upload ticket lifetime.
func (c StorageConfig) TicketTTL() time.Duration {
	minutes := c.TicketTTLMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

// S3Config holds object-store connection settings.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// TicketsConfig selects the upload ticket store backend.
type TicketsConfig struct {
	// RedisAddr enables the Redis store when non-empty; otherwise
	// tickets live in the relational database.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// AdminConfig seeds the bootstrap admin account.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	// File enables rotating file output when non-empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// defaultStorageLimitBytes is 1 GiB per user unless configured.
const defaultStorageLimitBytes = int64(1) << 30

// Load reads the YAML config at path and applies env overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errParse := yaml.Unmarshal(data, &cfg); errParse != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errParse)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return Config{}, fmt.Errorf("config: missing db dsn")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return Config{}, fmt.Errorf("config: missing jwt secret")
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without editing
// the config file.
func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Server.Addr, "FILEHAVEN_ADDR")
	overrideString(&cfg.DB.DSN, "FILEHAVEN_DB_DSN")
	overrideString(&cfg.JWT.Secret, "FILEHAVEN_JWT_SECRET")
	overrideString(&cfg.S3.Region, "FILEHAVEN_S3_REGION")
	overrideString(&cfg.S3.Endpoint, "FILEHAVEN_S3_ENDPOINT")
	overrideString(&cfg.S3.Bucket, "FILEHAVEN_S3_BUCKET")
	overrideString(&cfg.S3.AccessKeyID, "FILEHAVEN_S3_ACCESS_KEY_ID")
	overrideString(&cfg.S3.SecretAccessKey, "FILEHAVEN_S3_SECRET_ACCESS_KEY")
	overrideString(&cfg.Tickets.RedisAddr, "FILEHAVEN_REDIS_ADDR")
	overrideString(&cfg.Tickets.RedisPassword, "FILEHAVEN_REDIS_PASSWORD")
	overrideString(&cfg.Admin.Username, "FILEHAVEN_ADMIN_USERNAME")
	overrideString(&cfg.Admin.Password, "FILEHAVEN_ADMIN_PASSWORD")
	overrideInt64(&cfg.Storage.DefaultLimitBytes, "FILEHAVEN_DEFAULT_LIMIT_BYTES")
}

func overrideString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func overrideInt64(target *int64, key string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	if parsed, errParse := strconv.ParseInt(value, 10, 64); errParse == nil {
		*target = parsed
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Storage.DefaultLimitBytes <= 0 {
		cfg.Storage.DefaultLimitBytes = defaultStorageLimitBytes
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}
