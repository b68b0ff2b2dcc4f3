package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "./config/security.yaml"

	defaultSessionTimeoutMinutes = 30
	defaultMaxLoginAttempts      = 5
)

type Config struct {
	// Security policy
	SessionTimeout   time.Duration
	MaxLoginAttempts int

	// Database configuration
	DBPath          string
	DBEncryptionKey string

	// Admin bootstrap. The seed user is only created when this
	// password is supplied; there is no built-in default credential.
	AdminBootstrapPassword string
	AdminBootstrapEmail    string

	// Backup configuration
	BackupDir           string
	BackupEncryptionKey string
	BackupInterval      time.Duration
	BackupRetentionDays int

	// Audit configuration
	AuditLogPath   string
	AuditAsyncMode bool

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Application settings
	Environment string
	LogLevel    string
}

// configFile mirrors the YAML schema of config/security.yaml. It is
// separate from Config so secrets stay env-only.
type configFile struct {
	Security struct {
		SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
		MaxLoginAttempts      int `yaml:"max_login_attempts"`
	} `yaml:"security"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Audit struct {
		LogPath string `yaml:"log_path"`
		Async   *bool  `yaml:"async"`
	} `yaml:"audit"`
	Backup struct {
		Dir           string `yaml:"dir"`
		IntervalHours int    `yaml:"interval_hours"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`
	RateLimit struct {
		RequestsPerSecond int `yaml:"requests_per_second"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Load resolves configuration in priority order: defaults, then the
// YAML policy file, then environment variables. The result is
// validated once here; nothing re-reads configuration later.
func Load() (*Config, error) {
	// Load .env file if exists (not required in production)
	godotenv.Load()

	config := &Config{
		SessionTimeout:      defaultSessionTimeoutMinutes * time.Minute,
		MaxLoginAttempts:    defaultMaxLoginAttempts,
		DBPath:              "./data/sentinelgate.db",
		BackupDir:           "./backups",
		BackupInterval:      24 * time.Hour,
		BackupRetentionDays: 30,
		AuditLogPath:        "./logs/audit.log",
		AuditAsyncMode:      true,
		RateLimitRPS:        10,
		RateLimitBurst:      20,
		Environment:         "development",
		LogLevel:            "info",
	}

	if err := config.applyFile(getEnv("CONFIG_FILE", defaultConfigFile)); err != nil {
		return nil, err
	}

	config.SessionTimeout = time.Duration(getEnvAsInt("SESSION_TIMEOUT_MINUTES", int(config.SessionTimeout.Minutes()))) * time.Minute
	config.MaxLoginAttempts = getEnvAsInt("MAX_LOGIN_ATTEMPTS", config.MaxLoginAttempts)
	config.DBPath = getEnv("DB_PATH", config.DBPath)
	config.DBEncryptionKey = getEnv("DB_ENCRYPTION_KEY", "")
	config.AdminBootstrapPassword = getEnv("ADMIN_BOOTSTRAP_PASSWORD", "")
	config.AdminBootstrapEmail = getEnv("ADMIN_BOOTSTRAP_EMAIL", "admin@localhost")
	config.BackupDir = getEnv("BACKUP_DIR", config.BackupDir)
	config.BackupEncryptionKey = getEnv("BACKUP_ENCRYPTION_KEY", "")
	config.BackupInterval = time.Duration(getEnvAsInt("BACKUP_INTERVAL_HOURS", int(config.BackupInterval.Hours()))) * time.Hour
	config.BackupRetentionDays = getEnvAsInt("BACKUP_RETENTION_DAYS", config.BackupRetentionDays)
	config.AuditLogPath = getEnv("AUDIT_LOG_PATH", config.AuditLogPath)
	config.AuditAsyncMode = getEnvAsBool("AUDIT_ASYNC_MODE", config.AuditAsyncMode)
	config.RateLimitRPS = getEnvAsInt("RATE_LIMIT_REQUESTS_PER_SECOND", config.RateLimitRPS)
	config.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", config.RateLimitBurst)
	config.Environment = getEnv("APP_ENV", config.Environment)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)

	// Validate critical configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyFile overlays values from the YAML policy file. A missing
// file is fine; defaults and env cover it.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f.Security.SessionTimeoutMinutes > 0 {
		c.SessionTimeout = time.Duration(f.Security.SessionTimeoutMinutes) * time.Minute
	}
	if f.Security.MaxLoginAttempts > 0 {
		c.MaxLoginAttempts = f.Security.MaxLoginAttempts
	}
	if f.Database.Path != "" {
		c.DBPath = f.Database.Path
	}
	if f.Audit.LogPath != "" {
		c.AuditLogPath = f.Audit.LogPath
	}
	if f.Audit.Async != nil {
		c.AuditAsyncMode = *f.Audit.Async
	}
	if f.Backup.Dir != "" {
		c.BackupDir = f.Backup.Dir
	}
	if f.Backup.IntervalHours > 0 {
		c.BackupInterval = time.Duration(f.Backup.IntervalHours) * time.Hour
	}
	if f.Backup.RetentionDays > 0 {
		c.BackupRetentionDays = f.Backup.RetentionDays
	}
	if f.RateLimit.RequestsPerSecond > 0 {
		c.RateLimitRPS = f.RateLimit.RequestsPerSecond
	}
	if f.RateLimit.Burst > 0 {
		c.RateLimitBurst = f.RateLimit.Burst
	}

	return nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive")
	}

	if c.MaxLoginAttempts <= 0 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive")
	}

	if c.DBEncryptionKey == "" {
		return fmt.Errorf("DB_ENCRYPTION_KEY is required")
	}

	if len(c.DBEncryptionKey) < 32 {
		return fmt.Errorf("DB_ENCRYPTION_KEY must be at least 32 characters")
	}

	if c.BackupEncryptionKey == "" {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEY is required")
	}

	if len(c.BackupEncryptionKey) < 32 {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEY must be at least 32 characters")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
