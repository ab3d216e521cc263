package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Storage   StorageConfig   `yaml:"storage"`
	Documents DocumentsConfig `yaml:"documents"`
	Directory DirectoryConfig `yaml:"directory"`
	Email     EmailConfig     `yaml:"email"`
	Fees      FeesConfig      `yaml:"fees"`
	Actors    ActorsConfig    `yaml:"actors"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

// JWTConfig contains staff token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// StorageConfig contains settings for device photos saved at check-in
type StorageConfig struct {
	MediaDir    string `yaml:"media_dir"`
	BaseURL     string `yaml:"base_url"`
	MaxFileSize int64  `yaml:"max_file_size_mb"`
}

// DocumentsConfig contains agreement document locations
type DocumentsConfig struct {
	AgreementDir string `yaml:"agreement_dir"`
	ArchiveDir   string `yaml:"archive_dir"`
}

// DirectoryConfig contains Google Admin directory settings
type DirectoryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	AdminSubject    string `yaml:"admin_subject"`
	Customer        string `yaml:"customer"`
	StudentDomain   string `yaml:"student_domain"`
}

// EmailConfig contains SendGrid settings
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// FeesConfig is the fixed fee schedule
type FeesConfig struct {
	InsuranceFeeCents    int32            `yaml:"insurance_fee_cents"`
	DefaultPartCostCents int32            `yaml:"default_part_cost_cents"`
	PartCosts            map[string]int32 `yaml:"part_costs"`
}

// ActorsConfig names the staff id recorded for self-service actions
type ActorsConfig struct {
	SystemActorID int32 `yaml:"system_actor_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ReconcileFeeBalances string `yaml:"reconcile_fee_balances"`
	ReportStaleSessions  string `yaml:"report_stale_sessions"`
}

// SessionsConfig controls hand-off session housekeeping
type SessionsConfig struct {
	StaleAfterHours int `yaml:"stale_after_hours"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Storage
	if val := os.Getenv("MEDIA_DIR"); val != "" {
		c.Storage.MediaDir = val
	}

	// Directory
	if val := os.Getenv("GOOGLE_CREDENTIALS_FILE"); val != "" {
		c.Directory.CredentialsFile = val
	}
	if val := os.Getenv("GOOGLE_ADMIN_EMAIL"); val != "" {
		c.Directory.AdminSubject = val
	}

	// Email
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Email.APIKey = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60 * 12
	}

	if c.Storage.MediaDir == "" {
		c.Storage.MediaDir = "./media"
	}
	if c.Storage.MaxFileSize == 0 {
		c.Storage.MaxFileSize = 10
	}
	c.Storage.BaseURL = strings.TrimRight(c.Storage.BaseURL, "/")

	if c.Documents.AgreementDir == "" {
		c.Documents.AgreementDir = "./agreements"
	}
	if c.Documents.ArchiveDir == "" {
		c.Documents.ArchiveDir = "./agreements/archive"
	}

	if c.Directory.Enabled {
		if c.Directory.CredentialsFile == "" {
			return fmt.Errorf("directory credentials file is required when the directory is enabled")
		}
		if c.Directory.AdminSubject == "" {
			return fmt.Errorf("directory admin subject is required when the directory is enabled")
		}
	}
	if c.Directory.Customer == "" {
		c.Directory.Customer = "my_customer"
	}

	if c.Email.Enabled && c.Email.APIKey == "" {
		return fmt.Errorf("SendGrid API key is required when email is enabled")
	}

	if c.Fees.InsuranceFeeCents < 0 {
		return fmt.Errorf("invalid insurance fee: %d", c.Fees.InsuranceFeeCents)
	}
	if c.Fees.InsuranceFeeCents == 0 {
		c.Fees.InsuranceFeeCents = 4000 // $40.00
	}
	for part, cents := range c.Fees.PartCosts {
		if cents <= 0 {
			return fmt.Errorf("invalid cost for part %q: %d", part, cents)
		}
	}

	if c.Sessions.StaleAfterHours == 0 {
		c.Sessions.StaleAfterHours = 24
	}

	if c.Scheduler.ReconcileFeeBalances == "" {
		c.Scheduler.ReconcileFeeBalances = "0 0 2 * * *" // 2 AM UTC
	}
	if c.Scheduler.ReportStaleSessions == "" {
		c.Scheduler.ReportStaleSessions = "0 0 7 * * *" // 7 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
