package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Auth    AuthConfig
	ADVBox  ADVBoxConfig
	Sync    SyncConfig
	ZAPI    ZAPIConfig
	Log     LogConfig
	Archive ArchiveConfig
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend string

	BigQueryProject string
	BigQueryDataset string

	Database DatabaseConfig
}

// DatabaseConfig holds the Postgres configuration.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DBName   string
	SSLMode  string

	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ADVBoxConfig configures the upstream practice-management API.
type ADVBoxConfig struct {
	BaseURL          string
	APIToken         string
	DefaultAccountID string
	RequestTimeout   time.Duration
}

// SyncConfig tunes the financial sync loop.
type SyncConfig struct {
	Budget        time.Duration
	PageDelay     time.Duration
	PageSize      int
	MaxPages      int
	Lease         time.Duration
	Schedule      time.Duration
	MaxContinues  int
	DefaultMonths int
}

// ZAPIConfig configures the WhatsApp gateway webhook.
type ZAPIConfig struct {
	ClientToken string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// ArchiveConfig configures raw page archival to Cloud Storage.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// JSONLogs reports whether logs should be emitted as JSON.
func (c LogConfig) JSONLogs() bool {
	return strings.EqualFold(c.Format, "json")
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
			BigQueryDataset: getEnv("BIGQUERY_DATASET", "intranet"),
			Database: DatabaseConfig{
				URL:      getEnv("DATABASE_URL", ""),
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				Username: getEnv("DB_USERNAME", "postgres"),
				Password: getEnv("DB_PASSWORD", "postgres"),
				DBName:   getEnv("DB_NAME", "intranet"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),

				AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),
			},
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		ADVBox: ADVBoxConfig{
			BaseURL:          getEnv("ADVBOX_BASE_URL", "https://app.advbox.com.br/api/v1"),
			APIToken:         getEnv("ADVBOX_API_TOKEN", ""),
			DefaultAccountID: getEnv("ADVBOX_DEFAULT_ACCOUNT_ID", ""),
			RequestTimeout:   getEnvAsDuration("ADVBOX_REQUEST_TIMEOUT", 20*time.Second),
		},
		Sync: SyncConfig{
			Budget:        getEnvAsDuration("SYNC_BUDGET", 55*time.Second),
			PageDelay:     getEnvAsDuration("SYNC_PAGE_DELAY", 800*time.Millisecond),
			PageSize:      getEnvAsInt("SYNC_PAGE_SIZE", 50),
			MaxPages:      getEnvAsInt("SYNC_MAX_PAGES", 500),
			Lease:         getEnvAsDuration("SYNC_LEASE", 2*time.Minute),
			Schedule:      getEnvAsDuration("SYNC_SCHEDULE", 6*time.Hour),
			MaxContinues:  getEnvAsInt("SYNC_MAX_CONTINUATIONS", 20),
			DefaultMonths: getEnvAsInt("SYNC_DEFAULT_MONTHS", 12),
		},
		ZAPI: ZAPIConfig{
			ClientToken: getEnv("ZAPI_CLIENT_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Archive: ArchiveConfig{
			Bucket: getEnv("ARCHIVE_BUCKET", ""),
			Prefix: getEnv("ARCHIVE_PREFIX", ""),
		},
	}
}

// Validate checks the settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres:
	case BackendBigQuery:
		if c.Store.BigQueryProject == "" {
			return fmt.Errorf("Validate: BIGQUERY_PROJECT is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("Validate: unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("Validate: SYNC_PAGE_SIZE must be positive")
	}
	if c.Sync.Budget <= 0 {
		return fmt.Errorf("Validate: SYNC_BUDGET must be positive")
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
