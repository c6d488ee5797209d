package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/wellspend/pkg/storage"
)

// DefaultMaxFileSize is the upload size ceiling (10 MiB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Upload        UploadConfig        `yaml:"upload"`
	Storage       storage.Config      `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Normalizer    NormalizerConfig    `yaml:"normalizer"`
	Observability ObservabilityConfig `yaml:"observability"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Search        SearchConfig        `yaml:"search"`
	LogLevel      string              `yaml:"log_level"`
}

type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
}

// DatabaseDriver selects the record store backend.
type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverSQLite   DatabaseDriver = "sqlite"
)

type DatabaseConfig struct {
	Driver     DatabaseDriver `yaml:"driver"`
	Host       string         `yaml:"host"`
	Port       int            `yaml:"port"`
	User       string         `yaml:"user"`
	Password   string         `yaml:"password"`
	Database   string         `yaml:"database"`
	SSLMode    string         `yaml:"sslmode"`
	SQLitePath string         `yaml:"sqlite_path"`
}

// UploadConfig bounds what the ingest gate accepts.
type UploadConfig struct {
	Dir          string   `yaml:"dir"`
	MaxFileSize  int64    `yaml:"max_file_size"`
	AllowedTypes []string `yaml:"allowed_types"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type NormalizerConfig struct {
	FuzzyDistance int `yaml:"fuzzy_distance"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`
	TracingEnabled bool `yaml:"tracing_enabled"`
}

type SweeperConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// SearchConfig controls the record search index. An empty IndexPath keeps
// the index in memory.
type SearchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IndexPath string `yaml:"index_path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8080,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       60 * time.Second,
			AllowedOrigins:     []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver:     DriverPostgres,
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Password:   "postgres",
			Database:   "wellspend",
			SSLMode:    "disable",
			SQLitePath: "wellspend.db",
		},
		Upload: UploadConfig{
			Dir:          "./uploads",
			MaxFileSize:  DefaultMaxFileSize,
			AllowedTypes: []string{"text/csv", "application/json", "text/plain"},
		},
		Storage: storage.Config{
			Type: storage.StorageTypeLocal,
		},
		Normalizer: NormalizerConfig{
			FuzzyDistance: 2,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPort:    9090,
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			Schedule:   "*/5 * * * *",
			StaleAfter: 15 * time.Minute,
		},
		Search: SearchConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// environment variables, which take precedence. A .env file is loaded first
// when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.RateLimitPerSecond = getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", c.Server.RateLimitPerSecond)
	c.Server.RateLimitBurst = getEnvAsInt("SERVER_RATE_LIMIT_BURST", c.Server.RateLimitBurst)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Database.Driver = DatabaseDriver(getEnv("DATABASE_DRIVER", string(c.Database.Driver)))
	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("POSTGRES_DB", c.Database.Database)
	c.Database.SSLMode = getEnv("POSTGRES_SSLMODE", c.Database.SSLMode)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)

	c.Upload.Dir = getEnv("UPLOAD_DIR", c.Upload.Dir)
	c.Upload.MaxFileSize = getEnvAsInt64("UPLOAD_MAX_FILE_SIZE", c.Upload.MaxFileSize)
	c.Upload.AllowedTypes = getEnvAsList("UPLOAD_ALLOWED_TYPES", c.Upload.AllowedTypes)

	c.Storage.Type = storage.StorageType(getEnv("STORAGE_TYPE", string(c.Storage.Type)))
	c.Storage.LocalPath = getEnv("STORAGE_LOCAL_PATH", c.Storage.LocalPath)
	if c.Storage.LocalPath == "" {
		c.Storage.LocalPath = c.Upload.Dir
	}
	c.Storage.S3Bucket = getEnv("STORAGE_S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Region = getEnv("STORAGE_S3_REGION", c.Storage.S3Region)
	c.Storage.S3AccessKeyID = getEnv("STORAGE_S3_ACCESS_KEY_ID", c.Storage.S3AccessKeyID)
	c.Storage.S3SecretAccessKey = getEnv("STORAGE_S3_SECRET_ACCESS_KEY", c.Storage.S3SecretAccessKey)
	c.Storage.S3Endpoint = getEnv("STORAGE_S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.BucketURL = getEnv("STORAGE_BUCKET_URL", c.Storage.BucketURL)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Normalizer.FuzzyDistance = getEnvAsInt("NORMALIZER_FUZZY_DISTANCE", c.Normalizer.FuzzyDistance)

	c.Observability.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.MetricsPort = getEnvAsInt("METRICS_PORT", c.Observability.MetricsPort)
	c.Observability.TracingEnabled = getEnvAsBool("TRACING_ENABLED", c.Observability.TracingEnabled)

	c.Sweeper.Enabled = getEnvAsBool("SWEEPER_ENABLED", c.Sweeper.Enabled)
	c.Sweeper.Schedule = getEnv("SWEEPER_SCHEDULE", c.Sweeper.Schedule)
	c.Sweeper.StaleAfter = getEnvAsDuration("SWEEPER_STALE_AFTER", c.Sweeper.StaleAfter)

	c.Search.Enabled = getEnvAsBool("SEARCH_ENABLED", c.Search.Enabled)
	c.Search.IndexPath = getEnv("SEARCH_INDEX_PATH", c.Search.IndexPath)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks the values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return errors.New("UPLOAD_ALLOWED_TYPES must not be empty")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Normalizer.FuzzyDistance < 0 {
		return errors.New("NORMALIZER_FUZZY_DISTANCE must not be negative")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
