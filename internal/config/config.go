package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	AI       AIConfig       `yaml:"ai"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the shared relational store settings.
// Driver is "sqlite3" (embedded, default) or "postgres".
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds progress snapshot store settings. Redis is optional;
// when unreachable the progress store degrades to in-memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UploadsConfig holds file staging and batch archive directories.
type UploadsConfig struct {
	UploadDir  string `yaml:"upload_dir"`
	HistoryDir string `yaml:"history_dir"`
}

// AIConfig holds default model-call settings. Per-configuration rows in the
// ai_configs table override endpoint/model/key; retry and timeout knobs here
// apply to every call.
type AIConfig struct {
	APIURL            string  `yaml:"api_url"`
	ModelName         string  `yaml:"model_name"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
}

// Timeout returns the model-call timeout as a duration
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between model-call retries
func (c AIConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// APIKey resolves the configured API key environment variable
func (c AIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return os.Getenv("AI_API_KEY")
	}
	return os.Getenv(c.APIKeyEnv)
}

// ArchiveConfig holds the optional S3 mirror for batch archives.
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"`
}

// Load reads and parses the config file. A missing file is not an error;
// the defaults below apply and environment overrides still work.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		data = nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "data/extractor.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Uploads.UploadDir == "" {
		cfg.Uploads.UploadDir = "data/uploads"
	}
	if cfg.Uploads.HistoryDir == "" {
		cfg.Uploads.HistoryDir = "data/history"
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 120
	}
	if cfg.AI.MaxRetries == 0 {
		cfg.AI.MaxRetries = 3
	}
	if cfg.AI.RetryDelaySeconds == 0 {
		cfg.AI.RetryDelaySeconds = 1
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.1
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 2000
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-east-1"
	}

	return &cfg, nil
}

// LoadFromEnv loads config from file with environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dbURL
	}
	if dsn := os.Getenv("SQLITE_PATH"); dsn != "" {
		cfg.Database.Driver = "sqlite3"
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Uploads.UploadDir = v
	}
	if v := os.Getenv("HISTORY_DIR"); v != "" {
		cfg.Uploads.HistoryDir = v
	}
	if v := os.Getenv("AI_API_URL"); v != "" {
		cfg.AI.APIURL = v
	}
	if v := os.Getenv("AI_MODEL_NAME"); v != "" {
		cfg.AI.ModelName = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	return cfg, nil
}
