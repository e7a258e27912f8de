// Package config loads agent configuration from a YAML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Upload backends.
const (
	UploadNone  = "none"
	UploadHTTP  = "http"
	UploadMinio = "minio"
)

// Config holds all configuration values for the agent.
type Config struct {
	// Identity and credentials of this robot
	AgentID   string `mapstructure:"agent_id"`
	APIKey    string `mapstructure:"api_key"`
	ServerURL string `mapstructure:"server_url"`

	// Transport
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`
	AMQPPrefetch int    `mapstructure:"amqp_prefetch"`

	// Local control API port
	HTTPPort       int     `mapstructure:"http_port"`
	InputRateLimit float64 `mapstructure:"input_rate_limit"`
	InputRateBurst int     `mapstructure:"input_rate_burst"`

	// Job execution
	Concurrency       int           `mapstructure:"concurrency"`
	RelayCapacity     int           `mapstructure:"relay_capacity"`
	TerminalHeight    uint          `mapstructure:"terminal_height"`
	TerminalWidth     uint          `mapstructure:"terminal_width"`
	DataRoot          string        `mapstructure:"data_root"`
	ContainerDataPath string        `mapstructure:"container_data_path"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	// Result upload
	UploadBackend  string `mapstructure:"upload_backend"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	// Logging and telemetry
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"agent_id":            "AGENT_ID",
	"api_key":             "API_KEY",
	"server_url":          "SERVER_URL",
	"amqp_url":            "AMQP_URL",
	"amqp_exchange":       "AMQP_EXCHANGE",
	"amqp_prefetch":       "AMQP_PREFETCH",
	"http_port":           "PORT",
	"input_rate_limit":    "INPUT_RATE_LIMIT",
	"input_rate_burst":    "INPUT_RATE_BURST",
	"concurrency":         "AGENT_CONCURRENCY",
	"relay_capacity":      "RELAY_CAPACITY",
	"terminal_height":     "TERMINAL_HEIGHT",
	"terminal_width":      "TERMINAL_WIDTH",
	"data_root":           "DATA_ROOT",
	"container_data_path": "CONTAINER_DATA_PATH",
	"shutdown_timeout":    "SHUTDOWN_TIMEOUT",
	"upload_backend":      "UPLOAD_BACKEND",
	"minio_endpoint":      "MINIO_ENDPOINT",
	"minio_access_key":    "MINIO_ACCESS_KEY",
	"minio_secret_key":    "MINIO_SECRET_KEY",
	"minio_bucket":        "MINIO_BUCKET",
	"minio_use_ssl":       "MINIO_USE_SSL",
	"log_level":           "LOG_LEVEL",
	"log_format":          "LOG_FORMAT",
	"otel_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("amqp_exchange", "robots")
	v.SetDefault("amqp_prefetch", 16)
	v.SetDefault("http_port", 6161)
	v.SetDefault("input_rate_limit", 50.0)
	v.SetDefault("input_rate_burst", 100)
	v.SetDefault("concurrency", 0)
	v.SetDefault("relay_capacity", 100)
	v.SetDefault("terminal_height", 35)
	v.SetDefault("terminal_width", 100)
	v.SetDefault("data_root", "job_data")
	v.SetDefault("container_data_path", "/robot/job_data")
	v.SetDefault("shutdown_timeout", 5*time.Minute)
	v.SetDefault("upload_backend", UploadNone)
	v.SetDefault("minio_bucket", "job-results")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_endpoint", "localhost:4317")
}

// Load reads configuration. path names a YAML config file; when empty,
// robotagent.yaml in the working directory is used if present. A .env file
// in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("robotagent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AMQPURL == "" {
		return errors.New("amqp_url is required (env: AMQP_URL)")
	}
	if c.AgentID == "" {
		c.AgentID = uuid.NewString()
	}
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")

	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency %d: must be zero (unbounded) or positive", c.Concurrency)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}

	c.UploadBackend = strings.ToLower(c.UploadBackend)
	switch c.UploadBackend {
	case UploadNone:
	case UploadHTTP:
		if c.APIKey == "" {
			return errors.New("api_key is required when upload_backend is http (env: API_KEY)")
		}
	case UploadMinio:
		if c.MinioEndpoint == "" {
			return errors.New("minio_endpoint is required when upload_backend is minio (env: MINIO_ENDPOINT)")
		}
	default:
		return fmt.Errorf("invalid upload_backend %q: must be none, http or minio", c.UploadBackend)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q: must be json or text", c.LogFormat)
	}
	return nil
}
