// Package config loads and validates the control plane's YAML
// configuration, mirroring the teacher's internal/config package: a single
// file decoded into a typed Config, filled with defaults, overlaid with a
// small set of environment variable overrides, then validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the thin HTTP surface (health probes, event
// ingestion stubs).
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// StoreConfig configures the Workflow Store's (C8) persistence and bus.
type StoreConfig struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrations_dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisChannel  string `yaml:"redis_channel"`
}

// PlanningConfig configures the planning pipeline (C1-C7).
type PlanningConfig struct {
	DefaultWorkingDir   string        `yaml:"default_working_dir"`
	BackupDir           string        `yaml:"backup_dir"`
	SandboxEnabled       bool          `yaml:"sandbox_enabled"`
	StopOnFailure        bool          `yaml:"stop_on_failure"`
	ParallelValidation   bool          `yaml:"parallel_validation"`
	QualityThreshold     float64       `yaml:"quality_threshold"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
}

// RouterConfig configures the Model Router (C6).
type RouterConfig struct {
	DefaultStrategy string  `yaml:"default_strategy"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	PreferLocal      bool    `yaml:"prefer_local"`
	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	BedrockRegion    string  `yaml:"bedrock_region"`
	OllamaEndpoint   string  `yaml:"ollama_endpoint"`
}

// MeshConfig configures the service mesh core (C9-C13).
type MeshConfig struct {
	FailureThreshold     int           `yaml:"failure_threshold"`
	RecoveryTimeout      time.Duration `yaml:"recovery_timeout"`
	DLQMaxSize           int           `yaml:"dlq_max_size"`
	RetryOnStartup       bool          `yaml:"retry_on_startup"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
}

// LoggingConfig configures both loggers (logrus for planning, zap/logr for
// mesh).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlackConfig configures best-effort approval notifications, posted
// through the Slack Web API (not an incoming webhook).
type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// PolicyConfig configures the OPA-backed trust envelope evaluation.
type PolicyConfig struct {
	PolicyPath string `yaml:"policy_path"`
}

// Config is the root configuration object.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Planning PlanningConfig `yaml:"planning"`
	Router   RouterConfig   `yaml:"router"`
	Mesh     MeshConfig     `yaml:"mesh"`
	Logging  LoggingConfig  `yaml:"logging"`
	Slack    SlackConfig    `yaml:"slack"`
	Policy   PolicyConfig   `yaml:"policy"`
}

// Load reads and parses the YAML config file at path, applies defaults
// for anything left unset, overlays environment variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == "" {
		cfg.Server.HTTPPort = "8080"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
	if cfg.Store.RedisChannel == "" {
		cfg.Store.RedisChannel = "l01:events"
	}
	if cfg.Store.MigrationsDir == "" {
		cfg.Store.MigrationsDir = "internal/database/migrations"
	}
	if cfg.Planning.DefaultWorkingDir == "" {
		cfg.Planning.DefaultWorkingDir = "."
	}
	if cfg.Planning.BackupDir == "" {
		cfg.Planning.BackupDir = ".agentflow/backups"
	}
	if cfg.Planning.QualityThreshold == 0 {
		cfg.Planning.QualityThreshold = 70.0
	}
	if cfg.Planning.DefaultTimeout == 0 {
		cfg.Planning.DefaultTimeout = 30 * time.Second
	}
	if cfg.Router.DefaultStrategy == "" {
		cfg.Router.DefaultStrategy = "balanced"
	}
	if cfg.Router.QualityThreshold == 0 {
		cfg.Router.QualityThreshold = 0.7
	}
	if cfg.Mesh.FailureThreshold == 0 {
		cfg.Mesh.FailureThreshold = 5
	}
	if cfg.Mesh.RecoveryTimeout == 0 {
		cfg.Mesh.RecoveryTimeout = 30 * time.Second
	}
	if cfg.Mesh.DLQMaxSize == 0 {
		cfg.Mesh.DLQMaxSize = 1000
	}
	if cfg.Mesh.RequestTimeout == 0 {
		cfg.Mesh.RequestTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch cfg.Router.DefaultStrategy {
	case "cost", "quality", "latency", "balanced":
	default:
		return fmt.Errorf("unsupported router strategy: %s", cfg.Router.DefaultStrategy)
	}
	if cfg.Planning.QualityThreshold < 0 || cfg.Planning.QualityThreshold > 100 {
		return fmt.Errorf("planning quality threshold must be between 0 and 100")
	}
	if cfg.Mesh.FailureThreshold <= 0 {
		return fmt.Errorf("mesh failure threshold must be greater than 0")
	}
	if cfg.Mesh.DLQMaxSize <= 0 {
		return fmt.Errorf("mesh dlq max size must be greater than 0")
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("ROUTER_STRATEGY"); v != "" {
		cfg.Router.DefaultStrategy = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Router.AnthropicAPIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("MESH_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MESH_FAILURE_THRESHOLD: %w", err)
		}
		cfg.Mesh.FailureThreshold = n
	}
	if v := os.Getenv("SLACK_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SLACK_ENABLED: %w", err)
		}
		cfg.Slack.Enabled = b
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		cfg.Slack.Token = v
	}
	return nil
}
