package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for recurve.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Research  ResearchConfig  `yaml:"research"`
	Model     ModelConfig     `yaml:"model"`
	Scout     ScoutConfig     `yaml:"scout"`
	NATS      NATSConfig      `yaml:"nats"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the knowledge store
type DatabaseConfig struct {
	Type string `yaml:"type"` // "sqlite", "postgres"
	Path string `yaml:"path"` // For SQLite
	DSN  string `yaml:"dsn"`  // For Postgres
}

// AgentConfig tunes the classification and pivot engine.
type AgentConfig struct {
	PivotThreshold        float64       `yaml:"pivot_threshold"`
	BatchConcurrency      int           `yaml:"batch_concurrency"`
	CollaboratorTimeout   time.Duration `yaml:"collaborator_timeout"`
	MaxProductDescription int           `yaml:"max_product_description"`
	SmallCompanyThreshold int           `yaml:"small_company_threshold"`
	UnknownLabelPolicy    string        `yaml:"unknown_label_policy"` // "fail" or "monitor"
	ValidationInterval    time.Duration `yaml:"validation_interval"`  // 0 disables the periodic cycle
	AutoPivot             bool          `yaml:"auto_pivot"`
}

// ResearchConfig configures the web search collaborator
type ResearchConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	CacheTTL  time.Duration `yaml:"cache_ttl"` // 0 disables the search cache
	CacheSize int           `yaml:"cache_size"`
}

// ModelConfig configures the language model collaborator
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // "pioneer" or "openai"
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	ModelID     string  `yaml:"model_id"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ScoutConfig configures competitor status monitoring
type ScoutConfig struct {
	StatusURL    string        `yaml:"status_url"` // empty disables polling
	Competitor   string        `yaml:"competitor"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StateBackend string        `yaml:"state_backend"` // "memory" or "redis"
	RedisURL     string        `yaml:"redis_url"`
}

// NATSConfig configures the optional message bus
type NATSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SecurityConfig configures authentication and authorization
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS
	APIKeys        []string `yaml:"api_keys,omitempty"`
	JWTSecret      string   `yaml:"jwt_secret"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// HotReloadConfig enables reloading tunables when the config file changes
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified
// path. Values missing from the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${TAVILY_API_KEY}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides selected fields from well-known environment variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.Type, "RECURVE_DB_TYPE")
	set(&c.Database.DSN, "RECURVE_DB_DSN")
	set(&c.Database.Path, "RECURVE_DB_PATH")
	set(&c.NATS.URL, "NATS_URL")
	set(&c.Scout.RedisURL, "REDIS_URL")
	set(&c.Research.APIKey, "TAVILY_API_KEY")
	set(&c.Model.APIKey, "PIONEER_API_KEY")
	set(&c.Security.JWTSecret, "RECURVE_JWT_SECRET")
	set(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if os.Getenv("NATS_URL") != "" {
		c.NATS.Enabled = true
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		c.Telemetry.Enabled = true
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Agent.PivotThreshold < 0 || c.Agent.PivotThreshold >= 1 {
		return fmt.Errorf("agent.pivot_threshold must be in [0, 1), got %v", c.Agent.PivotThreshold)
	}
	if c.Agent.BatchConcurrency < 1 {
		return fmt.Errorf("agent.batch_concurrency must be at least 1, got %d", c.Agent.BatchConcurrency)
	}
	if c.Agent.CollaboratorTimeout <= 0 {
		return fmt.Errorf("agent.collaborator_timeout must be positive")
	}
	if c.Agent.MaxProductDescription < 1 {
		return fmt.Errorf("agent.max_product_description must be positive")
	}
	switch strings.ToLower(c.Agent.UnknownLabelPolicy) {
	case "fail", "monitor":
	default:
		return fmt.Errorf("agent.unknown_label_policy must be fail or monitor, got %q", c.Agent.UnknownLabelPolicy)
	}
	switch strings.ToLower(c.Database.Type) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.type must be sqlite or postgres, got %q", c.Database.Type)
	}
	switch strings.ToLower(c.Scout.StateBackend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("scout.state_backend must be memory or redis, got %q", c.Scout.StateBackend)
	}
	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./data/recurve.db",
		},
		Agent: AgentConfig{
			PivotThreshold:        0.60,
			BatchConcurrency:      4,
			CollaboratorTimeout:   30 * time.Second,
			MaxProductDescription: 4000,
			SmallCompanyThreshold: 25,
			UnknownLabelPolicy:    "fail",
			AutoPivot:             true,
		},
		Research: ResearchConfig{
			Endpoint:  "https://api.tavily.com",
			CacheTTL:  time.Hour,
			CacheSize: 5000,
		},
		Model: ModelConfig{
			Provider:    "pioneer",
			Endpoint:    "https://api.pioneer.ai",
			ModelID:     "base:Qwen/Qwen3-8B",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Scout: ScoutConfig{
			Competitor:   "DigitalOcean",
			PollInterval: 30 * time.Second,
			StateBackend: "memory",
		},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "RECURVE",
			Timeout:    10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "otel-collector:4317",
			ServiceName:  "recurve",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
