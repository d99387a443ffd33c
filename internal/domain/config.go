package domain

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete risk engine configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines default backends
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Archive    ArchiveConfig    `json:"archive" yaml:"archive"`

	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// EngineConfig tunes evaluation and escalation.
type EngineConfig struct {
	MaxWorkers int `json:"maxWorkers" yaml:"maxWorkers"`

	// MaxDepth bounds condition nesting accepted at authoring time.
	MaxDepth int `json:"maxDepth" yaml:"maxDepth"`

	// DefaultThreshold is the escalation score used when a category has no
	// explicit entry in Thresholds.
	DefaultThreshold int              `json:"defaultThreshold" yaml:"defaultThreshold"`
	Thresholds       map[Category]int `json:"thresholds" yaml:"thresholds"`
}

// Threshold returns the escalation threshold for a category.
func (c EngineConfig) Threshold(category Category) int {
	if t, ok := c.Thresholds[category]; ok {
		return t
	}
	return c.DefaultThreshold
}

// SchedulerConfig controls periodic registry reloads.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ReloadSpec string `json:"reloadSpec" yaml:"reloadSpec"` // cron spec, e.g. "@every 5m"
}

// WorkerConfig controls the async evaluation worker.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tenants []string `json:"tenants" yaml:"tenants"`
}

// RulesConfig points at an optional YAML file of rules seeded on startup.
type RulesConfig struct {
	SeedFile string `json:"seedFile" yaml:"seedFile"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	// Endpoint is the OTLP/HTTP collector (host:port). Spans are sampled but
	// not exported when it is empty.
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Insecure bool              `json:"insecure" yaml:"insecure"`
	Headers  map[string]string `json:"headers" yaml:"headers"`
	// Sampler is one of always_on, always_off, traceidratio, parentbased.
	Sampler     string  `json:"sampler" yaml:"sampler"`
	SampleRatio float64 `json:"sampleRatio" yaml:"sampleRatio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskengine.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers:       16,
			MaxDepth:         8,
			DefaultThreshold: 70,
			Thresholds:       map[Category]int{},
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			ReloadSpec: "@every 5m",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "evaluations/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskengine",
			Sampler:     "parentbased",
			SampleRatio: 1,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "riskengine",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
		ResultTTL:      time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration: tier defaults, then the YAML file at
// path (RISKENGINE_CONFIG when path is empty), then environment overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.EqualFold(os.Getenv("RISKENGINE_TIER"), string(TierPro)) {
		cfg = ProConfig()
	}

	if path == "" {
		path = os.Getenv("RISKENGINE_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RISKENGINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RISKENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if os.Getenv("RISKENGINE_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
	if v := os.Getenv("RISKENGINE_DB_DRIVER"); v != "" {
		c.Repository.Driver = v
	}
	if v := os.Getenv("RISKENGINE_SQLITE_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv("RISKENGINE_POSTGRES_HOST"); v != "" {
		c.Repository.PostgresHost = v
	}
	if v := os.Getenv("RISKENGINE_POSTGRES_USER"); v != "" {
		c.Repository.PostgresUser = v
	}
	if v := os.Getenv("RISKENGINE_POSTGRES_PASSWORD"); v != "" {
		c.Repository.PostgresPassword = v
	}
	if v := os.Getenv("RISKENGINE_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("RISKENGINE_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}
	if v := os.Getenv("RISKENGINE_KAFKA_BROKERS"); v != "" {
		c.EventBus.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("RISKENGINE_TENANTS"); v != "" {
		c.Worker.Tenants = splitList(v)
	}
	if os.Getenv("RISKENGINE_ASYNC_WORKER") == "true" {
		c.Worker.Enabled = true
	}
	if v := os.Getenv("RISKENGINE_RULES_FILE"); v != "" {
		c.Rules.SeedFile = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Tracing.Insecure = true
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER"); v != "" {
		c.Tracing.Sampler = v
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = ratio
		}
	}
	if v := os.Getenv("RISKENGINE_ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
		c.Archive.Enabled = true
	}
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", c.Repository.Driver)
	}
	if c.Engine.DefaultThreshold < 0 || c.Engine.DefaultThreshold > MaxRiskScore {
		return fmt.Errorf("engine default threshold must be within [0,%d]", MaxRiskScore)
	}
	for cat, t := range c.Engine.Thresholds {
		if !cat.Valid() {
			return fmt.Errorf("engine threshold: %w: %q", ErrUnknownCategory, cat)
		}
		if t < 0 || t > MaxRiskScore {
			return fmt.Errorf("engine threshold for %s must be within [0,%d]", cat, MaxRiskScore)
		}
	}
	if c.EventBus.Type == "kafka" && len(c.EventBus.KafkaBrokers) == 0 {
		return errors.New("kafka event bus requires at least one broker")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0,1]")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("archive bucket is required when archive is enabled")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
