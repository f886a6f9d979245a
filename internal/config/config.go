package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	// RedisURL enables the cross-instance job lock and the synthesis cache.
	RedisURL    string        `envconfig:"REDIS_URL" default:""`
	JobLockTTL  time.Duration `envconfig:"JOB_LOCK_TTL" default:"15m"`
	ClusterTick time.Duration `envconfig:"CLUSTER_INTERVAL" default:"30m"`

	// IngestDir is scanned for news item JSON files by the ingestion job.
	IngestDir string `envconfig:"INGEST_DIR" default:""`

	ClusterWindow    time.Duration `envconfig:"CLUSTER_WINDOW" default:"48h"`
	ClusterLimit     int           `envconfig:"CLUSTER_LIMIT" default:"100"`
	ClusterThreshold float64       `envconfig:"CLUSTER_THRESHOLD" default:"0.35"`

	SynthesisProvider        string        `envconfig:"SYNTHESIS_PROVIDER" default:"local"`
	SynthesisModel           string        `envconfig:"SYNTHESIS_MODEL" default:""`
	SynthesisEndpoint        string        `envconfig:"SYNTHESIS_ENDPOINT" default:"http://127.0.0.1:8845/v1"`
	AnthropicAPIKey          string        `envconfig:"ANTHROPIC_API_KEY" default:""`
	OpenAIAPIKey             string        `envconfig:"OPENAI_API_KEY" default:""`
	SynthesisTimeout         time.Duration `envconfig:"SYNTHESIS_TIMEOUT" default:"90s"`
	SynthesisConcurrency     int           `envconfig:"SYNTHESIS_CONCURRENCY" default:"1"`
	SynthesisMaxPromptTokens int           `envconfig:"SYNTHESIS_MAX_PROMPT_TOKENS" default:"12000"`
	SynthesisCacheTTL        time.Duration `envconfig:"SYNTHESIS_CACHE_TTL" default:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ClusterWindow <= 0 {
		return fmt.Errorf("CLUSTER_WINDOW must be > 0")
	}
	if c.ClusterLimit < 1 {
		return fmt.Errorf("CLUSTER_LIMIT must be >= 1")
	}
	if c.ClusterThreshold <= 0 || c.ClusterThreshold > 1 {
		return fmt.Errorf("CLUSTER_THRESHOLD must be in (0, 1]")
	}
	if c.ClusterTick <= 0 {
		return fmt.Errorf("CLUSTER_INTERVAL must be > 0")
	}
	if c.JobLockTTL <= 0 {
		return fmt.Errorf("JOB_LOCK_TTL must be > 0")
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be > 0")
	}
	if c.SynthesisConcurrency < 1 {
		return fmt.Errorf("SYNTHESIS_CONCURRENCY must be >= 1")
	}
	if c.SynthesisMaxPromptTokens < 256 {
		return fmt.Errorf("SYNTHESIS_MAX_PROMPT_TOKENS must be >= 256")
	}

	switch c.NormalizedSynthesisProvider() {
	case "local":
		if strings.TrimSpace(c.SynthesisEndpoint) == "" {
			return fmt.Errorf("SYNTHESIS_ENDPOINT is required for the local provider")
		}
	case "anthropic":
		if strings.TrimSpace(c.AnthropicAPIKey) == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when SYNTHESIS_PROVIDER=anthropic")
		}
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SYNTHESIS_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("SYNTHESIS_PROVIDER must be one of local, anthropic, openai")
	}
	return nil
}

func (c *Config) NormalizedSynthesisProvider() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.SynthesisProvider))
}
