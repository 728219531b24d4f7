package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderVertex    = "vertex"
)

type Config struct {
	Provider  string `env:"CLAUDE_PROVIDER" envDefault:"anthropic"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Model     string `env:"CLAUDE_MODEL" envDefault:"claude-sonnet-4-20250514"`
	MaxTokens int    `env:"CLAUDE_MAX_TOKENS" envDefault:"1024"`

	Anthropic Anthropic
	Bedrock   Bedrock
	Vertex    Vertex
	Storage   Storage
}

type Anthropic struct {
	APIKey    string `env:"ANTHROPIC_API_KEY"`
	AuthToken string `env:"ANTHROPIC_AUTH_TOKEN"`
	BaseURL   string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`
}

// Bedrock credentials are tried in order: bearer token, static key pair,
// then the AWS default chain.
type Bedrock struct {
	Region          string `env:"AWS_REGION"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
	BearerToken     string `env:"AWS_BEARER_TOKEN_BEDROCK"`
}

type Vertex struct {
	Region    string `env:"CLOUD_ML_REGION" envDefault:"us-east5"`
	ProjectID string `env:"ANTHROPIC_VERTEX_PROJECT_ID"`
	Audience  string `env:"VERTEX_AUDIENCE"`
}

// Storage is optional: recording is off without a database URL and
// mirroring is off without a NATS store directory.
type Storage struct {
	DatabaseURL      string `env:"DATABASE_URL"`
	NATSStoreDir     string `env:"NATS_STORE_DIR"`
	WriterBufferSize int    `env:"WRITER_BUFFER_SIZE" envDefault:"10000"`
	WriterBatchSize  int    `env:"WRITER_BATCH_SIZE" envDefault:"100"`
	WriterFlushMs    int    `env:"WRITER_FLUSH_MS" envDefault:"100"`
}

func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" && c.Anthropic.AuthToken == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN is required"))
		}
	case ProviderBedrock:
		if (c.Bedrock.AccessKeyID == "") != (c.Bedrock.SecretAccessKey == "") {
			errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
		}
		if c.Bedrock.BearerToken != "" && c.Bedrock.Region == "" {
			errs = append(errs, errors.New("AWS_REGION is required with AWS_BEARER_TOKEN_BEDROCK"))
		}
	case ProviderVertex:
		if c.Vertex.ProjectID == "" {
			errs = append(errs, errors.New("ANTHROPIC_VERTEX_PROJECT_ID is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLAUDE_PROVIDER %q", c.Provider))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("CLAUDE_MAX_TOKENS must be positive, got %d", c.MaxTokens))
	}
	return errors.Join(errs...)
}
