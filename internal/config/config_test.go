package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"ANTHROPIC_API_KEY": "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, "https://api.anthropic.com", cfg.Anthropic.BaseURL)
	assert.Equal(t, "us-east5", cfg.Vertex.Region)
	assert.Equal(t, 10000, cfg.Storage.WriterBufferSize)
	assert.Equal(t, 100, cfg.Storage.WriterBatchSize)
	assert.Equal(t, 100, cfg.Storage.WriterFlushMs)
	assert.Empty(t, cfg.Storage.DatabaseURL)
}

func TestProviders(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		wantErr string
	}{
		{
			name:    "anthropic without credentials",
			environ: map[string]string{},
			wantErr: "ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN",
		},
		{
			name:    "anthropic with auth token",
			environ: map[string]string{"ANTHROPIC_AUTH_TOKEN": "tok"},
		},
		{
			name:    "bedrock default chain",
			environ: map[string]string{"CLAUDE_PROVIDER": "Bedrock"},
		},
		{
			name:    "bedrock half a key pair",
			environ: map[string]string{"CLAUDE_PROVIDER": "bedrock", "AWS_ACCESS_KEY_ID": "AKID"},
			wantErr: "must be set together",
		},
		{
			name:    "bedrock bearer without region",
			environ: map[string]string{"CLAUDE_PROVIDER": "bedrock", "AWS_BEARER_TOKEN_BEDROCK": "k"},
			wantErr: "AWS_REGION",
		},
		{
			name:    "vertex without project",
			environ: map[string]string{"CLAUDE_PROVIDER": "vertex"},
			wantErr: "ANTHROPIC_VERTEX_PROJECT_ID",
		},
		{
			name:    "vertex",
			environ: map[string]string{"CLAUDE_PROVIDER": "vertex", "ANTHROPIC_VERTEX_PROJECT_ID": "p", "CLOUD_ML_REGION": "global"},
		},
		{
			name:    "unknown provider",
			environ: map[string]string{"CLAUDE_PROVIDER": "azure"},
			wantErr: `unknown CLAUDE_PROVIDER "azure"`,
		},
		{
			name:    "bad max tokens",
			environ: map[string]string{"ANTHROPIC_API_KEY": "k", "CLAUDE_MAX_TOKENS": "0"},
			wantErr: "CLAUDE_MAX_TOKENS",
		},
		{
			name:    "max tokens not a number",
			environ: map[string]string{"ANTHROPIC_API_KEY": "k", "CLAUDE_MAX_TOKENS": "lots"},
			wantErr: `"lots"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBedrockFields(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"CLAUDE_PROVIDER":       "bedrock",
		"AWS_REGION":            "us-west-2",
		"AWS_ACCESS_KEY_ID":     "AKID",
		"AWS_SECRET_ACCESS_KEY": "secret",
		"AWS_SESSION_TOKEN":     "session",
	})
	require.NoError(t, err)
	assert.Equal(t, Bedrock{
		Region:          "us-west-2",
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
		SessionToken:    "session",
	}, cfg.Bedrock)
}
