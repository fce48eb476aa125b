package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PROMPTRELAY_CONFIG", "PORT", "PROMPTRELAY_MASTER_KEY",
	"DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL", "DEEPSEEK_MODEL", "DEEPSEEK_MAX_TOKENS",
	"BODY_SIZE_LIMIT", "MAX_PROMPT_CHARS", "HTTP_TIMEOUT", "HTTP_RESPONSE_HEADER_TIMEOUT",
	"LOG_FORMAT", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTRELAY_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DefaultBodySizeLimit, cfg.Server.BodySizeLimit)
	assert.Equal(t, "https://api.deepseek.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "deepseek-chat", cfg.Upstream.Model)
	assert.Equal(t, 2000, cfg.Upstream.MaxTokens)
	assert.Equal(t, DefaultMaxPromptChars, cfg.Limits.MaxPromptChars)
	assert.Empty(t, cfg.Upstream.APIKey, "missing credential must not fail Load")
}

func TestLoad_YAMLWithPlaceholders(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_RELAY_KEY", "sk-from-env")
	path := writeConfig(t, `
server:
  port: "${TEST_RELAY_PORT:-9999}"
upstream:
  base_url: "http://127.0.0.1:7000"
  max_tokens: "${TEST_RELAY_MAX:-1500}"
  api_key: "${TEST_RELAY_KEY}"
limits:
  max_prompt_chars: 100
http:
  timeout: 45s
`)
	t.Setenv("PROMPTRELAY_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Upstream.BaseURL)
	assert.Equal(t, 1500, cfg.Upstream.MaxTokens)
	assert.Equal(t, "sk-from-env", cfg.Upstream.APIKey)
	assert.Equal(t, 100, cfg.Limits.MaxPromptChars)
	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "deepseek-chat", cfg.Upstream.Model, "unset keys keep defaults")
}

func TestLoad_YAMLDurations(t *testing.T) {
	tests := []struct {
		name        string
		http        string
		wantTimeout time.Duration
		wantHeader  time.Duration
		wantErr     bool
	}{
		{"integer seconds", "  timeout: 600\n  response_header_timeout: 30\n", 600 * time.Second, 30 * time.Second, false},
		{"go durations", "  timeout: 2m\n  response_header_timeout: 1m30s\n", 2 * time.Minute, 90 * time.Second, false},
		{"placeholder seconds", "  timeout: \"${TEST_RELAY_TIMEOUT:-15}\"\n", 15 * time.Second, 600 * time.Second, false},
		{"omitted keeps defaults", "  timeout: ~\n", 600 * time.Second, 600 * time.Second, false},
		{"garbage", "  timeout: soon\n", 0, 0, true},
		{"not a scalar", "  timeout: [1, 2]\n", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PROMPTRELAY_CONFIG", writeConfig(t, "http:\n"+tt.http))

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, cfg.HTTP.Timeout)
			assert.Equal(t, tt.wantHeader, cfg.HTTP.ResponseHeaderTimeout)
		})
	}
}

func TestLoad_EnvBeatsYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: \"7000\"\n")
	t.Setenv("PROMPTRELAY_CONFIG", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Server.Port)
}

func TestLoad_ExplicitConfigMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTRELAY_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTRELAY_CONFIG", writeConfig(t, "server: [unclosed"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTRELAY_CONFIG", "config.example.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Upstream.MaxTokens)
	assert.Equal(t, 10*time.Minute, cfg.HTTP.ResponseHeaderTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"zero body limit", func(c *Config) { c.Server.BodySizeLimit = 0 }, true},
		{"negative prompt limit", func(c *Config) { c.Limits.MaxPromptChars = -1 }, true},
		{"zero max tokens", func(c *Config) { c.Upstream.MaxTokens = 0 }, true},
		{"empty model", func(c *Config) { c.Upstream.Model = "" }, true},
		{"relative base url", func(c *Config) { c.Upstream.BaseURL = "api.deepseek.com" }, true},
		{"ftp base url", func(c *Config) { c.Upstream.BaseURL = "ftp://api.deepseek.com" }, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"json log format", func(c *Config) { c.Log.Format = "JSON" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
