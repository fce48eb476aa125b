// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBodySizeLimit bounds inbound request bodies (1MB).
	DefaultBodySizeLimit int64 = 1 << 20
	// DefaultMaxPromptChars bounds the prompt length in runes.
	DefaultMaxPromptChars = 32000
	// DefaultConfigPath is read when PROMPTRELAY_CONFIG is unset.
	DefaultConfigPath = "config/config.yaml"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Limits   LimitsConfig   `yaml:"limits"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey, when set, must be presented as a bearer token on /api routes.
	MasterKey     string `yaml:"master_key"`
	BodySizeLimit int64  `yaml:"body_size_limit"`
}

// UpstreamConfig describes the chat-completion provider.
type UpstreamConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// APIKey is the provider credential. Never logged.
	APIKey string `yaml:"api_key"`
}

// LimitsConfig bounds inbound prompts.
type LimitsConfig struct {
	MaxPromptChars int `yaml:"max_prompt_chars"`
}

// HTTPConfig tunes the outbound client.
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// UnmarshalYAML accepts each timeout as integer seconds or a Go duration
// string, matching the environment overrides.
func (h *HTTPConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Timeout               yaml.Node `yaml:"timeout"`
		ResponseHeaderTimeout yaml.Node `yaml:"response_header_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if h.Timeout, err = yamlDuration("http.timeout", raw.Timeout, h.Timeout); err != nil {
		return err
	}
	if h.ResponseHeaderTimeout, err = yamlDuration("http.response_header_timeout", raw.ResponseHeaderTimeout, h.ResponseHeaderTimeout); err != nil {
		return err
	}
	return nil
}

func yamlDuration(key string, n yaml.Node, current time.Duration) (time.Duration, error) {
	if n.Kind == 0 || n.ShortTag() == "!!null" || n.Value == "" {
		return current, nil
	}
	if n.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("invalid %s: expected a duration at line %d", key, n.Line)
	}
	return parseDuration(key, n.Value)
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Format is "text", "json" or empty for auto-detection.
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: DefaultBodySizeLimit,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "https://api.deepseek.com",
			Model:     "deepseek-chat",
			MaxTokens: 2000,
		},
		Limits: LimitsConfig{
			MaxPromptChars: DefaultMaxPromptChars,
		},
		HTTP: HTTPConfig{
			Timeout:               600 * time.Second,
			ResponseHeaderTimeout: 600 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in this order, later layers winning: defaults,
// the optional .env file, the optional YAML file, then environment variables.
func Load() (*Config, error) {
	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	path := os.Getenv("PROMPTRELAY_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if err := loadYAML(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path into cfg, expanding ${VAR} placeholders in every
// scalar first. A missing file is only an error when it was asked for.
func loadYAML(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return nil
	}
	expandNode(&root)
	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := expandString(n.Value)
		if expanded != n.Value {
			// Re-resolve the tag so "${MAX:-2000}" can fill an int field.
			n.Value = expanded
			n.Tag = ""
			n.Style = 0
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty without a default is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides copies environment variables over file values.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Server.Port)
	setString("PROMPTRELAY_MASTER_KEY", &cfg.Server.MasterKey)
	setString("DEEPSEEK_API_KEY", &cfg.Upstream.APIKey)
	setString("DEEPSEEK_BASE_URL", &cfg.Upstream.BaseURL)
	setString("DEEPSEEK_MODEL", &cfg.Upstream.Model)
	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("DEEPSEEK_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DEEPSEEK_MAX_TOKENS %q: %w", v, err)
		}
		cfg.Upstream.MaxTokens = n
	}
	if v := os.Getenv("MAX_PROMPT_CHARS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_PROMPT_CHARS %q: %w", v, err)
		}
		cfg.Limits.MaxPromptChars = n
	}
	if v := os.Getenv("BODY_SIZE_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BODY_SIZE_LIMIT %q: %w", v, err)
		}
		cfg.Server.BodySizeLimit = n
	}

	var err error
	if cfg.HTTP.Timeout, err = envDuration("HTTP_TIMEOUT", cfg.HTTP.Timeout); err != nil {
		return err
	}
	if cfg.HTTP.ResponseHeaderTimeout, err = envDuration("HTTP_RESPONSE_HEADER_TIMEOUT", cfg.HTTP.ResponseHeaderTimeout); err != nil {
		return err
	}
	return nil
}

// envDuration accepts plain integers (seconds) or Go duration strings ("10m").
func envDuration(key string, current time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return current, nil
	}
	return parseDuration(key, val)
}

// parseDuration accepts plain integers (seconds) or Go duration strings.
func parseDuration(key, val string) (time.Duration, error) {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}

// Validate checks values that would make the server misbehave. A missing
// upstream credential is deliberately not checked here; it is reported per
// request.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port must not be empty")
	}
	if c.Server.BodySizeLimit <= 0 {
		return fmt.Errorf("body size limit must be positive, got %d", c.Server.BodySizeLimit)
	}
	if c.Limits.MaxPromptChars <= 0 {
		return fmt.Errorf("max prompt chars must be positive, got %d", c.Limits.MaxPromptChars)
	}
	if c.Upstream.MaxTokens <= 0 {
		return fmt.Errorf("upstream max tokens must be positive, got %d", c.Upstream.MaxTokens)
	}
	if c.Upstream.Model == "" {
		return errors.New("upstream model must not be empty")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream base url %q must be an absolute http(s) URL", c.Upstream.BaseURL)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format %q must be text or json", c.Log.Format)
	}
	return nil
}
