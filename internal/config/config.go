package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse naturally
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a plain number of seconds
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UpstreamConfig describes how to reach the chat upstream
type UpstreamConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Token          string   `yaml:"token"`
	AnonymousToken bool     `yaml:"anonymous_token"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	TokenTimeout   Duration `yaml:"token_timeout"`
	RetryCount     int      `yaml:"retry_count"`
	RetryBackoff   Duration `yaml:"retry_backoff"`
}

// Config is the full server configuration
type Config struct {
	Listen            string         `yaml:"listen"`
	APIKey            string         `yaml:"api_key"`
	LogLevel          string         `yaml:"log_level"`
	Debug             bool           `yaml:"debug"`
	DefaultModel      string         `yaml:"default_model"`
	ThinkMode         string         `yaml:"think_mode"`
	ToolCalling       *bool          `yaml:"enable_tool_calling"`
	ToolScanLimit     int            `yaml:"tool_scan_limit"`
	HeartbeatInterval Duration       `yaml:"heartbeat_interval"`
	Upstream          UpstreamConfig `yaml:"upstream"`
}

var thinkModes = map[string]bool{
	"reasoning": true,
	"think":     true,
	"strip":     true,
	"details":   true,
	"default":   true,
}

// Default returns the built-in configuration
func Default() *Config {
	enabled := true
	return &Config{
		Listen:            ":8080",
		LogLevel:          "info",
		DefaultModel:      "glm-4.5",
		ThinkMode:         "reasoning",
		ToolCalling:       &enabled,
		ToolScanLimit:     200000,
		HeartbeatInterval: Duration(15 * time.Second),
		Upstream: UpstreamConfig{
			BaseURL:        "https://chat.z.ai",
			AnonymousToken: true,
			ConnectTimeout: Duration(30 * time.Second),
			ReadTimeout:    Duration(5 * time.Minute),
			TokenTimeout:   Duration(10 * time.Second),
			RetryCount:     3,
			RetryBackoff:   Duration(500 * time.Millisecond),
		},
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides. An empty path or missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("ZAI2API_LISTEN", &c.Listen)
	envString("ZAI2API_API_KEY", &c.APIKey)
	envString("ZAI2API_LOG_LEVEL", &c.LogLevel)
	envBool("ZAI2API_DEBUG", &c.Debug)
	envString("ZAI2API_DEFAULT_MODEL", &c.DefaultModel)
	envString("ZAI2API_THINK_MODE", &c.ThinkMode)
	envInt("ZAI2API_TOOL_SCAN_LIMIT", &c.ToolScanLimit)
	envDuration("ZAI2API_HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	envString("ZAI2API_UPSTREAM_BASE_URL", &c.Upstream.BaseURL)
	envString("ZAI2API_UPSTREAM_TOKEN", &c.Upstream.Token)
	envInt("ZAI2API_RETRY_COUNT", &c.Upstream.RetryCount)
	envDuration("ZAI2API_RETRY_BACKOFF", &c.Upstream.RetryBackoff)

	if v, ok := os.LookupEnv("ZAI2API_ENABLE_TOOL_CALLING"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ToolCalling = &b
		}
	}
	if v, ok := os.LookupEnv("ZAI2API_ANONYMOUS_TOKEN"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Upstream.AnonymousToken = b
		}
	}
	// A fixed token implies anonymous acquisition is off unless forced back on
	if c.Upstream.Token != "" && os.Getenv("ZAI2API_ANONYMOUS_TOKEN") == "" {
		c.Upstream.AnonymousToken = false
	}
}

func (c *Config) validate() error {
	if !thinkModes[c.ThinkMode] {
		return fmt.Errorf("unknown think_mode %q", c.ThinkMode)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url must not be empty")
	}
	if c.Upstream.RetryCount < 1 {
		c.Upstream.RetryCount = 1
	}
	if c.ToolScanLimit <= 0 {
		c.ToolScanLimit = Default().ToolScanLimit
	}
	if c.HeartbeatInterval.Std() <= 0 {
		c.HeartbeatInterval = Default().HeartbeatInterval
	}
	return nil
}

// ToolCallingEnabled reports whether tool-call handling is on (default true)
func (c *Config) ToolCallingEnabled() bool {
	return c.ToolCalling == nil || *c.ToolCalling
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
