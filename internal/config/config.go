package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/newsroomate/rundown/internal/logging"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "rundown.yml"

// Environment overrides, read after the file.
const (
	EnvRedisURL       = "REDIS_URL"
	EnvNamespace      = "RUNDOWN_NAMESPACE"
	EnvLogLevel       = "RUNDOWN_LOG_LEVEL"
	EnvClipboardScope = "RUNDOWN_CLIPBOARD_SCOPE"
)

// Config represents the top-level rundown.yml configuration
type Config struct {
	Version   string          `yaml:"version"`
	Namespace string          `yaml:"namespace"` // Key prefix shared by every client of one newsroom
	Redis     RedisConfig     `yaml:"redis"`
	Log       logging.Config  `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RedisConfig locates the backend.
type RedisConfig struct {
	URL string `yaml:"url"` // redis://[:password@]host:port/db
}

// EngineConfig tunes the optimistic engine
type EngineConfig struct {
	RenumberBase   *int   `yaml:"renumber_base,omitempty"`    // First order and page number written by renumber (default 1)
	FirstBlockName string `yaml:"first_block_name,omitempty"` // Name of the block auto-created in an empty rundown
}

// RealtimeConfig tunes echo suppression and the subscription
type RealtimeConfig struct {
	SuppressionTTL time.Duration `yaml:"suppression_ttl,omitempty"`
	MaxRetries     *int          `yaml:"max_retries,omitempty"` // Reconnect attempts before degrading (default 3)
	Backoff        time.Duration `yaml:"backoff,omitempty"`
	OrderTolerance *int          `yaml:"order_tolerance,omitempty"` // How far an insert echo may land from its pending order
}

// ClipboardConfig tunes the transfer state machine
type ClipboardConfig struct {
	Scope           string        `yaml:"scope,omitempty"` // Processes sharing a scope share one clipboard
	Debounce        time.Duration `yaml:"debounce,omitempty"`
	IdleClear       time.Duration `yaml:"idle_clear,omitempty"`
	PasteClearDelay time.Duration `yaml:"paste_clear_delay,omitempty"`
	Expiry          time.Duration `yaml:"expiry,omitempty"`
}

// MetricsConfig controls the /healthz and /metrics listener
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // Empty disables the listener
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Engine.RenumberBase == nil {
		base := 1
		c.Engine.RenumberBase = &base
	}
	if c.Engine.FirstBlockName == "" {
		c.Engine.FirstBlockName = "Bloco 1"
	}
	if c.Realtime.SuppressionTTL == 0 {
		c.Realtime.SuppressionTTL = 1500 * time.Millisecond
	}
	if c.Realtime.MaxRetries == nil {
		retries := 3
		c.Realtime.MaxRetries = &retries
	}
	if c.Realtime.Backoff == 0 {
		c.Realtime.Backoff = 2 * time.Second
	}
	if c.Realtime.OrderTolerance == nil {
		tolerance := 1
		c.Realtime.OrderTolerance = &tolerance
	}
	if c.Clipboard.Scope == "" {
		c.Clipboard.Scope = "default"
	}
	if c.Clipboard.Debounce == 0 {
		c.Clipboard.Debounce = 300 * time.Millisecond
	}
	if c.Clipboard.IdleClear == 0 {
		c.Clipboard.IdleClear = 30 * time.Second
	}
	if c.Clipboard.PasteClearDelay == 0 {
		c.Clipboard.PasteClearDelay = time.Second
	}
	if c.Clipboard.Expiry == 0 {
		c.Clipboard.Expiry = 24 * time.Hour
	}
}

// applyEnv overrides file values with the environment.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		c.Redis.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNamespace)); v != "" {
		c.Namespace = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvClipboardScope)); v != "" {
		c.Clipboard.Scope = v
	}
}

// Validate applies defaults, then performs strict validation on the configuration
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if strings.Contains(c.Namespace, ":") {
		return fmt.Errorf("namespace cannot contain ':', got %q", c.Namespace)
	}
	if strings.Contains(c.Clipboard.Scope, ":") {
		return fmt.Errorf("clipboard.scope cannot contain ':', got %q", c.Clipboard.Scope)
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log.format: %s (must be 'json' or 'console')", c.Log.Format)
	}

	if *c.Engine.RenumberBase < 0 {
		return fmt.Errorf("engine.renumber_base must be >= 0, got %d", *c.Engine.RenumberBase)
	}
	if *c.Realtime.MaxRetries < 0 {
		return fmt.Errorf("realtime.max_retries must be >= 0, got %d", *c.Realtime.MaxRetries)
	}
	if *c.Realtime.OrderTolerance < 0 {
		return fmt.Errorf("realtime.order_tolerance must be >= 0, got %d", *c.Realtime.OrderTolerance)
	}

	for name, d := range map[string]time.Duration{
		"realtime.suppression_ttl":    c.Realtime.SuppressionTTL,
		"realtime.backoff":            c.Realtime.Backoff,
		"clipboard.debounce":          c.Clipboard.Debounce,
		"clipboard.idle_clear":        c.Clipboard.IdleClear,
		"clipboard.paste_clear_delay": c.Clipboard.PasteClearDelay,
		"clipboard.expiry":            c.Clipboard.Expiry,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Clipboard.PasteClearDelay < c.Clipboard.Debounce {
		return fmt.Errorf("clipboard.paste_clear_delay (%s) must not be shorter than clipboard.debounce (%s): a quick second paste would find the clipboard cleared",
			c.Clipboard.PasteClearDelay, c.Clipboard.Debounce)
	}

	return nil
}

// RedisOptions parses the configured URL.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.url: %w", err)
	}
	return opts, nil
}

// Load reads and validates rundown.yml from the specified path.
// A .env file in the working directory is loaded first, and the environment
// overrides the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOptional is Load, except that a missing file yields the defaults
// (environment overrides still apply).
func LoadOptional(path string) (*Config, error) {
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	config = Default()
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
