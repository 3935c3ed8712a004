package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Logging LoggingConfig    `mapstructure:"logging"`
	Storage StorageConfig    `mapstructure:"storage"`
	Engine  EngineConfig     `mapstructure:"engine"`
	Policy  PolicyConfig     `mapstructure:"policy"`
	Targets []targets.Target `mapstructure:"targets"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Source  SourceConfig     `mapstructure:"source"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis" or "bolt"
	Redis RedisConfig `mapstructure:"redis"`
	Bolt  BoltConfig  `mapstructure:"bolt"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BoltConfig defines the embedded bbolt backend
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig defines session validity thresholds and queueing
type EngineConfig struct {
	MinTimeSpent      string `mapstructure:"min_time_spent"`
	MinScrollCount    int    `mapstructure:"min_scroll_count"`
	MinScrollsBlocked int    `mapstructure:"min_scrolls_blocked"`
	QueueSize         int    `mapstructure:"queue_size"`
	NotifyMessage     string `mapstructure:"notify_message"`
}

// PolicyConfig defines where per-group block flags come from
type PolicyConfig struct {
	Source         string          `mapstructure:"source"` // "static", "store" or "opa"
	Blocked        map[string]bool `mapstructure:"blocked"`
	OPAPolicyDir   string          `mapstructure:"opa_policy_dir"`
	RefreshTimeout string          `mapstructure:"refresh_timeout"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// SourceConfig defines the host event stream
type SourceConfig struct {
	Input  string `mapstructure:"input"`  // path to NDJSON events, "-" for stdin
	Output string `mapstructure:"output"` // path for host commands, "-" for stdout
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCROLLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// asNotFound reports whether err means the config file is absent. viper
// returns ConfigFileNotFoundError only when searching paths; with an explicit
// file it surfaces the os error instead.
func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return os.IsNotExist(err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.bolt.path", "/var/lib/scrollguard/usage.bolt")

	// Engine defaults
	v.SetDefault("engine.min_time_spent", "5s")
	v.SetDefault("engine.min_scroll_count", 3)
	v.SetDefault("engine.min_scrolls_blocked", 1)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.notify_message", "Feature Blocked")

	// Policy defaults
	v.SetDefault("policy.source", "static")
	v.SetDefault("policy.blocked", map[string]bool{})
	v.SetDefault("policy.opa_policy_dir", "/etc/scrollguard/policies")
	v.SetDefault("policy.refresh_timeout", "2s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9464)

	// Source defaults
	v.SetDefault("source.input", "-")
	v.SetDefault("source.output", "-")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "redis"
	case "redis", "bolt":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "bolt" {
		if cfg.Storage.Bolt.Path == "" {
			return fmt.Errorf("storage.bolt.path is required")
		}
		// Ensure storage directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Bolt.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	switch cfg.Policy.Source {
	case "static", "store", "opa":
	default:
		return fmt.Errorf("unsupported policy source: %s", cfg.Policy.Source)
	}

	if cfg.Engine.MinScrollCount < 0 || cfg.Engine.MinScrollsBlocked < 0 {
		return fmt.Errorf("engine thresholds must not be negative")
	}
	if cfg.Engine.QueueSize <= 0 {
		return fmt.Errorf("invalid engine queue size: %d", cfg.Engine.QueueSize)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	// Normalize policy group keys; viper lowercases map keys from files but
	// not from SetDefault or env.
	blocked := make(map[string]bool, len(cfg.Policy.Blocked))
	for group, on := range cfg.Policy.Blocked {
		blocked[strings.ToLower(group)] = on
	}
	cfg.Policy.Blocked = blocked

	return nil
}

// Registry builds the target registry: built-in defaults plus configured overrides.
func (c *Config) Registry() (*targets.Registry, error) {
	list := append(targets.Defaults(), c.Targets...)
	return targets.NewRegistry(list...)
}
