// Package config provides the Viper-backed configuration for the overlay.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lauralex/PerformanceMonitorWidget/internal/perfmon"
)

// Configuration keys and defaults.
const (
	KeyFrameInterval = "overlay.frame_interval"
	KeyHistorySize   = "overlay.history_size"
	KeyNamespace     = "monitor.namespace"
	KeyQueryTimeout  = "monitor.query_timeout"
	KeyLogLevel      = "log.level"

	envPrefix = "PERFOVERLAY"
)

// Config wraps a Viper instance with nil-safe typed accessors.
type Config struct {
	v *viper.Viper
}

// New wraps an existing Viper instance. A nil Viper yields a Config that
// returns zero values.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load builds the overlay configuration: defaults, then an optional YAML
// file, then PERFOVERLAY_* environment overrides. An empty path searches the
// working directory for perfoverlay.yaml and tolerates its absence; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("perfoverlay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return New(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyFrameInterval, time.Second)
	v.SetDefault(KeyHistorySize, 90)
	v.SetDefault(KeyNamespace, perfmon.DefaultNamespace)
	v.SetDefault(KeyQueryTimeout, time.Second)
	v.SetDefault(KeyLogLevel, "info")
}

// GetString returns the string value for key.
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the int value for key.
func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the bool value for key.
func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for key.
func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// IsSet reports whether key has a value.
func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the configuration subtree under key. Never nil.
func (c *Config) Sub(key string) *Config {
	if c.v == nil {
		return New(nil)
	}
	return New(c.v.Sub(key))
}

// Unmarshal decodes the configuration into target.
func (c *Config) Unmarshal(target interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

// FrameInterval returns the overlay sampling cadence.
func (c *Config) FrameInterval() time.Duration { return c.GetDuration(KeyFrameInterval) }

// HistorySize returns the CPU trend chart capacity.
func (c *Config) HistorySize() int { return c.GetInt(KeyHistorySize) }

// Namespace returns the instrumentation namespace.
func (c *Config) Namespace() string { return c.GetString(KeyNamespace) }

// QueryTimeout returns the per-query first-row wait bound.
func (c *Config) QueryTimeout() time.Duration { return c.GetDuration(KeyQueryTimeout) }

// LogLevel returns the configured zap level name.
func (c *Config) LogLevel() string { return c.GetString(KeyLogLevel) }
