// Package config loads uplink settings from defaults, an optional YAML file
// and UPLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. UPLINK_SERVER_URL.
const EnvPrefix = "UPLINK"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Uplink UplinkConfig `mapstructure:"uplink"`
	Source SourceConfig `mapstructure:"source"`
	Admin  AdminConfig  `mapstructure:"admin"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	URL              string        `mapstructure:"url"`
	ClientType       string        `mapstructure:"client_type"`
	ClientHeader     string        `mapstructure:"client_header"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type UplinkConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type SourceConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisKey   string `mapstructure:"redis_key"`
}

// AdminConfig controls the local diagnostics API. An empty ListenAddr
// disables it.
type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "ws://10.0.2.2:8090")
	v.SetDefault("server.client_type", "wearOS")
	v.SetDefault("server.client_header", "websocket_client_type")
	v.SetDefault("server.handshake_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("uplink.interval", 2*time.Second)
	v.SetDefault("uplink.max_retries", 10)
	v.SetDefault("source.driver", "sqlite")
	v.SetDefault("source.sqlite_path", "exercise.db")
	v.SetDefault("source.redis_addr", "localhost:6379")
	v.SetDefault("source.redis_key", "exercise:snapshots")
	v.SetDefault("admin.listen_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	u, err := url.Parse(c.Server.URL)
	switch {
	case err != nil:
		errs = multierr.Append(errs, fmt.Errorf("config: server.url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = multierr.Append(errs, fmt.Errorf("config: server.url %q must use ws or wss", c.Server.URL))
	case u.Host == "":
		errs = multierr.Append(errs, fmt.Errorf("config: server.url %q has no host", c.Server.URL))
	}
	if c.Uplink.Interval <= 0 {
		errs = multierr.Append(errs, errors.New("config: uplink.interval must be positive"))
	}
	if c.Uplink.MaxRetries < 0 {
		errs = multierr.Append(errs, errors.New("config: uplink.max_retries must not be negative"))
	}
	switch c.Source.Driver {
	case "sqlite":
		if c.Source.SQLitePath == "" {
			errs = multierr.Append(errs, errors.New("config: source.sqlite_path required for sqlite"))
		}
	case "redis":
		if c.Source.RedisAddr == "" {
			errs = multierr.Append(errs, errors.New("config: source.redis_addr required for redis"))
		}
	case "memory":
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unknown source.driver %q", c.Source.Driver))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	return errs
}

// Logger builds the process logger described by c.Log.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
