// Package config loads application configuration from defaults, an optional
// YAML file and APP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "APP_"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	JWT      JWTConfig      `koanf:"jwt"`
	CORS     CORSConfig     `koanf:"cors"`
	Telegram TelegramConfig `koanf:"telegram"`
	Poller   PollerConfig   `koanf:"poller"`
	Push     PushConfig     `koanf:"push"`
	Redis    RedisConfig    `koanf:"redis"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	// Migrate applies embedded migrations on startup.
	Migrate bool `koanf:"migrate"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig contains settings for tokens issued by the auth service.
type JWTConfig struct {
	SecretKey             string        `koanf:"secret_key"`
	Issuer                string        `koanf:"issuer"`
	Audience              string        `koanf:"audience"`
	OperatorTokenDuration time.Duration `koanf:"operator_token_duration"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// TelegramConfig contains messaging network settings.
type TelegramConfig struct {
	BotToken   string `koanf:"bot_token"`
	APIURL     string `koanf:"api_url"`
	ProxyURL   string `koanf:"proxy_url"`
	ProxyToken string `koanf:"proxy_token"`
	SOCKS5URL  string `koanf:"socks5_url"`
	// OperatorUID is the identity the engine polls as; its admin status decides the transport.
	OperatorUID    string        `koanf:"operator_uid"`
	RateLimit      float64       `koanf:"rate_limit"`
	RelayRateLimit float64       `koanf:"relay_rate_limit"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// PollerConfig contains channel polling settings.
type PollerConfig struct {
	AutoStart         bool          `koanf:"auto_start"`
	Interval          time.Duration `koanf:"interval"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	DegradedAfter     int           `koanf:"degraded_after"`
	DiscoveryCron     string        `koanf:"discovery_cron"`
	DiscoveryTimeout  time.Duration `koanf:"discovery_timeout"`
}

// PushConfig contains push gateway settings.
type PushConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Endpoint          string        `koanf:"endpoint"`
	ServerKey         string        `koanf:"server_key"`
	RateLimit         float64       `koanf:"rate_limit"`
	Timeout           time.Duration `koanf:"timeout"`
	Workers           int           `koanf:"workers"`
	QueueSize         int           `koanf:"queue_size"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	DrainTimeout      time.Duration `koanf:"drain_timeout"`
}

// RedisConfig contains the dedup cache settings. An empty URL selects the in-memory cache.
type RedisConfig struct {
	URL           string        `koanf:"url"`
	DedupTTL      time.Duration `koanf:"dedup_ttl"`
	DedupCapacity int           `koanf:"dedup_capacity"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        15 * time.Second,
		"server.read_header_timeout": 5 * time.Second,
		"server.write_timeout":       15 * time.Second,
		"server.idle_timeout":        60 * time.Second,

		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": 5 * time.Minute,
		"database.connect_timeout":   30 * time.Second,
		"database.connect_attempts":  5,
		"database.migrate":           true,

		"log.level":  "info",
		"log.format": "json",

		"jwt.operator_token_duration": 15 * time.Minute,

		"cors.allowed_origins": []string{},

		"telegram.rate_limit":       20.0,
		"telegram.relay_rate_limit": 10.0,
		"telegram.request_timeout":  15 * time.Second,

		"poller.auto_start":         true,
		"poller.interval":           5 * time.Second,
		"poller.request_timeout":    15 * time.Second,
		"poller.initial_backoff":    2 * time.Second,
		"poller.max_backoff":        2 * time.Minute,
		"poller.backoff_multiplier": 2.0,
		"poller.degraded_after":     3,
		"poller.discovery_cron":     "@every 10m",
		"poller.discovery_timeout":  30 * time.Second,

		"push.enabled":            false,
		"push.endpoint":           "https://fcm.googleapis.com/fcm/send",
		"push.rate_limit":         50.0,
		"push.timeout":            10 * time.Second,
		"push.workers":            4,
		"push.queue_size":         1000,
		"push.max_attempts":       3,
		"push.initial_backoff":    time.Second,
		"push.max_backoff":        time.Minute,
		"push.backoff_multiplier": 2.0,
		"push.drain_timeout":      10 * time.Second,

		"redis.dedup_ttl":      24 * time.Hour,
		"redis.dedup_capacity": 100000,
	}
}

// Load reads configuration. Precedence from lowest to highest:
// defaults, the YAML file named by CONFIG_PATH, APP_ environment variables.
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// APP_POLLER__DEGRADED_AFTER -> poller.degraded_after
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects configurations the app cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	if c.Telegram.BotToken == "" && c.Telegram.ProxyURL == "" {
		errs = append(errs, errors.New("telegram.bot_token or telegram.proxy_url is required"))
	}

	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Poller.RequestTimeout <= 0 {
		errs = append(errs, errors.New("poller.request_timeout must be positive"))
	}
	if c.Poller.InitialBackoff <= 0 || c.Poller.MaxBackoff < c.Poller.InitialBackoff {
		errs = append(errs, errors.New("poller backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	if c.Poller.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("poller.backoff_multiplier must be at least 1"))
	}
	if c.Poller.DegradedAfter < 1 {
		errs = append(errs, errors.New("poller.degraded_after must be at least 1"))
	}

	if c.Push.Enabled {
		if c.Push.ServerKey == "" {
			errs = append(errs, errors.New("push.server_key is required when push is enabled"))
		}
		if c.Push.Workers < 1 || c.Push.QueueSize < 1 || c.Push.MaxAttempts < 1 {
			errs = append(errs, errors.New("push.workers, push.queue_size and push.max_attempts must be positive"))
		}
	}

	if c.Redis.DedupTTL <= 0 {
		errs = append(errs, errors.New("redis.dedup_ttl must be positive"))
	}

	return errors.Join(errs...)
}
