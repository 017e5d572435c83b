// Package config loads service configuration from YAML files and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Dispatch      DispatchConfig      `koanf:"dispatch"`
	Notifications NotificationsConfig `koanf:"notifications"`
	JWT           JWTConfig           `koanf:"jwt"`
	CORS          CORSConfig          `koanf:"cors"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// RedisConfig holds the geo index backend settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DispatchConfig controls nearest-service selection and fan-out.
type DispatchConfig struct {
	RadiusMeters  int           `koanf:"radius_meters"`
	MaxServices   int           `koanf:"max_services"`
	FanoutTimeout time.Duration `koanf:"fanout_timeout"`
	WaitForFanout bool          `koanf:"wait_for_fanout"`
}

// NotificationsConfig holds outbound channel settings.
type NotificationsConfig struct {
	SMS   SMSConfig   `koanf:"sms"`
	Email EmailConfig `koanf:"email"`
	Push  PushConfig  `koanf:"push"`
}

// SMSConfig holds SMS carrier API settings.
type SMSConfig struct {
	Enabled   bool          `koanf:"enabled"`
	APIURL    string        `koanf:"api_url"`
	APIKey    string        `koanf:"api_key"`
	From      string        `koanf:"from"`
	RateLimit float64       `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// PushConfig holds push gateway webhook settings.
type PushConfig struct {
	Enabled    bool          `koanf:"enabled"`
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// JWTConfig holds token validation settings. Tokens are issued by the
// identity collaborator; this service only verifies them.
type JWTConfig struct {
	SecretKey string `koanf:"secret_key"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// envPrefix is the prefix for environment variable overrides. Double
// underscore separates nesting levels so snake_case keys survive, e.g.
// SOSD_DATABASE__URL overrides database.url and
// SOSD_DISPATCH__RADIUS_METERS overrides dispatch.radius_meters.
const envPrefix = "SOSD_"

// Load reads configuration from an optional YAML file and the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if c.Dispatch.MaxServices <= 0 {
		return fmt.Errorf("dispatch.max_services must be positive")
	}
	if c.Dispatch.RadiusMeters <= 0 {
		return fmt.Errorf("dispatch.radius_meters must be positive")
	}
	return nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        "15s",
		"server.read_header_timeout": "5s",
		"server.write_timeout":       "30s",
		"server.idle_timeout":        "60s",

		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "30m",
		"database.connect_timeout":   "30s",
		"database.connect_attempts":  5,
		"database.migrate_on_start":  true,

		"redis.addr": "localhost:6379",
		"redis.db":   0,

		"dispatch.radius_meters":   5000,
		"dispatch.max_services":    3,
		"dispatch.fanout_timeout":  "10s",
		"dispatch.wait_for_fanout": true,

		"notifications.sms.rate_limit":  10.0,
		"notifications.sms.timeout":     "10s",
		"notifications.email.smtp_port": 587,
		"notifications.push.timeout":    "10s",

		"cors.allowed_origins": []string{"*"},

		"log.level":  "info",
		"log.format": "json",
	}
}
