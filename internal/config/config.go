package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres: user directory storage
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// redis: request rate limiting
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	PrometheusMetricsHost string `toml:"prom_metrics_host"`
	PrometheusMetricsPort string `toml:"prom_metrics_port"`

	// upstream inference services
	InferenceBaseURL    string `toml:"inference_base_url"`
	PdfInferenceBaseURL string `toml:"pdf_inference_base_url"`

	// token lifetimes
	TokenExpirationMinutes     int `toml:"token_expiration_minutes"`
	RefreshTokenExpirationDays int `toml:"refresh_token_expiration_days"`

	// per-minute request limits
	ChatRateLimitPerMin         int `toml:"chat_rate_limit_per_min"`
	SpeechRateLimitPerMin       int `toml:"speech_rate_limit_per_min"`
	LoginRateLimitAllowedPerMin int `toml:"login_rate_limit_per_min"`

	DefaultAdminUsername string `toml:"default_admin_username"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	var tomlCfg Toml
	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := tomlCfg.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env %s missing", env)
	}

	cfg.Environment = env
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TokenExpirationMinutes <= 0 {
		c.TokenExpirationMinutes = 1440
	}
	if c.RefreshTokenExpirationDays <= 0 {
		c.RefreshTokenExpirationDays = 7
	}
	if c.ChatRateLimitPerMin <= 0 {
		c.ChatRateLimitPerMin = 100
	}
	if c.SpeechRateLimitPerMin <= 0 {
		c.SpeechRateLimitPerMin = 5
	}
	if c.LoginRateLimitAllowedPerMin <= 0 {
		c.LoginRateLimitAllowedPerMin = 15
	}
	if c.DefaultAdminUsername == "" {
		c.DefaultAdminUsername = "admin"
	}
}
