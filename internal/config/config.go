package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/pos-sync/pkg/messaging/redis"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	// HealthPort serves the worker's liveness and metrics endpoints.
	HealthPort int `mapstructure:"health_port"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN prefers the URL when set.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type IntegrationConfig struct {
	// Secret is shared with the CRM for webhook signatures and tokens both ways.
	Secret     string `mapstructure:"secret"`
	CRMBaseURL string `mapstructure:"crm_base_url"`
	Issuer     string `mapstructure:"issuer"`
	// InboundIssuer is the iss claim expected on CRM calls to the integration API.
	InboundIssuer string        `mapstructure:"inbound_issuer"`
	Timeout       time.Duration `mapstructure:"timeout"`
	TenantTTL     time.Duration `mapstructure:"tenant_ttl"`
}

type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	StuckAfter      time.Duration `mapstructure:"stuck_after"`
	CleanupAfter    time.Duration `mapstructure:"cleanup_after"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// PullInterval schedules the CRM customer pull. Zero disables it.
	PullInterval time.Duration `mapstructure:"pull_interval"`
	// RequestRate caps outbound CRM calls per second.
	RequestRate float64 `mapstructure:"request_rate"`
	RequestBurst int    `mapstructure:"request_burst"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

func (c *RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// envOverrides are the deployment variables honoured on top of the file.
type envOverrides struct {
	IntegrationSecret string `envconfig:"INTEGRATION_SECRET"`
	CRMBaseURL        string `envconfig:"CRM_BASE_URL"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	RedisURL          string `envconfig:"REDIS_URL"`
	AdminToken        string `envconfig:"ADMIN_TOKEN"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	Port              int    `envconfig:"PORT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "pos")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("integration.crm_base_url", "http://localhost:3000")
	v.SetDefault("integration.issuer", "ayende-pos")
	v.SetDefault("integration.inbound_issuer", "ayende-crm")
	v.SetDefault("integration.timeout", 10*time.Second)
	v.SetDefault("integration.tenant_ttl", 5*time.Minute)

	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.poll_interval", 60*time.Second)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.backoff_base", time.Minute)
	v.SetDefault("sync.backoff_max", time.Hour)
	v.SetDefault("sync.job_timeout", 30*time.Second)
	v.SetDefault("sync.stuck_after", 30*time.Minute)
	v.SetDefault("sync.cleanup_after", 7*24*time.Hour)
	v.SetDefault("sync.cleanup_interval", 24*time.Hour)
	v.SetDefault("sync.pull_interval", 30*time.Minute)
	v.SetDefault("sync.request_rate", 10.0)
	v.SetDefault("sync.request_burst", 1)

	v.SetDefault("redis.channel", "sync-events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50.0)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual locations when present, then
// applies environment overrides. A missing file is not an error.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")
	v.AddConfigPath("/app/config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	if env.IntegrationSecret != "" {
		c.Integration.Secret = env.IntegrationSecret
	}
	if env.CRMBaseURL != "" {
		c.Integration.CRMBaseURL = env.CRMBaseURL
	}
	if env.DatabaseURL != "" {
		c.Database.URL = env.DatabaseURL
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.AdminToken != "" {
		c.Admin.Token = env.AdminToken
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	return nil
}
