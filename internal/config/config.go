package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Cache struct {
		// Backend selects where progress snapshots live: postgres or redis.
		Backend        string `mapstructure:"backend"`
		TTLSeconds     int    `mapstructure:"ttl_seconds"`
		CatalogRefresh int    `mapstructure:"catalog_refresh_seconds"`
	} `mapstructure:"cache"`

	Redis struct {
		URL       string `mapstructure:"url"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Sweeper struct {
		Enabled       bool   `mapstructure:"enabled"`
		Every         string `mapstructure:"every"`
		MaxAgeMinutes int    `mapstructure:"max_age_minutes"`
	} `mapstructure:"sweeper"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("sweeper.enabled", true)
	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"server.addr", "server.log_level",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"cache.backend", "cache.ttl_seconds", "cache.catalog_refresh_seconds",
		"redis.url", "redis.key_prefix",
		"sweeper.enabled", "sweeper.every", "sweeper.max_age_minutes",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Listener.Channel == "" { c.Listener.Channel = "campaign_changes" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Cache.Backend == "" { c.Cache.Backend = "postgres" }
	if c.Cache.TTLSeconds <= 0 { c.Cache.TTLSeconds = 300 }
	if c.Cache.CatalogRefresh <= 0 { c.Cache.CatalogRefresh = 60 }
	if c.Redis.KeyPrefix == "" { c.Redis.KeyPrefix = "campaign_progress" }
	if c.Sweeper.Every == "" { c.Sweeper.Every = "10m" }
	if c.Sweeper.MaxAgeMinutes <= 0 { c.Sweeper.MaxAgeMinutes = 5 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLSeconds) * time.Second }

func (c Config) CatalogRefresh() time.Duration {
	return time.Duration(c.Cache.CatalogRefresh) * time.Second
}

func (c Config) SweepMaxAge() time.Duration { return time.Duration(c.Sweeper.MaxAgeMinutes) * time.Minute }
