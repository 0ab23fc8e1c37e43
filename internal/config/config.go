// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Component identifies which of the five deployable roles this process
// instance is running as.
type Component string

const (
	ComponentWeb         Component = "web"
	ComponentBancho      Component = "bancho"
	ComponentAPI         Component = "api"
	ComponentRecalc      Component = "recalculation-terminal"
	ComponentCleanup     Component = "cleanup"
)

// Config holds application configuration values loaded from file or
// environment variables.
type Config struct {
	Component Component `mapstructure:"APP_COMPONENT"`
	Env       string    `mapstructure:"APP_ENV"`
	Port      string    `mapstructure:"PORT"`

	DatabaseDSN string `mapstructure:"DATABASE_DSN"`
	DBSSLMode   string `mapstructure:"DB_SSLMODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	ServerURL       string `mapstructure:"SERVER_URL"`
	TokenHMACSecret string `mapstructure:"TOKEN_HMAC_SECRET"`

	AlertDiscordWebhook string `mapstructure:"ALERT_DISCORD_WEBHOOK"`
	ListingKey          string `mapstructure:"LISTING_KEY"`

	BeatmapMirrorURL string `mapstructure:"BEATMAP_MIRROR_URL"`
	OfficialUpdateURL string `mapstructure:"OFFICIAL_UPDATE_URL"`
	DataDir          string `mapstructure:"DATA_DIR"`

	DBMaxOpenConns           int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	TracingEnabled         bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter        string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint           string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName        string  `mapstructure:"OTEL_SERVICE_NAME"`
	OTELTracesSamplerRatio float64 `mapstructure:"OTEL_TRACES_SAMPLER_RATIO"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	CleanupIntervalSeconds int `mapstructure:"CLEANUP_INTERVAL_SECONDS"`
	PresenceTimeoutSeconds int `mapstructure:"PRESENCE_TIMEOUT_SECONDS"`

	DebugMode bool `mapstructure:"DEBUG_MODE"`
}

// LoadConfig loads application configuration from file and environment
// variables, the way the teacher's config package does — a base
// config.yml plus an optional APP_ENV-specific overlay, both overridable
// by the process environment.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("no profile-specific config 'config.%s.yml' found, continuing with env/defaults: %v", env, err)
		}
	}

	viper.SetDefault("APP_COMPONENT", "bancho")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_DSN", "host=localhost port=5432 user=dub password=dub dbname=dub sslmode=disable")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("SERVER_URL", "http://localhost:8080")
	viper.SetDefault("TOKEN_HMAC_SECRET", "dev-secret-change-in-production-0000")
	viper.SetDefault("ALERT_DISCORD_WEBHOOK", "")
	viper.SetDefault("LISTING_KEY", "")
	viper.SetDefault("BEATMAP_MIRROR_URL", "https://api.chimu.moe")
	viper.SetDefault("OFFICIAL_UPDATE_URL", "https://osu.ppy.sh")
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("OTEL_SERVICE_NAME", "dub-bancho")
	viper.SetDefault("OTEL_TRACES_SAMPLER_RATIO", 1.0)
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("CLEANUP_INTERVAL_SECONDS", 30)
	viper.SetDefault("PRESENCE_TIMEOUT_SECONDS", 60)
	viper.SetDefault("DEBUG_MODE", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate enforces the invariants the runtime depends on, matching
// production-hardening checks the same way the teacher's config does.
func (c *Config) Validate() error {
	switch c.Component {
	case ComponentWeb, ComponentBancho, ComponentAPI, ComponentRecalc, ComponentCleanup:
	default:
		return fmt.Errorf("APP_COMPONENT must be one of web|bancho|api|recalculation-terminal|cleanup, got %q", c.Component)
	}
	if c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if c.TokenHMACSecret == "" {
		return errors.New("TOKEN_HMAC_SECRET is required")
	}
	if c.DBMaxOpenConns < 0 || c.DBMaxIdleConns < 0 || c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB pool settings must be >= 0")
	}
	if c.DBMaxOpenConns > 0 && c.DBMaxIdleConns > c.DBMaxOpenConns {
		return errors.New("DB_MAX_IDLE_CONNS cannot be greater than DB_MAX_OPEN_CONNS")
	}
	if c.PresenceTimeoutSeconds <= 0 {
		c.PresenceTimeoutSeconds = 60
	}
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 30
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}

	isProduction := strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
	if isProduction {
		if len(c.TokenHMACSecret) < 32 {
			return errors.New("TOKEN_HMAC_SECRET must be at least 32 characters in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production (identity cache, presence liveness and leaderboards depend on it)")
		}
		if c.DebugMode {
			return errors.New("DEBUG_MODE must not be enabled in production")
		}
	} else if len(c.TokenHMACSecret) < 32 {
		log.Println("WARNING: TOKEN_HMAC_SECRET is shorter than 32 characters; use a stronger secret in production.")
	}

	return nil
}

// IsDebug reports whether credential verification may take the
// always-true debug shortcut described in §4.2 — gated on both the
// environment and the explicit debug flag so it can never be enabled
// accidentally in production (Validate rejects DebugMode in prod).
func (c *Config) IsDebug() bool {
	return c.DebugMode && !strings.EqualFold(c.Env, "production")
}
