package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Slack         SlackConfig
	Database      DatabaseConfig
	AI            AIConfig
	Schema        SchemaConfig
	Guard         GuardConfig
	History       HistoryConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type SlackConfig struct {
	BotToken     string
	AppToken     string
	Debug        bool
	DrainTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	// Temperature is nil unless ASKDB_AI_TEMPERATURE is set, leaving the
	// provider default in place.
	Temperature *float64
	Timeout     time.Duration
}

type SchemaConfig struct {
	CacheTTL time.Duration
}

type GuardConfig struct {
	ReadOnly bool
}

type HistoryConfig struct {
	Enabled bool
	DSN     string
}

type ArchiveConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	BatchSize        int
	FlushInterval    time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, &cfg.Service.Name, "ASKDB_SERVICE_NAME") },
		func() error { return applyString(lookup, &cfg.HTTP.Address, "ASKDB_HTTP_ADDR") },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, &cfg.Slack.BotToken, "ASKDB_SLACK_BOT_TOKEN", "SLACK_BOT_TOKEN") },
		func() error { return applyString(lookup, &cfg.Slack.AppToken, "ASKDB_SLACK_APP_TOKEN", "SLACK_APP_TOKEN") },
		func() error { return applyBool(lookup, "ASKDB_SLACK_DEBUG", &cfg.Slack.Debug) },
		func() error { return applyDuration(lookup, "ASKDB_SLACK_DRAIN_TIMEOUT", &cfg.Slack.DrainTimeout) },
		func() error { return applyString(lookup, &cfg.Database.DSN, "ASKDB_DATABASE_DSN", "DATABASE_URL") },
		func() error { return applyInt(lookup, "ASKDB_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKDB_DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "ASKDB_DATABASE_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "ASKDB_DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, &cfg.AI.Provider, "ASKDB_AI_PROVIDER") },
		func() error { return applyString(lookup, &cfg.AI.BaseURL, "ASKDB_AI_BASE_URL") },
		func() error { return applyString(lookup, &cfg.AI.APIKey, "ASKDB_AI_API_KEY", "OPENAI_API_KEY") },
		func() error { return applyString(lookup, &cfg.AI.Model, "ASKDB_AI_MODEL") },
		func() error { return applyOptionalFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyDuration(lookup, "ASKDB_SCHEMA_CACHE_TTL", &cfg.Schema.CacheTTL) },
		func() error { return applyBool(lookup, "ASKDB_GUARD_READ_ONLY", &cfg.Guard.ReadOnly) },
		func() error { return applyBool(lookup, "ASKDB_HISTORY_ENABLED", &cfg.History.Enabled) },
		func() error { return applyString(lookup, &cfg.History.DSN, "ASKDB_HISTORY_DSN") },
		func() error { return applyBool(lookup, "ASKDB_ARCHIVE_ENABLED", &cfg.Archive.Enabled) },
		func() error { return applyString(lookup, &cfg.Archive.Endpoint, "ASKDB_ARCHIVE_ENDPOINT") },
		func() error { return applyString(lookup, &cfg.Archive.Region, "ASKDB_ARCHIVE_REGION") },
		func() error { return applyString(lookup, &cfg.Archive.Bucket, "ASKDB_ARCHIVE_BUCKET") },
		func() error { return applyString(lookup, &cfg.Archive.AccessKeyID, "ASKDB_ARCHIVE_ACCESS_KEY") },
		func() error { return applyString(lookup, &cfg.Archive.SecretAccessKey, "ASKDB_ARCHIVE_SECRET_KEY") },
		func() error { return applyBool(lookup, "ASKDB_ARCHIVE_USE_SSL", &cfg.Archive.UseSSL) },
		func() error { return applyString(lookup, &cfg.Archive.Prefix, "ASKDB_ARCHIVE_PREFIX") },
		func() error { return applyBool(lookup, "ASKDB_ARCHIVE_AUTO_CREATE_BUCKET", &cfg.Archive.AutoCreateBucket) },
		func() error { return applyInt(lookup, "ASKDB_ARCHIVE_BATCH_SIZE", &cfg.Archive.BatchSize) },
		func() error { return applyDuration(lookup, "ASKDB_ARCHIVE_FLUSH_INTERVAL", &cfg.Archive.FlushInterval) },
		func() error { return applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "ASKDB_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, &cfg.Auth.StaticKeys, "ASKDB_AUTH_STATIC_KEYS") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.AI.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.Schema.CacheTTL < 0 {
		return Config{}, fmt.Errorf("invalid ASKDB_SCHEMA_CACHE_TTL: must not be negative")
	}
	if cfg.Archive.BatchSize <= 0 {
		return Config{}, fmt.Errorf("invalid ASKDB_ARCHIVE_BATCH_SIZE: must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-bot"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		AI: AIConfig{
			Provider: ProviderOpenAI,
			Timeout:  60 * time.Second,
		},
		Archive: ArchiveConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askdb",
			Prefix:           "history",
			AutoCreateBucket: true,
			BatchSize:        100,
			FlushInterval:    time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Guard.ReadOnly = true
		cfg.Archive.UseSSL = true
		cfg.Archive.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// applyString sets dst from the first key present; later keys are fallbacks.
func applyString(lookup LookupFunc, dst *string, keys ...string) error {
	for _, key := range keys {
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		*dst = strings.TrimSpace(raw)
		return nil
	}
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyOptionalFloat(lookup LookupFunc, key string, dst **float64) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = &value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
