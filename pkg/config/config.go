package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal container images

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Outbox backends supported by the sync agent.
const (
	OutboxBackendFile   = "file"
	OutboxBackendRedis  = "redis"
	OutboxBackendMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Notifications NotificationsConfig
	Outbox        OutboxConfig
	Sync          SyncConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// NotificationsConfig tunes bulk notification fan-out.
type NotificationsConfig struct {
	StaggerStep time.Duration
	ClaimTTL    time.Duration
	// Timezone is the school's local zone; attendance event dates are days in it.
	Timezone *time.Location
}

// OutboxConfig selects where the sync agent keeps pending attendance batches.
type OutboxConfig struct {
	Backend  string
	FilePath string
	RedisKey string
}

// SyncConfig configures the sync agent talking to the API gateway.
type SyncConfig struct {
	AgentID        string
	AgentPort      int
	APIBaseURL     string
	APIToken       string
	ProbeURL       string
	ProbeInterval  time.Duration
	RequestTimeout time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		CacheTTL: parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Notifications = NotificationsConfig{
		StaggerStep: parseDuration(v.GetString("NOTIFY_STAGGER_STEP"), 50*time.Millisecond),
		ClaimTTL:    parseDuration(v.GetString("NOTIFY_CLAIM_TTL"), 10*time.Minute),
	}
	tz, err := time.LoadLocation(strings.TrimSpace(v.GetString("SCHOOL_TIMEZONE")))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHOOL_TIMEZONE: %w", err)
	}
	cfg.Notifications.Timezone = tz

	backend := strings.ToLower(strings.TrimSpace(v.GetString("OUTBOX_BACKEND")))
	switch backend {
	case OutboxBackendFile, OutboxBackendRedis, OutboxBackendMemory:
	default:
		backend = OutboxBackendFile
	}
	cfg.Outbox = OutboxConfig{
		Backend:  backend,
		FilePath: v.GetString("OUTBOX_FILE_PATH"),
		RedisKey: v.GetString("OUTBOX_REDIS_KEY"),
	}

	cfg.Sync = SyncConfig{
		AgentID:        v.GetString("SYNC_AGENT_ID"),
		AgentPort:      v.GetInt("AGENT_PORT"),
		APIBaseURL:     strings.TrimRight(v.GetString("SYNC_API_BASE_URL"), "/"),
		APIToken:       v.GetString("SYNC_API_TOKEN"),
		ProbeURL:       v.GetString("SYNC_PROBE_URL"),
		ProbeInterval:  parseDuration(v.GetString("SYNC_PROBE_INTERVAL"), 15*time.Second),
		RequestTimeout: parseDuration(v.GetString("SYNC_REQUEST_TIMEOUT"), 10*time.Second),
		RetryDelay:     parseDuration(v.GetString("SYNC_RETRY_DELAY"), 30*time.Second),
		MaxRetries:     v.GetInt("SYNC_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "admin_panel_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "sma-attendance-sync")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("NOTIFY_STAGGER_STEP", "50ms")
	v.SetDefault("NOTIFY_CLAIM_TTL", "10m")
	v.SetDefault("SCHOOL_TIMEZONE", "UTC")

	v.SetDefault("OUTBOX_BACKEND", OutboxBackendFile)
	v.SetDefault("OUTBOX_FILE_PATH", "./data/attendance_outbox_v1.json")
	v.SetDefault("OUTBOX_REDIS_KEY", "attendance_outbox_v1")

	v.SetDefault("SYNC_AGENT_ID", "sync-agent")
	v.SetDefault("AGENT_PORT", 8090)
	v.SetDefault("SYNC_API_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("SYNC_API_TOKEN", "")
	v.SetDefault("SYNC_PROBE_URL", "http://localhost:8080/health")
	v.SetDefault("SYNC_PROBE_INTERVAL", "15s")
	v.SetDefault("SYNC_REQUEST_TIMEOUT", "10s")
	v.SetDefault("SYNC_RETRY_DELAY", "30s")
	v.SetDefault("SYNC_MAX_RETRIES", 3)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
