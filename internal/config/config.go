package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	NotifyMemory   = "memory"
	NotifyPostgres = "postgres"
	NotifyRedis    = "redis"
)

type Config struct {
	Environment    string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr       string        `mapstructure:"HTTP_ADDR"`
	DBDSN          string        `mapstructure:"DB_DSN"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	NotifyBackend  string        `mapstructure:"NOTIFY_BACKEND"`
	NotifyChannel  string        `mapstructure:"NOTIFY_CHANNEL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	TelegramToken  string        `mapstructure:"TELEGRAM_TOKEN"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	TokenTTL       time.Duration `mapstructure:"TOKEN_TTL"`
	RequestTTL     time.Duration `mapstructure:"REQUEST_TTL"`
	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL"`
	MigrationsPath string        `mapstructure:"MIGRATIONS_PATH"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "HTTP_ADDR", "DB_DSN", "STORE_BACKEND", "NOTIFY_BACKEND",
	"NOTIFY_CHANNEL", "REDIS_ADDR", "TELEGRAM_TOKEN", "JWT_SECRET", "JWT_ISSUER",
	"TOKEN_TTL", "REQUEST_TTL", "SWEEP_INTERVAL", "MIGRATIONS_PATH",
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetTypeByDefaultValue(true)
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("STORE_BACKEND", StorePostgres)
	v.SetDefault("NOTIFY_BACKEND", NotifyMemory)
	v.SetDefault("NOTIFY_CHANNEL", "session_requests")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("TELEGRAM_TOKEN", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "tutor_session")
	v.SetDefault("TOKEN_TTL", 24*time.Hour)
	v.SetDefault("REQUEST_TTL", 2*time.Minute)
	v.SetDefault("SWEEP_INTERVAL", 15*time.Second)
	v.SetDefault("MIGRATIONS_PATH", "migrations")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	return v
}

// Load reads configuration from the environment, after loading .env when present
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем, если файла нет)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	return FromViper(newViper())
}

// FromViper decodes and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.NotifyBackend = strings.ToLower(cfg.NotifyBackend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for the %s store", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.NotifyBackend {
	case NotifyMemory:
	case NotifyPostgres:
		if c.StoreBackend != StorePostgres {
			return fmt.Errorf("NOTIFY_BACKEND=%s requires STORE_BACKEND=%s", NotifyPostgres, StorePostgres)
		}
	case NotifyRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the %s notifier", NotifyRedis)
		}
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.NotifyBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set")
	}

	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	for name, d := range map[string]time.Duration{
		"TOKEN_TTL":      c.TokenTTL,
		"REQUEST_TTL":    c.RequestTTL,
		"SWEEP_INTERVAL": c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// TelegramEnabled reports whether the bot transport should start
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}
