package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddress  string        `envconfig:"SERVER_ADDRESS" default:":8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	CORSOrigins    []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	MongoURI      string `envconfig:"MONGO_URI" required:"true"`
	MongoDB       string `envconfig:"MONGO_DB" default:"youtube-search"`
	MongoForceTLS bool   `envconfig:"MONGO_FORCE_TLS12" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiration time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`
	// Comma separated email:bcrypt-hash pairs.
	AdminAccounts  string `envconfig:"ADMIN_ACCOUNTS"`
	InternalAPIKey string `envconfig:"INTERNAL_API_KEY"`

	DefaultDailyLimit  int           `envconfig:"DEFAULT_DAILY_LIMIT" default:"15"`
	ActivateDailyLimit int           `envconfig:"ACTIVATE_DAILY_LIMIT" default:"20"`
	OnlineThreshold    time.Duration `envconfig:"ONLINE_THRESHOLD" default:"5m"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	LoginRateLimit  int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
	LoginRateWindow time.Duration `envconfig:"LOGIN_RATE_WINDOW" default:"15m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.DefaultDailyLimit < 0 || cfg.ActivateDailyLimit < 0 {
		return nil, fmt.Errorf("daily limits must be >= 0")
	}
	if cfg.LoginRateLimit <= 0 || cfg.LoginRateWindow <= 0 {
		return nil, fmt.Errorf("login rate limit and window must be positive")
	}
	return &cfg, nil
}

// Admins parses AdminAccounts into an email -> bcrypt hash map.
func (c *Config) Admins() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(c.AdminAccounts) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.AdminAccounts, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, hash, ok := strings.Cut(pair, ":")
		if !ok || email == "" || hash == "" {
			return nil, fmt.Errorf("invalid admin account entry %q", pair)
		}
		out[strings.ToLower(strings.TrimSpace(email))] = strings.TrimSpace(hash)
	}
	return out, nil
}

// MigrateConfig is the subset of settings the migration command needs.
type MigrateConfig struct {
	MongoURI          string `envconfig:"MONGO_URI" required:"true"`
	MongoDB           string `envconfig:"MONGO_DB" default:"youtube-search"`
	MongoForceTLS     bool   `envconfig:"MONGO_FORCE_TLS12" default:"false"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty         bool   `envconfig:"LOG_PRETTY" default:"false"`
	DefaultDailyLimit int    `envconfig:"DEFAULT_DAILY_LIMIT" default:"15"`
}

func LoadMigrate() (*MigrateConfig, error) {
	var cfg MigrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.DefaultDailyLimit < 0 {
		return nil, fmt.Errorf("daily limits must be >= 0")
	}
	return &cfg, nil
}
